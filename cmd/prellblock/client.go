package main

import (
	"fmt"

	"github.com/prellblock/prellblock/block"
	"github.com/prellblock/prellblock/config"
	"github.com/prellblock/prellblock/identity"
	"github.com/prellblock/prellblock/turi"
	"github.com/urfave/cli/v2"
)

func dialClient(ctx *cli.Context) (*turi.Client, error) {
	key, err := config.LoadIdentity(ctx.String("identity"))
	if err != nil {
		return nil, err
	}
	return turi.Dial(ctx.String("address"), key)
}

func roundTripPing(client *turi.Client) error {
	resp, err := client.Request(turi.Ping{})
	if err != nil {
		return err
	}
	if _, ok := resp.(turi.Pong); !ok {
		return fmt.Errorf("unexpected reply to ping: %T", resp)
	}
	fmt.Println("pong")
	return nil
}

var submitCommand = &cli.Command{
	Name:      "submit",
	Usage:     "sign and submit a key/value transaction",
	ArgsUsage: "<key> <value>",
	Flags:     []cli.Flag{identityFlag, addressFlag},
	Action: func(ctx *cli.Context) error {
		if ctx.Args().Len() != 2 {
			return fmt.Errorf("usage: submit <key> <value>")
		}
		key, err := config.LoadIdentity(ctx.String("identity"))
		if err != nil {
			return err
		}
		signed, err := identity.Sign[block.Transaction](block.KeyValue{
			Key:   ctx.Args().Get(0),
			Value: []byte(ctx.Args().Get(1)),
		}, key)
		if err != nil {
			return err
		}
		wire, err := block.EncodeSignedTransaction(signed)
		if err != nil {
			return err
		}

		client, err := turi.Dial(ctx.String("address"), key)
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.Request(turi.Execute{Transaction: wire})
		if err != nil {
			return err
		}
		if _, ok := resp.(turi.ExecuteAck); !ok {
			return fmt.Errorf("unexpected reply to submit: %T", resp)
		}
		fmt.Println("accepted")
		return nil
	},
}

var getValueCommand = &cli.Command{
	Name:      "get-value",
	Usage:     "read one key from an owner's namespace",
	ArgsUsage: "<owner-peer-id> <key>",
	Flags:     []cli.Flag{identityFlag, addressFlag},
	Action: func(ctx *cli.Context) error {
		if ctx.Args().Len() != 2 {
			return fmt.Errorf("usage: get-value <owner-peer-id> <key>")
		}
		owner, err := identity.ParsePeerId(ctx.Args().Get(0))
		if err != nil {
			return err
		}
		client, err := dialClient(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.Request(turi.GetValue{Owner: owner, Key: ctx.Args().Get(1)})
		if err != nil {
			return err
		}
		got, ok := resp.(turi.GetValueResponse)
		if !ok {
			return fmt.Errorf("unexpected reply to get-value: %T", resp)
		}
		if !got.Found {
			fmt.Println("not found")
			return nil
		}
		fmt.Println(string(got.Value))
		return nil
	},
}

var getCurrentBlockNumberCommand = &cli.Command{
	Name:  "get-current-block-number",
	Usage: "read the number of committed blocks",
	Flags: []cli.Flag{identityFlag, addressFlag},
	Action: func(ctx *cli.Context) error {
		client, err := dialClient(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.Request(turi.GetCurrentBlockNumber{})
		if err != nil {
			return err
		}
		got, ok := resp.(turi.GetCurrentBlockNumberResponse)
		if !ok {
			return fmt.Errorf("unexpected reply to get-current-block-number: %T", resp)
		}
		if got.Empty {
			fmt.Println("empty")
			return nil
		}
		fmt.Println(got.Number)
		return nil
	},
}
