// Command prellblock is the operator CLI: it starts an RPU node and
// offers a handful of client subcommands against a running node's TURI
// gateway, mirroring the teacher's own cmd/geth split between a node
// daemon and client-facing subcommands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prellblock/prellblock/blockstore"
	"github.com/prellblock/prellblock/config"
	"github.com/prellblock/prellblock/identity"
	"github.com/prellblock/prellblock/rpu"
	"github.com/urfave/cli/v2"
)

var (
	rosterFlag = &cli.StringFlag{
		Name:     "roster",
		Usage:    "path to roster.yaml",
		Value:    "roster.yaml",
		Required: false,
	}
	identityFlag = &cli.StringFlag{
		Name:     "identity",
		Usage:    "path to this RPU's private identity file",
		Required: true,
	}
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "directory holding this RPU's leveldb block store",
		Value: "prellblock-data",
	}
	addressFlag = &cli.StringFlag{
		Name:     "address",
		Usage:    "TURI gateway address to connect to, host:port",
		Required: true,
	}
)

func main() {
	app := &cli.App{
		Name:  "prellblock",
		Usage: "a permissioned, byzantine-fault-tolerant logging blockchain for railway sensor data",
		Commands: []*cli.Command{
			initCommand,
			runCommand,
			pingCommand,
			submitCommand,
			getValueCommand,
			getCurrentBlockNumberCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var initCommand = &cli.Command{
	Name:  "init",
	Usage: "generate a fresh signing identity for this RPU",
	Flags: []cli.Flag{identityFlag},
	Action: func(ctx *cli.Context) error {
		key, err := identity.GenerateKey()
		if err != nil {
			return err
		}
		if err := config.WriteIdentity(ctx.String("identity"), key); err != nil {
			return err
		}
		fmt.Printf("generated identity %s, peer_id %s\n", ctx.String("identity"), key.PeerId())
		return nil
	},
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "start this RPU node, participating in consensus until stopped",
	Flags: []cli.Flag{rosterFlag, identityFlag, dataDirFlag},
	Action: func(ctx *cli.Context) error {
		config.LoadEnv()

		roster, err := config.LoadRoster(ctx.String("roster"))
		if err != nil {
			return err
		}
		key, err := config.LoadIdentity(ctx.String("identity"))
		if err != nil {
			return err
		}
		store, err := blockstore.OpenLevelStore(ctx.String("datadir"))
		if err != nil {
			return err
		}
		defer store.Close()

		node, err := rpu.New(roster, key, store, rpu.Options{})
		if err != nil {
			return err
		}

		runCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		log.Info("starting RPU", "peer_id", key.PeerId())
		if err := node.Run(runCtx); err != nil && runCtx.Err() == nil {
			return err
		}
		return nil
	},
}

var pingCommand = &cli.Command{
	Name:  "ping",
	Usage: "check that an RPU's TURI gateway is reachable",
	Flags: []cli.Flag{identityFlag, addressFlag},
	Action: func(ctx *cli.Context) error {
		client, err := dialClient(ctx)
		if err != nil {
			return err
		}
		defer client.Close()
		return roundTripPing(client)
	},
}
