package config

import (
	"os"

	"github.com/ethereum/go-ethereum/log"
)

// EnvTransportPassphrase optionally protects the peer wire transport with a
// shared passphrase. Non-goal: the TLS/mTLS scheme itself is unspecified
// (§ Non-goals); this only names the variable that would carry it.
const EnvTransportPassphrase = "PRELLBLOCK_TRANSPORT_PASSPHRASE"

// EnvThingsBoardToken authenticates the (out-of-scope) ThingsBoard
// forwarder against its upstream API.
const EnvThingsBoardToken = "PRELLBLOCK_THINGSBOARD_TOKEN"

// Env bundles the environment-sourced settings read once at startup.
type Env struct {
	TransportPassphrase string
	ThingsBoardToken    string
}

// LoadEnv reads the known environment variables, logging a warning for any
// that are unset rather than failing: both are optional deployment
// parameters, never required to start a node (§6).
func LoadEnv() Env {
	var env Env
	var ok bool
	if env.TransportPassphrase, ok = os.LookupEnv(EnvTransportPassphrase); !ok {
		log.Warn("environment variable not set", "name", EnvTransportPassphrase)
	}
	if env.ThingsBoardToken, ok = os.LookupEnv(EnvThingsBoardToken); !ok {
		log.Warn("environment variable not set", "name", EnvThingsBoardToken)
	}
	return env
}
