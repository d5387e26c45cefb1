package config

import (
	"fmt"
	"os"

	"github.com/prellblock/prellblock/identity"
	"gopkg.in/yaml.v3"
)

// identityFile is the on-disk shape of private/<name>.yaml: a single
// hex-encoded signing key, kept separate from roster.yaml so the roster
// (handed out to every RPU) never carries private key material (§6).
type identityFile struct {
	PrivateKey string `yaml:"private_key"`
}

// LoadIdentity reads this RPU's private signing key from path.
func LoadIdentity(path string) (*identity.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read identity %s: %w", path, err)
	}
	var f identityFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse identity %s: %w", path, err)
	}
	key, err := identity.PrivateKeyFromHex(f.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("config: identity %s: %w", path, err)
	}
	return key, nil
}

// WriteIdentity writes a freshly generated key to path, for the `prellblock
// init` CLI command. It refuses to overwrite an existing file.
func WriteIdentity(path string, key *identity.PrivateKey) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config: identity %s already exists", path)
	}
	data, err := yaml.Marshal(identityFile{PrivateKey: key.Hex()})
	if err != nil {
		return fmt.Errorf("config: encode identity: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write identity %s: %w", path, err)
	}
	return nil
}
