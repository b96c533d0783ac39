package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Config is the application configuration of relayctl.
type Config struct {
	// Chain access
	RPCURL  string `toml:"rpc_url"`
	ChainID uint64 `toml:"chain_id"`

	// Sender key, hex encoded
	PrivateKey string `toml:"private_key"`

	// Forwarder and its static EIP-712 domain name
	Forwarder     string `toml:"forwarder"`
	ForwarderName string `toml:"forwarder_name"`
	DynamicDomain bool   `toml:"dynamic_domain"`

	// Relay service
	RelayURL       string        `toml:"relay_url"`
	AccessKey      string        `toml:"access_key"`
	RequestTimeout time.Duration `toml:"request_timeout"`

	// Request preparation
	DeadlineWindow time.Duration `toml:"deadline_window"`
	NonceTTL       time.Duration `toml:"nonce_ttl"`

	// Local servers
	ListenAddr  string   `toml:"listen_addr"`
	MetricsAddr string   `toml:"metrics_addr"`
	AccessKeys  []string `toml:"access_keys"`

	LogLevel string `toml:"log_level"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		ChainID:        31337,
		RPCURL:         "http://127.0.0.1:8545",
		ForwarderName:  "ERC2771Forwarder",
		RelayURL:       "http://127.0.0.1:8010",
		DeadlineWindow: 20 * time.Minute,
		NonceTTL:       10 * time.Minute,
		ListenAddr:     "127.0.0.1:8010",
		LogLevel:       "info",
	}
}

// LoadFile reads a TOML file over the defaults. Unknown keys are an error.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// LoadEnv loads .env style files into the process environment. Missing
// files are skipped; variables already set are kept.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// ChainIDBig returns the chain id as a big integer.
func (c Config) ChainIDBig() *big.Int {
	return new(big.Int).SetUint64(c.ChainID)
}

// ForwarderAddress returns the configured forwarder.
func (c Config) ForwarderAddress() common.Address {
	return common.HexToAddress(c.Forwarder)
}

// Validate checks the fields every command relies on.
func (c Config) Validate() error {
	if c.ChainID == 0 {
		return errors.New("chain id is required")
	}
	if !common.IsHexAddress(c.Forwarder) {
		return fmt.Errorf("invalid forwarder address: %q", c.Forwarder)
	}
	if !c.DynamicDomain && c.ForwarderName == "" {
		return errors.New("forwarder name is required without dynamic domain")
	}
	if c.DeadlineWindow <= 0 {
		return fmt.Errorf("deadline window must be positive: %s", c.DeadlineWindow)
	}
	return nil
}

// ValidateSigner checks the fields needed to prepare requests.
func (c Config) ValidateSigner() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.PrivateKey == "" {
		return errors.New("private key is required")
	}
	if c.RPCURL == "" {
		return errors.New("rpc url is required")
	}
	return nil
}
