package config

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"btc-bridge/database"
	"btc-bridge/pkg/assets"
	"btc-bridge/pkg/blockchain"
	"btc-bridge/pkg/bridge"
	"btc-bridge/pkg/logger"
	"btc-bridge/pkg/primitives"
	"btc-bridge/pkg/runtime"

	"github.com/BurntSushi/toml"
)

type DBConfig struct {
	Backend  string `toml:"backend"`
	Path     string `toml:"path"`
	URI      string `toml:"uri"`
	Database string `toml:"database"`
}

type LoggerOptions struct {
	Level               []string `toml:"level"`
	LogBackTraceEnabled bool     `toml:"log_backtrace_enabled"`

	// File enables size rotated file output next to stdout.
	File          string `toml:"file"`
	MaxFileSizeKB int64  `toml:"max_file_size_kb"`
	MaxFiles      int    `toml:"max_files"`
}

type BridgeConfig struct {
	Network        string   `toml:"network"`
	Confirmations  uint32   `toml:"confirmations"`
	MaxForkRoute   uint32   `toml:"max_fork_route"`
	ReservedBlocks uint32   `toml:"reserved_blocks"`
	WithdrawalFee  uint64   `toml:"withdrawal_fee"`
	TrusteeScript  string   `toml:"trustee_redeem_script"`
	TrusteeIDs     []string `toml:"trustee_accounts"`
	NativeToken    string   `toml:"native_token"`
	BridgeToken    string   `toml:"bridge_token"`
	MemoLen        int      `toml:"memo_len"`
	AddressVersion uint8    `toml:"address_version"`
}

// GenesisConfig is the header the relay starts from. An empty header means
// the genesis block of the network.
type GenesisConfig struct {
	Header string `toml:"header"`
	Height uint32 `toml:"height"`
}

type Config struct {
	DB      DBConfig      `toml:"db"`
	Logger  LoggerOptions `toml:"logger"`
	Bridge  BridgeConfig  `toml:"bridge"`
	Genesis GenesisConfig `toml:"genesis"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() Config {
	return Config{
		DB: DBConfig{
			Backend: string(database.BackendLevelDB),
			Path:    "data",
		},
		Logger: LoggerOptions{
			Level:         []string{"error", "warn", "info"},
			MaxFileSizeKB: 10 * 1024,
			MaxFiles:      3,
		},
		Bridge: BridgeConfig{
			Network:        "btc",
			Confirmations:  blockchain.DefaultConfirmations,
			MaxForkRoute:   blockchain.DefaultMaxForkRoute,
			ReservedBlocks: blockchain.DefaultReservedBlocks,
			NativeToken:    string(assets.DefaultNativeToken),
			BridgeToken:    string(bridge.DefaultToken),
			AddressVersion: bridge.DefaultAddressVersion,
		},
	}
}

func LoadConfig(path string) (*Config, error) {

	config := Default()
	metaData, err := toml.DecodeFile(path, &config)
	if err != nil {
		return nil, err
	}

	if len(metaData.Undecoded()) > 0 {
		return nil, (fmt.Errorf("undecoded fields: %v", metaData.Undecoded()))
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &config, nil
}

func (c *Config) Validate() error {
	switch database.Backend(c.DB.Backend) {
	case database.BackendLevelDB, database.BackendBolt:
		if c.DB.Path == "" {
			return fmt.Errorf("db.path is required for %s", c.DB.Backend)
		}
	case database.BackendMongo:
		if c.DB.URI == "" || c.DB.Database == "" {
			return fmt.Errorf("db.uri and db.database are required for mongo")
		}
	case database.BackendMemory:
	default:
		return fmt.Errorf("unknown db.backend %q", c.DB.Backend)
	}

	if err := logger.ValidateLevels(c.Logger.Level); err != nil {
		return fmt.Errorf("logger.level: %w", err)
	}
	if c.Logger.File != "" && (c.Logger.MaxFileSizeKB <= 0 || c.Logger.MaxFiles <= 0) {
		return fmt.Errorf("logger.max_file_size_kb and logger.max_files must be positive")
	}

	if c.Bridge.MemoLen < 0 {
		return fmt.Errorf("bridge.memo_len must not be negative")
	}
	if err := assets.ValidateToken(primitives.Token(c.Bridge.NativeToken)); err != nil {
		return fmt.Errorf("bridge.native_token: %w", err)
	}
	if err := assets.ValidateToken(primitives.Token(c.Bridge.BridgeToken)); err != nil {
		return fmt.Errorf("bridge.bridge_token: %w", err)
	}
	if c.Bridge.NativeToken == c.Bridge.BridgeToken {
		return fmt.Errorf("bridge.bridge_token must differ from the native token")
	}

	// the parsed forms are checked by building them
	_, err := c.RuntimeConfig()
	return err
}

// RuntimeConfig builds the runtime parameters out of the bridge and genesis
// sections.
func (c *Config) RuntimeConfig() (runtime.Config, error) {
	net, err := blockchain.NetParams(c.Bridge.Network)
	if err != nil {
		return runtime.Config{}, fmt.Errorf("bridge.network: %w", err)
	}

	redeem, err := hex.DecodeString(c.Bridge.TrusteeScript)
	if err != nil {
		return runtime.Config{}, fmt.Errorf("bridge.trustee_redeem_script: %w", err)
	}
	trustee, err := bridge.NewTrustee(redeem, net)
	if err != nil {
		return runtime.Config{}, fmt.Errorf("bridge.trustee_redeem_script: %w", err)
	}

	trustees := make([]primitives.AccountID, 0, len(c.Bridge.TrusteeIDs))
	for _, s := range c.Bridge.TrusteeIDs {
		id, err := primitives.ParseAccountID(s)
		if err != nil {
			return runtime.Config{}, fmt.Errorf("bridge.trustee_accounts %q: %w", s, err)
		}
		trustees = append(trustees, id)
	}

	genesis := net.GenesisBlock.Header
	if c.Genesis.Header != "" {
		raw, err := hex.DecodeString(c.Genesis.Header)
		if err != nil {
			return runtime.Config{}, fmt.Errorf("genesis.header: %w", err)
		}
		if err := genesis.Deserialize(bytes.NewReader(raw)); err != nil {
			return runtime.Config{}, fmt.Errorf("genesis.header: %w", err)
		}
	} else if c.Genesis.Height != 0 {
		return runtime.Config{}, fmt.Errorf("genesis.height %d needs genesis.header", c.Genesis.Height)
	}

	cfg := runtime.Config{
		Chain: blockchain.Params{
			Net:            net,
			Confirmations:  c.Bridge.Confirmations,
			MaxForkRoute:   c.Bridge.MaxForkRoute,
			ReservedBlocks: c.Bridge.ReservedBlocks,
		},
		Bridge: bridge.Params{
			Net:           net,
			Trustee:       trustee,
			Trustees:      trustees,
			Token:         primitives.Token(c.Bridge.BridgeToken),
			Confirmations: c.Bridge.Confirmations,
		},
		Codec:         bridge.SS58Codec{Version: c.Bridge.AddressVersion},
		NativeToken:   primitives.Token(c.Bridge.NativeToken),
		MemoLen:       c.Bridge.MemoLen,
		Genesis:       &genesis,
		GenesisHeight: c.Genesis.Height,
	}
	if err := cfg.Validate(); err != nil {
		return runtime.Config{}, err
	}
	return cfg, nil
}
