// Package config handles application configuration.
//
// Settings are layered: built-in defaults, then <datadir>/dlsp.conf, then
// command-line flags. Validate runs last.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Config holds the coordinator's runtime configuration.
type Config struct {
	DataDir string `conf:"datadir"`

	// Bitcoin node
	Ledger LedgerConfig

	// Lightning node
	LND LNDConfig

	// EVM registry contracts
	Registry RegistryConfig

	// Task scheduling and processing
	Coordinator CoordinatorConfig

	// Registry read retries
	Retry RetryConfig

	// Prometheus endpoint
	Metrics MetricsConfig

	// Logging
	Log LogConfig
}

// LedgerConfig holds bitcoind JSON-RPC settings.
type LedgerConfig struct {
	Host       string `conf:"ledger.host"`
	User       string `conf:"ledger.user"`
	Pass       string `conf:"ledger.pass"`
	DisableTLS bool   `conf:"ledger.notls"`
}

// LNDConfig holds lnd gRPC settings.
type LNDConfig struct {
	Host           string `conf:"lnd.host"`
	TLSCertPath    string `conf:"lnd.tlscert"`
	MacaroonPath   string `conf:"lnd.macaroon"`
	MacaroonHex    string `conf:"lnd.macaroonhex"`
	TargetConf     int32  `conf:"lnd.targetconf"`
	WalletPassword string `conf:"lnd.walletpassword"`
	UnlockWallet   bool   `conf:"lnd.unlock"`
}

// RegistryConfig holds EVM endpoints, the signing key and contract
// addresses.
type RegistryConfig struct {
	RPC     string `conf:"registry.rpc"`
	L1RPC   string `conf:"registry.l1rpc"`
	WS      string `conf:"registry.ws"`
	ChainID int64  `conf:"registry.chainid"`
	// Key is a path to a hex key file, or the key itself with a 0x prefix.
	Key string `conf:"registry.key"`

	Coordinator       string `conf:"registry.coordinator"`
	OracleValidator   string `conf:"registry.oraclevalidator"`
	Ocean             string `conf:"registry.ocean"`
	ValidatorElection string `conf:"registry.election"`
	DappFactory       string `conf:"registry.dappfactory"`

	ReceiptTimeout time.Duration `conf:"registry.receipttimeout"`
}

// CoordinatorConfig holds task intervals and processing parameters.
type CoordinatorConfig struct {
	PendingInterval     time.Duration `conf:"coordinator.pending"`
	CapacityInterval    time.Duration `conf:"coordinator.capacity"`
	ActiveInterval      time.Duration `conf:"coordinator.active"`
	ProfitlessInterval  time.Duration `conf:"coordinator.profitless"`
	BaseDelay           time.Duration `conf:"coordinator.basedelay"`
	ProcessingDelay     time.Duration `conf:"coordinator.delay"`
	ItemTimeout         time.Duration `conf:"coordinator.itemtimeout"`
	PeerTimeout         time.Duration `conf:"coordinator.peertimeout"`
	FailedAttemptsLimit int           `conf:"coordinator.failedattempts"`
	AutoCloseChannels   bool          `conf:"coordinator.autoclose"`
	VerifySignatures    bool          `conf:"coordinator.verifysigs"`
}

// RetryConfig bounds retries of registry reads.
type RetryConfig struct {
	MaxRetries uint64        `conf:"retry.max"`
	Interval   time.Duration `conf:"retry.interval"`
	Jitter     time.Duration `conf:"retry.jitter"`
}

// MetricsConfig holds the metrics listener address. Empty disables it.
type MetricsConfig struct {
	Addr string `conf:"metrics.addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.dlsp
//	macOS:   ~/Library/Application Support/Dlsp
//	Windows: %APPDATA%\Dlsp
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dlsp"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Dlsp")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Dlsp")
		}
		return filepath.Join(home, "AppData", "Roaming", "Dlsp")
	default:
		return filepath.Join(home, ".dlsp")
	}
}

// StoreDir returns the local key-value store directory.
func (c *Config) StoreDir() string {
	return filepath.Join(c.DataDir, "store")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "dlsp.conf")
}
