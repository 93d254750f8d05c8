package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// Flags holds the flags that steer loading itself rather than a config key.
type Flags struct {
	DataDir string
	Config  string
}

// BindFlags registers every config key as a long flag of the same name on
// fs. Only flags the operator sets override the file.
func BindFlags(fs *pflag.FlagSet) *Flags {
	d := Default()
	f := &Flags{}

	fs.StringVar(&f.DataDir, "datadir", "", "Data directory (default: ~/.dlsp)")
	fs.StringVarP(&f.Config, "config", "c", "", "Config file path (default: <datadir>/dlsp.conf)")

	fs.String("ledger.host", d.Ledger.Host, "bitcoind RPC host:port")
	fs.String("ledger.user", "", "bitcoind RPC user")
	fs.String("ledger.pass", "", "bitcoind RPC password")
	fs.Bool("ledger.notls", d.Ledger.DisableTLS, "Disable TLS to bitcoind")

	fs.String("lnd.host", d.LND.Host, "lnd gRPC host:port")
	fs.String("lnd.tlscert", d.LND.TLSCertPath, "lnd TLS certificate path")
	fs.String("lnd.macaroon", d.LND.MacaroonPath, "lnd macaroon path")
	fs.String("lnd.macaroonhex", "", "lnd macaroon as hex (overrides lnd.macaroon)")
	fs.Int32("lnd.targetconf", d.LND.TargetConf, "Confirmation target for channel funding")
	fs.Bool("lnd.unlock", false, "Unlock the lnd wallet on start")

	fs.String("registry.rpc", d.Registry.RPC, "Registry chain RPC URL")
	fs.String("registry.l1rpc", d.Registry.L1RPC, "L1 RPC URL used for expiry heights")
	fs.String("registry.ws", "", "Registry websocket URL for event subscriptions")
	fs.Int64("registry.chainid", 0, "Registry chain id")
	fs.String("registry.key", "", "Account key file, or 0x-prefixed hex key")
	fs.String("registry.coordinator", "", "Coordinator contract address")
	fs.String("registry.oraclevalidator", "", "OracleValidator contract address")
	fs.String("registry.ocean", "", "Ocean contract address")
	fs.String("registry.election", "", "ValidatorElection contract address")
	fs.String("registry.dappfactory", "", "DappFactory contract address")
	fs.Duration("registry.receipttimeout", d.Registry.ReceiptTimeout, "Time to wait for a transaction receipt")

	co := d.Coordinator
	fs.Duration("coordinator.pending", co.PendingInterval, "Pending channel task interval")
	fs.Duration("coordinator.capacity", co.CapacityInterval, "Capacity request task interval")
	fs.Duration("coordinator.active", co.ActiveInterval, "Active channel task interval")
	fs.Duration("coordinator.profitless", co.ProfitlessInterval, "Profitless channel task interval")
	fs.Duration("coordinator.basedelay", co.BaseDelay, "Delay before the first item of a cycle")
	fs.Duration("coordinator.delay", co.ProcessingDelay, "Delay between item launches")
	fs.Duration("coordinator.itemtimeout", co.ItemTimeout, "Processing timeout per item")
	fs.Duration("coordinator.peertimeout", co.PeerTimeout, "Timeout per validator signing request")
	fs.Int("coordinator.failedattempts", co.FailedAttemptsLimit, "Failures before a pending channel is dropped")
	fs.Bool("coordinator.autoclose", false, "Close channels whose rewards are exhausted")
	fs.Bool("coordinator.verifysigs", co.VerifySignatures, "Verify validator signatures before counting them")

	fs.Uint64("retry.max", d.Retry.MaxRetries, "Retries per registry read")
	fs.Duration("retry.interval", d.Retry.Interval, "Delay between registry read retries")
	fs.Duration("retry.jitter", d.Retry.Jitter, "Jitter added to the retry delay")

	fs.String("metrics.addr", "", "Prometheus listen address (empty disables)")

	fs.String("log.level", d.Log.Level, "Log level: trace, debug, info, warn, error")
	fs.String("log.file", "", "Log file path (default: <datadir>/logs/dlsp.log)")
	fs.Bool("log.json", false, "Output logs as JSON")

	return f
}

// ApplyFlags applies the flags the operator set to cfg.
func ApplyFlags(cfg *Config, fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(fl *pflag.Flag) {
		if err != nil || fl.Name == "config" {
			return
		}
		if serr := setConfigValue(cfg, fl.Name, fl.Value.String()); serr != nil {
			err = fmt.Errorf("flag --%s: %w", fl.Name, serr)
		}
	})
	return err
}

// Load builds the configuration with the following precedence:
// 1. Default values
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. Command-line flags
func Load(fs *pflag.FlagSet, f *Flags) (*Config, error) {
	cfg := Default()
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := f.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}
	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, fmt.Errorf("applying config file: %w", err)
	}

	if err := ApplyFlags(cfg, fs); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist.
func EnsureDataDirs(cfg *Config) error {
	for _, dir := range []string{cfg.DataDir, cfg.StoreDir(), cfg.LogsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}
	return nil
}
