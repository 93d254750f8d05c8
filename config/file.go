package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFile loads configuration values from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a config value by key. Unknown keys are ignored.
func setConfigValue(cfg *Config, key, value string) error {
	var err error
	switch key {
	case "datadir":
		cfg.DataDir = value

	// Ledger
	case "ledger.host":
		cfg.Ledger.Host = value
	case "ledger.user":
		cfg.Ledger.User = value
	case "ledger.pass":
		cfg.Ledger.Pass = value
	case "ledger.notls":
		cfg.Ledger.DisableTLS = parseBool(value)

	// Lightning
	case "lnd.host":
		cfg.LND.Host = value
	case "lnd.tlscert":
		cfg.LND.TLSCertPath = value
	case "lnd.macaroon":
		cfg.LND.MacaroonPath = value
	case "lnd.macaroonhex":
		cfg.LND.MacaroonHex = value
	case "lnd.targetconf":
		var n int64
		n, err = strconv.ParseInt(value, 10, 32)
		cfg.LND.TargetConf = int32(n)
	case "lnd.walletpassword":
		cfg.LND.WalletPassword = value
	case "lnd.unlock":
		cfg.LND.UnlockWallet = parseBool(value)

	// Registry
	case "registry.rpc":
		cfg.Registry.RPC = value
	case "registry.l1rpc":
		cfg.Registry.L1RPC = value
	case "registry.ws":
		cfg.Registry.WS = value
	case "registry.chainid":
		cfg.Registry.ChainID, err = strconv.ParseInt(value, 10, 64)
	case "registry.key":
		cfg.Registry.Key = value
	case "registry.coordinator":
		cfg.Registry.Coordinator = value
	case "registry.oraclevalidator":
		cfg.Registry.OracleValidator = value
	case "registry.ocean":
		cfg.Registry.Ocean = value
	case "registry.election":
		cfg.Registry.ValidatorElection = value
	case "registry.dappfactory":
		cfg.Registry.DappFactory = value
	case "registry.receipttimeout":
		cfg.Registry.ReceiptTimeout, err = parseDuration(value)

	// Coordinator
	case "coordinator.pending":
		cfg.Coordinator.PendingInterval, err = parseDuration(value)
	case "coordinator.capacity":
		cfg.Coordinator.CapacityInterval, err = parseDuration(value)
	case "coordinator.active":
		cfg.Coordinator.ActiveInterval, err = parseDuration(value)
	case "coordinator.profitless":
		cfg.Coordinator.ProfitlessInterval, err = parseDuration(value)
	case "coordinator.basedelay":
		cfg.Coordinator.BaseDelay, err = parseDuration(value)
	case "coordinator.delay":
		cfg.Coordinator.ProcessingDelay, err = parseDuration(value)
	case "coordinator.itemtimeout":
		cfg.Coordinator.ItemTimeout, err = parseDuration(value)
	case "coordinator.peertimeout":
		cfg.Coordinator.PeerTimeout, err = parseDuration(value)
	case "coordinator.failedattempts":
		cfg.Coordinator.FailedAttemptsLimit, err = strconv.Atoi(value)
	case "coordinator.autoclose":
		cfg.Coordinator.AutoCloseChannels = parseBool(value)
	case "coordinator.verifysigs":
		cfg.Coordinator.VerifySignatures = parseBool(value)

	// Retry
	case "retry.max":
		cfg.Retry.MaxRetries, err = strconv.ParseUint(value, 10, 64)
	case "retry.interval":
		cfg.Retry.Interval, err = parseDuration(value)
	case "retry.jitter":
		cfg.Retry.Jitter, err = parseDuration(value)

	// Metrics
	case "metrics.addr":
		cfg.Metrics.Addr = value

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)
	}
	return err
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseDuration accepts Go duration syntax or a bare number of milliseconds.
func parseDuration(s string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

// WriteDefaultConfig writes a default configuration file.
func WriteDefaultConfig(path string) error {
	content := `# dlsp coordinator configuration
#
# Durations accept Go syntax (10m, 1s) or a bare number of milliseconds.

# Data directory (default: ~/.dlsp)
# datadir = ~/.dlsp

# ============================================================================
# Bitcoin node (bitcoind JSON-RPC)
# ============================================================================

ledger.host = 127.0.0.1:8332
# ledger.user =
# ledger.pass =
ledger.notls = true

# ============================================================================
# Lightning node (lnd gRPC)
# ============================================================================

lnd.host = 127.0.0.1:10009
lnd.tlscert = ~/.lnd/tls.cert
lnd.macaroon = ~/.lnd/data/chain/bitcoin/mainnet/admin.macaroon
lnd.targetconf = 6

# Unlock the lnd wallet on start. Without lnd.walletpassword the password is
# read from the terminal.
# lnd.unlock = false
# lnd.walletpassword =

# ============================================================================
# Registry contracts
# ============================================================================

registry.rpc = http://127.0.0.1:8547
registry.l1rpc = http://127.0.0.1:8545
# registry.ws = ws://127.0.0.1:8548
# registry.chainid =

# Path to the hex-encoded account key, or the key itself prefixed with 0x.
# registry.key = ~/.dlsp/account.key

# registry.coordinator =
# registry.oraclevalidator =
# registry.ocean =
# registry.election =
# registry.dappfactory =

# ============================================================================
# Coordinator
# ============================================================================

coordinator.pending = 10m
coordinator.capacity = 10m
coordinator.active = 20m
coordinator.profitless = 60m
coordinator.basedelay = 1s
coordinator.delay = 1s
coordinator.failedattempts = 3
coordinator.autoclose = false
coordinator.verifysigs = true

# ============================================================================
# Registry read retries
# ============================================================================

retry.max = 3
retry.interval = 1s
retry.jitter = 250ms

# ============================================================================
# Metrics and logging
# ============================================================================

# metrics.addr = 127.0.0.1:9090

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
