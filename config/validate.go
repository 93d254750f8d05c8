package config

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	klog "github.com/plenny-labs/dlsp/internal/log"
)

// Validate checks the configuration for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("datadir is required")
	}
	if cfg.Ledger.Host == "" {
		return fmt.Errorf("ledger.host is required")
	}
	if cfg.LND.Host == "" {
		return fmt.Errorf("lnd.host is required")
	}
	if cfg.LND.MacaroonPath == "" && cfg.LND.MacaroonHex == "" {
		return fmt.Errorf("lnd.macaroon or lnd.macaroonhex is required")
	}
	if cfg.LND.TargetConf <= 0 {
		return fmt.Errorf("lnd.targetconf must be positive")
	}

	if cfg.Registry.RPC == "" {
		return fmt.Errorf("registry.rpc is required")
	}
	if cfg.Registry.Key == "" {
		return fmt.Errorf("registry.key is required")
	}
	if cfg.Registry.ChainID <= 0 {
		return fmt.Errorf("registry.chainid must be positive")
	}
	contracts := []struct{ key, value string }{
		{"registry.coordinator", cfg.Registry.Coordinator},
		{"registry.oraclevalidator", cfg.Registry.OracleValidator},
		{"registry.ocean", cfg.Registry.Ocean},
		{"registry.election", cfg.Registry.ValidatorElection},
		{"registry.dappfactory", cfg.Registry.DappFactory},
	}
	for _, c := range contracts {
		if !common.IsHexAddress(c.value) {
			return fmt.Errorf("%s must be a hex contract address", c.key)
		}
	}

	co := cfg.Coordinator
	intervals := []struct {
		key string
		d   time.Duration
	}{
		{"coordinator.pending", co.PendingInterval},
		{"coordinator.capacity", co.CapacityInterval},
		{"coordinator.active", co.ActiveInterval},
		{"coordinator.profitless", co.ProfitlessInterval},
	}
	for _, iv := range intervals {
		if iv.d <= 0 {
			return fmt.Errorf("%s must be positive", iv.key)
		}
	}
	if co.BaseDelay < 0 || co.ProcessingDelay < 0 {
		return fmt.Errorf("coordinator delays must not be negative")
	}
	if co.FailedAttemptsLimit <= 0 {
		return fmt.Errorf("coordinator.failedattempts must be positive")
	}
	if cfg.Retry.Interval < 0 || cfg.Retry.Jitter < 0 {
		return fmt.Errorf("retry durations must not be negative")
	}

	if _, err := klog.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}
