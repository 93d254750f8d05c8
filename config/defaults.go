package config

import "time"

// Default returns the default coordinator configuration.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Ledger: LedgerConfig{
			Host:       "127.0.0.1:8332",
			DisableTLS: true,
		},
		LND: LNDConfig{
			Host:         "127.0.0.1:10009",
			TLSCertPath:  "~/.lnd/tls.cert",
			MacaroonPath: "~/.lnd/data/chain/bitcoin/mainnet/admin.macaroon",
			TargetConf:   6,
		},
		Registry: RegistryConfig{
			RPC:            "http://127.0.0.1:8547",
			L1RPC:          "http://127.0.0.1:8545",
			ReceiptTimeout: 5 * time.Minute,
		},
		Coordinator: CoordinatorConfig{
			PendingInterval:     10 * time.Minute,
			CapacityInterval:    10 * time.Minute,
			ActiveInterval:      20 * time.Minute,
			ProfitlessInterval:  60 * time.Minute,
			BaseDelay:           time.Second,
			ProcessingDelay:     time.Second,
			ItemTimeout:         5 * time.Minute,
			PeerTimeout:         10 * time.Second,
			FailedAttemptsLimit: 3,
			VerifySignatures:    true,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			Interval:   time.Second,
			Jitter:     250 * time.Millisecond,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
