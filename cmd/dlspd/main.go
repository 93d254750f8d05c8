// dlsp channel-lifecycle coordinator daemon.
//
// Usage:
//
//	dlspd [--registry.key=... --lnd.host=...]  Run coordinator
//	dlspd init                                   Write a default config file
//	dlspd relay --owner=... --signature=...      Relay a taker's capacity order
//	dlspd --help                                 Show help
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/plenny-labs/dlsp/config"
	"github.com/plenny-labs/dlsp/internal/node"
	"github.com/plenny-labs/dlsp/internal/registry"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags *config.Flags

	root := &cobra.Command{
		Use:           "dlspd",
		Short:         "Lightning channel-lifecycle coordinator for the Plenny registry",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags(), flags)
			if err != nil {
				return err
			}
			if cfg.LND.UnlockWallet && cfg.LND.WalletPassword == "" {
				pw, err := readPassword("lnd wallet password: ")
				if err != nil {
					return err
				}
				cfg.LND.WalletPassword = pw
			}
			return run(cfg)
		},
	}
	flags = config.BindFlags(root.Flags())

	root.AddCommand(newInitCmd(), newRelayCmd())
	return root
}

func newInitCmd() *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the data directory and a default dlsp.conf",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg := config.Default()
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if err := config.EnsureDataDirs(cfg); err != nil {
				return err
			}
			fmt.Println("Config:", cfg.ConfigFile())
			return nil
		},
	}
	cmd.Flags().StringVar(&dataDir, "datadir", "", "Data directory (default: ~/.dlsp)")
	return cmd
}

func newRelayCmd() *cobra.Command {
	var (
		flags      *config.Flags
		nodeURL    string
		maker      string
		owner      string
		ownerNonce string
		sigHex     string
		capacity   int64
	)
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Submit a taker's signed capacity request with this maker account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !common.IsHexAddress(owner) {
				return fmt.Errorf("invalid owner address %q", owner)
			}
			if maker != "" && !common.IsHexAddress(maker) {
				return fmt.Errorf("invalid maker address %q", maker)
			}
			nonce, ok := new(big.Int).SetString(ownerNonce, 10)
			if !ok {
				return fmt.Errorf("invalid owner nonce %q", ownerNonce)
			}
			sig, err := hexutil.Decode(sigHex)
			if err != nil {
				return fmt.Errorf("invalid signature: %w", err)
			}

			cfg, err := config.Load(cmd.Flags(), flags)
			if err != nil {
				return err
			}
			n, err := node.New(cfg)
			if err != nil {
				return err
			}
			defer n.Stop()

			order := registry.CapacityOrder{
				NodeURL:    nodeURL,
				Capacity:   capacity,
				Owner:      common.HexToAddress(owner),
				OwnerNonce: nonce,
				Signature:  sig,
			}
			order.MakerAddress = n.Account()
			if maker != "" {
				order.MakerAddress = common.HexToAddress(maker)
			}
			tx, err := n.RelayCapacityRequest(context.Background(), order)
			if err != nil {
				return err
			}
			fmt.Println("Transaction:", tx.Hex())
			return nil
		},
	}
	flags = config.BindFlags(cmd.Flags())
	cmd.Flags().StringVar(&nodeURL, "node-url", "", "Taker node as pubkey@host:port")
	cmd.Flags().Int64Var(&capacity, "capacity", 0, "Requested channel capacity in satoshis")
	cmd.Flags().StringVar(&maker, "maker", "", "Maker address named in the request (default: this account)")
	cmd.Flags().StringVar(&owner, "owner", "", "Taker address that signed the request")
	cmd.Flags().StringVar(&ownerNonce, "owner-nonce", "0", "Taker nonce covered by the signature")
	cmd.Flags().StringVar(&sigHex, "signature", "", "Taker signature, 0x-prefixed hex")
	cmd.MarkFlagRequired("node-url")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("signature")
	return cmd
}

func run(cfg *config.Config) error {
	n, err := node.New(cfg)
	if err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		n.Stop()
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	n.Stop()
	return nil
}

// readPassword prompts on the controlling terminal without echo.
func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("lnd.unlock is set but lnd.walletpassword is empty and stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}
