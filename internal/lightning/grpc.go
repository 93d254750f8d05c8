package lightning

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/plenny-labs/dlsp/internal/chanid"
	klog "github.com/plenny-labs/dlsp/internal/log"
)

// GRPCConfig holds lnd connection settings.
type GRPCConfig struct {
	Host         string // host:port of the lnd gRPC listener
	TLSCertPath  string
	MacaroonPath string
	MacaroonHex  string // takes precedence over MacaroonPath
	TargetConf   int32  // confirmation target for channel funding
}

// macaroonCredential attaches the admin macaroon to every call.
type macaroonCredential string

func (m macaroonCredential) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"macaroon": string(m)}, nil
}

func (m macaroonCredential) RequireTransportSecurity() bool { return true }

// GRPCClient implements Client over lnd's gRPC interface.
type GRPCClient struct {
	conn       *grpc.ClientConn
	ln         lnrpc.LightningClient
	unlocker   lnrpc.WalletUnlockerClient
	targetConf int32
	logger     zerolog.Logger
}

// NewGRPCClient dials lnd lazily; no RPC is made until the first call.
func NewGRPCClient(cfg GRPCConfig) (*GRPCClient, error) {
	tlsCreds, err := credentials.NewClientTLSFromFile(cfg.TLSCertPath, "")
	if err != nil {
		return nil, fmt.Errorf("load lnd tls cert: %w", err)
	}

	mac := cfg.MacaroonHex
	if mac == "" {
		raw, err := os.ReadFile(cfg.MacaroonPath)
		if err != nil {
			return nil, fmt.Errorf("read macaroon: %w", err)
		}
		mac = hex.EncodeToString(raw)
	}

	conn, err := grpc.NewClient(cfg.Host,
		grpc.WithTransportCredentials(tlsCreds),
		grpc.WithPerRPCCredentials(macaroonCredential(mac)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial lnd %s: %w", cfg.Host, err)
	}

	target := cfg.TargetConf
	if target <= 0 {
		target = 6
	}
	return &GRPCClient{
		conn:       conn,
		ln:         lnrpc.NewLightningClient(conn),
		unlocker:   lnrpc.NewWalletUnlockerClient(conn),
		targetConf: target,
		logger:     klog.Lightning,
	}, nil
}

// Close releases the connection.
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

// IdentityPubkey implements Client.
func (c *GRPCClient) IdentityPubkey(ctx context.Context) (string, error) {
	info, err := c.ln.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		return "", fmt.Errorf("getinfo: %w", err)
	}
	return info.IdentityPubkey, nil
}

// ChannelInfo implements Client.
func (c *GRPCClient) ChannelInfo(ctx context.Context, channelID uint64) (*ChannelInfo, error) {
	edge, err := c.ln.GetChanInfo(ctx, &lnrpc.ChanInfoRequest{ChanId: channelID})
	if err != nil {
		if IsEdgeUnknown(err) {
			return nil, fmt.Errorf("%w: %d: %v", ErrChannelUnknown, channelID, err)
		}
		return nil, fmt.Errorf("getchaninfo %d: %w", channelID, err)
	}
	if edge.ChannelId == 0 {
		return nil, fmt.Errorf("%w: %d", ErrChannelUnknown, channelID)
	}
	return &ChannelInfo{
		ChannelID: edge.ChannelId,
		ChanPoint: edge.ChanPoint,
		Capacity:  edge.Capacity,
		Node1Pub:  edge.Node1Pub,
		Node2Pub:  edge.Node2Pub,
	}, nil
}

// OpenChannel implements Client.
func (c *GRPCClient) OpenChannel(ctx context.Context, peerPubkey string, capacitySats int64) (<-chan OpenEvent, error) {
	pub, err := hex.DecodeString(peerPubkey)
	if err != nil {
		return nil, fmt.Errorf("decode peer pubkey: %w", err)
	}
	stream, err := c.ln.OpenChannel(ctx, &lnrpc.OpenChannelRequest{
		NodePubkey:         pub,
		LocalFundingAmount: capacitySats,
		TargetConf:         c.targetConf,
	})
	if err != nil {
		return nil, fmt.Errorf("openchannel: %w", err)
	}

	events := make(chan OpenEvent, 1)
	go func() {
		defer close(events)
		send := func(ev OpenEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for {
			update, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				send(OpenEvent{Err: fmt.Errorf("openchannel stream: %w", err)})
				return
			}
			switch {
			case update.GetChanPending() != nil:
				p := update.GetChanPending()
				// lnd reports the txid in internal byte order.
				h, err := chainhash.NewHash(p.Txid)
				if err != nil {
					send(OpenEvent{Err: fmt.Errorf("pending txid: %w", err)})
					return
				}
				ref := chanid.FundingRef{TxID: h.String(), Index: p.OutputIndex}
				c.logger.Info().Str("funding", ref.String()).Msg("Channel funding pending")
				if !send(OpenEvent{Pending: &ref}) {
					return
				}
			case update.GetChanOpen() != nil:
				send(OpenEvent{Open: true})
				return
			}
		}
	}()
	return events, nil
}

// CloseChannel implements Client. It waits for the first status update so
// that a rejected close is reported to the caller.
func (c *GRPCClient) CloseChannel(ctx context.Context, ref chanid.FundingRef) error {
	stream, err := c.ln.CloseChannel(ctx, &lnrpc.CloseChannelRequest{
		ChannelPoint: &lnrpc.ChannelPoint{
			FundingTxid: &lnrpc.ChannelPoint_FundingTxidStr{FundingTxidStr: ref.TxID},
			OutputIndex: ref.Index,
		},
	})
	if err != nil {
		return fmt.Errorf("closechannel %s: %w", ref, err)
	}
	if _, err := stream.Recv(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("closechannel %s: %w", ref, err)
	}
	return nil
}

// ConnectPeer implements Client.
func (c *GRPCClient) ConnectPeer(ctx context.Context, pubkey, host string) error {
	_, err := c.ln.ConnectPeer(ctx, &lnrpc.ConnectPeerRequest{
		Addr: &lnrpc.LightningAddress{Pubkey: pubkey, Host: host},
		Perm: true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "already connected") {
			c.logger.Debug().Str("peer", pubkey).Msg("Already connected to peer")
			return nil
		}
		return fmt.Errorf("connectpeer %s@%s: %w", pubkey, host, err)
	}
	return nil
}

// WalletBalance implements Client.
func (c *GRPCClient) WalletBalance(ctx context.Context) (*Balance, error) {
	res, err := c.ln.WalletBalance(ctx, &lnrpc.WalletBalanceRequest{})
	if err != nil {
		return nil, fmt.Errorf("walletbalance: %w", err)
	}
	return &Balance{
		Total:       res.TotalBalance,
		Confirmed:   res.ConfirmedBalance,
		Unconfirmed: res.UnconfirmedBalance,
	}, nil
}

// UnlockWallet implements Client.
func (c *GRPCClient) UnlockWallet(ctx context.Context, password []byte) error {
	_, err := c.unlocker.UnlockWallet(ctx, &lnrpc.UnlockWalletRequest{WalletPassword: password})
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "wallet already unlocked") || strings.Contains(msg, "unknown service lnrpc.WalletUnlocker") {
		c.logger.Debug().Msg("Wallet already unlocked")
		return nil
	}
	return fmt.Errorf("unlockwallet: %w", err)
}
