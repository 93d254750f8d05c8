package quorum

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	klog "github.com/plenny-labs/dlsp/internal/log"
	"github.com/plenny-labs/dlsp/internal/metrics"
	"github.com/plenny-labs/dlsp/internal/peerclient"
	"github.com/plenny-labs/dlsp/pkg/crypto"
)

// Directory resolves a validator's signing service base URL.
type Directory interface {
	ValidatorServiceURL(ctx context.Context, addr common.Address) (string, error)
}

// Request describes one event to collect signatures for.
type Request struct {
	Key     string             // bundle key, see OpeningKey and ClosingKey
	Payload peerclient.Payload // body posted to each validator
	// Digest is the message validators sign. When set, every returned
	// signature must recover to the validator that produced it, and the
	// local key (if any) signs it directly.
	Digest []byte
}

// Collector fans signing requests out to elected validators.
type Collector struct {
	store  *Store
	peers  peerclient.Requester
	dir    Directory
	key    *ecdsa.PrivateKey
	self   common.Address
	logger zerolog.Logger
}

// NewCollector creates a collector. key may be nil, in which case this
// node's own signature is requested over the transport like any other.
func NewCollector(store *Store, peers peerclient.Requester, dir Directory, key *ecdsa.PrivateKey) *Collector {
	c := &Collector{
		store:  store,
		peers:  peers,
		dir:    dir,
		key:    key,
		logger: klog.Quorum,
	}
	if key != nil {
		c.self = crypto.Address(key)
	}
	return c
}

// Collect extends the stored bundle for req until it holds minQuorum
// signatures or every elected validator has been asked once. The bundle is
// persisted after each accepted signature. A failing validator is logged
// and skipped.
func (c *Collector) Collect(ctx context.Context, req Request, validators []common.Address, minQuorum int) (Bundle, error) {
	bundle, err := c.store.Load(req.Key)
	if err != nil {
		return nil, err
	}
	if IsReached(bundle, minQuorum) {
		return bundle, nil
	}

	endpoint := req.Payload.Endpoint()
	for _, v := range validators {
		if IsReached(bundle, minQuorum) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if bundle.Has(v) {
			continue
		}

		sig, err := c.obtain(ctx, req, v)
		if err != nil {
			metrics.SignatureRequests.WithLabelValues(endpoint, "failed").Inc()
			c.logger.Warn().Err(err).
				Str("validator", v.Hex()).
				Str("key", req.Key).
				Msg("Failed to obtain signature")
			continue
		}
		if req.Digest != nil {
			if err := verify(req.Digest, sig, v); err != nil {
				metrics.SignatureRequests.WithLabelValues(endpoint, "rejected").Inc()
				c.logger.Warn().Err(err).
					Str("validator", v.Hex()).
					Str("key", req.Key).
					Msg("Discarding signature")
				continue
			}
		}

		bundle = append(bundle, Entry{Address: v.Hex(), Signature: sig})
		if err := c.store.Save(req.Key, bundle); err != nil {
			return bundle, err
		}
		metrics.SignatureRequests.WithLabelValues(endpoint, "ok").Inc()
		c.logger.Info().
			Str("validator", v.Hex()).
			Str("key", req.Key).
			Int("have", len(bundle)).
			Int("need", minQuorum).
			Msg("Signature stored")
	}
	return bundle, nil
}

func (c *Collector) obtain(ctx context.Context, req Request, v common.Address) (string, error) {
	if c.key != nil && v == c.self && req.Digest != nil {
		return c.signLocal(req.Digest)
	}
	url, err := c.dir.ValidatorServiceURL(ctx, v)
	if err != nil {
		return "", fmt.Errorf("resolve service url: %w", err)
	}
	c.logger.Debug().Str("url", url+req.Payload.Endpoint()).Msg("Requesting signature")
	return c.peers.RequestSignature(ctx, url, req.Payload)
}

// signLocal produces this node's signature in the wire form validators
// return: r||s followed by a 00/01 recovery marker.
func (c *Collector) signLocal(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, c.key)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func verify(digest []byte, sig string, want common.Address) error {
	canon, err := crypto.Canonicalize(sig)
	if err != nil {
		return err
	}
	got, err := crypto.RecoverAddress(digest, canon)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: recovered %s", ErrInvalidSignature, got.Hex())
	}
	return nil
}
