package registry

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	klog "github.com/plenny-labs/dlsp/internal/log"
)

// ErrReverted is returned when a submitted transaction is mined with a
// failed status.
var ErrReverted = errors.New("registry: transaction reverted")

// Backend is the subset of an execution-layer client the registry uses.
// *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// BlockNumberer reports the current block height of a chain.
type BlockNumberer interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Addresses of the deployed contracts.
type Addresses struct {
	Coordinator       common.Address
	OracleValidator   common.Address
	Ocean             common.Address
	ValidatorElection common.Address
	DappFactory       common.Address
}

// RetryConfig bounds retries of read calls.
type RetryConfig struct {
	MaxRetries uint64
	Interval   time.Duration
	Jitter     time.Duration
}

// Config holds registry client settings.
type Config struct {
	ChainID        *big.Int
	Contracts      Addresses
	Retry          RetryConfig
	ReceiptPoll    time.Duration
	ReceiptTimeout time.Duration
}

type contract struct {
	name string
	addr common.Address
	abi  abi.ABI
}

// EthRegistry implements Registry against EVM contracts.
type EthRegistry struct {
	backend Backend
	l1      BlockNumberer
	key     *ecdsa.PrivateKey
	account common.Address
	cfg     Config
	nonces  *nonceManager
	logger  zerolog.Logger

	coordinator, oracle, ocean, election, factory contract
}

// Dial connects to the registry chain and the L1 chain used for expiry
// heights.
func Dial(ctx context.Context, rpcURL, l1URL string, key *ecdsa.PrivateKey, cfg Config) (*EthRegistry, error) {
	backend, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial registry rpc: %w", err)
	}
	l1 := backend
	if l1URL != "" && l1URL != rpcURL {
		l1, err = ethclient.DialContext(ctx, l1URL)
		if err != nil {
			backend.Close()
			return nil, fmt.Errorf("dial l1 rpc: %w", err)
		}
	}
	if cfg.ChainID == nil {
		id, err := backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("chain id: %w", err)
		}
		cfg.ChainID = id
	}
	return New(backend, l1, key, cfg), nil
}

// New creates a registry client on the given backends.
func New(backend Backend, l1 BlockNumberer, key *ecdsa.PrivateKey, cfg Config) *EthRegistry {
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = 2 * time.Second
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 5 * time.Minute
	}
	if cfg.Retry.Interval <= 0 {
		cfg.Retry.Interval = time.Second
	}
	r := &EthRegistry{
		backend:     backend,
		l1:          l1,
		key:         key,
		account:     ethcrypto.PubkeyToAddress(key.PublicKey),
		cfg:         cfg,
		logger:      klog.Registry,
		coordinator: contract{"coordinator", cfg.Contracts.Coordinator, CoordinatorABI},
		oracle:      contract{"oracle validator", cfg.Contracts.OracleValidator, OracleValidatorABI},
		ocean:       contract{"ocean", cfg.Contracts.Ocean, OceanABI},
		election:    contract{"validator election", cfg.Contracts.ValidatorElection, ValidatorElectionABI},
		factory:     contract{"dapp factory", cfg.Contracts.DappFactory, DappFactoryABI},
	}
	r.nonces = newNonceManager(func(ctx context.Context) (uint64, error) {
		return r.backend.PendingNonceAt(ctx, r.account)
	})
	return r
}

// Account implements Registry.
func (r *EthRegistry) Account() common.Address { return r.account }

func (r *EthRegistry) backoff() (retry.Backoff, error) {
	b := retry.NewConstant(r.cfg.Retry.Interval)
	if r.cfg.Retry.Jitter > 0 {
		b = retry.WithJitter(r.cfg.Retry.Jitter, b)
	}
	return retry.WithMaxRetries(r.cfg.Retry.MaxRetries, b), nil
}

// call performs a view call and unpacks the outputs.
func (r *EthRegistry) call(ctx context.Context, c contract, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s.%s: %w", c.name, method, err)
	}
	to := c.addr
	msg := ethereum.CallMsg{From: r.account, To: &to, Data: data}

	b, err := r.backoff()
	if err != nil {
		return nil, err
	}
	var out []byte
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		res, err := r.backend.CallContract(ctx, msg, nil)
		if err != nil {
			r.logger.Debug().Err(err).Str("method", method).Msg("Registry call failed, retrying")
			return retry.RetryableError(err)
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("call %s.%s: %w", c.name, method, err)
	}
	vals, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s.%s: %w", c.name, method, err)
	}
	return vals, nil
}

func (r *EthRegistry) callUint(ctx context.Context, c contract, method string, args ...interface{}) (uint64, error) {
	vals, err := r.call(ctx, c, method, args...)
	if err != nil {
		return 0, err
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("%s.%s: unexpected output %T", c.name, method, vals[0])
	}
	return v.Uint64(), nil
}

func (r *EthRegistry) callBool(ctx context.Context, c contract, method string, args ...interface{}) (bool, error) {
	vals, err := r.call(ctx, c, method, args...)
	if err != nil {
		return false, err
	}
	v, ok := vals[0].(bool)
	if !ok {
		return false, fmt.Errorf("%s.%s: unexpected output %T", c.name, method, vals[0])
	}
	return v, nil
}

func u256(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

// ChannelsCount implements Registry.
func (r *EthRegistry) ChannelsCount(ctx context.Context) (uint64, error) {
	return r.callUint(ctx, r.coordinator, "channelsCount")
}

// Channel implements Registry.
func (r *EthRegistry) Channel(ctx context.Context, index uint64) (*Channel, error) {
	vals, err := r.call(ctx, r.coordinator, "channels", u256(index))
	if err != nil {
		return nil, err
	}
	var out struct {
		ChannelPoint  string
		Status        *big.Int
		AppliedDate   *big.Int
		ConfirmedDate *big.Int
		RewardAmount  *big.Int
	}
	if err := r.coordinator.abi.Methods["channels"].Outputs.Copy(&out, vals); err != nil {
		return nil, fmt.Errorf("decode channel %d: %w", index, err)
	}
	return &Channel{
		Index:         index,
		Status:        ChannelStatus(out.Status.Uint64()),
		ChannelPoint:  out.ChannelPoint,
		AppliedDate:   out.AppliedDate.Uint64(),
		ConfirmedDate: out.ConfirmedDate.Uint64(),
		RewardAmount:  out.RewardAmount,
	}, nil
}

// CapacityRequestsCount implements Registry.
func (r *EthRegistry) CapacityRequestsCount(ctx context.Context) (uint64, error) {
	return r.callUint(ctx, r.ocean, "capacityRequestsCount")
}

// CapacityRequest implements Registry.
func (r *EthRegistry) CapacityRequest(ctx context.Context, index uint64) (*CapacityRequest, error) {
	vals, err := r.call(ctx, r.ocean, "capacityRequests", u256(index))
	if err != nil {
		return nil, err
	}
	var out struct {
		Capacity     *big.Int
		AddedDate    *big.Int
		NodeUrl      string
		MakerAddress common.Address
		Status       *big.Int
		PlennyReward *big.Int
		ChannelPoint string
	}
	if err := r.ocean.abi.Methods["capacityRequests"].Outputs.Copy(&out, vals); err != nil {
		return nil, fmt.Errorf("decode capacity request %d: %w", index, err)
	}
	return &CapacityRequest{
		Index:        index,
		Status:       out.Status.Uint64(),
		MakerAddress: out.MakerAddress,
		Capacity:     out.Capacity.Int64(),
		NodeURL:      out.NodeUrl,
		ChannelPoint: out.ChannelPoint,
		PlennyReward: out.PlennyReward,
	}, nil
}

// ExpirePeriod implements Registry.
func (r *EthRegistry) ExpirePeriod(ctx context.Context) (uint64, error) {
	return r.callUint(ctx, r.ocean, "cancelingRequestPeriod")
}

// L1BlockNumber implements Registry.
func (r *EthRegistry) L1BlockNumber(ctx context.Context) (uint64, error) {
	n, err := r.l1.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("l1 block number: %w", err)
	}
	return n, nil
}

// MinQuorum implements Registry.
func (r *EthRegistry) MinQuorum(ctx context.Context) (int, error) {
	q, err := r.callUint(ctx, r.oracle, "minQuorum")
	return int(q), err
}

// OpenAnswered implements Registry.
func (r *EthRegistry) OpenAnswered(ctx context.Context, channelIndex uint64, validator common.Address) (bool, error) {
	return r.callBool(ctx, r.oracle, "oracleOpenChannelAnswers", u256(channelIndex), validator)
}

// CloseAnswered implements Registry.
func (r *EthRegistry) CloseAnswered(ctx context.Context, channelIndex uint64, validator common.Address) (bool, error) {
	return r.callBool(ctx, r.oracle, "oracleCloseChannelAnswers", u256(channelIndex), validator)
}

// LatestElectionBlock implements Registry.
func (r *EthRegistry) LatestElectionBlock(ctx context.Context) (uint64, error) {
	return r.callUint(ctx, r.election, "latestElectionBlock")
}

// ElectedValidators implements Registry.
func (r *EthRegistry) ElectedValidators(ctx context.Context, electionBlock uint64) ([]common.Address, error) {
	count, err := r.callUint(ctx, r.election, "getElectedValidatorsCount", u256(electionBlock))
	if err != nil {
		return nil, err
	}
	validators := make([]common.Address, 0, count)
	for i := uint64(0); i < count; i++ {
		vals, err := r.call(ctx, r.election, "electedValidators", u256(electionBlock), u256(i))
		if err != nil {
			return nil, err
		}
		addr, ok := vals[0].(common.Address)
		if !ok {
			return nil, fmt.Errorf("electedValidators: unexpected output %T", vals[0])
		}
		validators = append(validators, addr)
	}
	return validators, nil
}

// IsElectedValidator implements Registry.
func (r *EthRegistry) IsElectedValidator(ctx context.Context, electionBlock uint64, addr common.Address) (bool, error) {
	return r.callBool(ctx, r.election, "validators", u256(electionBlock), addr)
}

// IsOracleValidator implements Registry.
func (r *EthRegistry) IsOracleValidator(ctx context.Context, addr common.Address) (bool, error) {
	return r.callBool(ctx, r.factory, "isOracleValidator", addr)
}

// IsMaker implements Registry.
func (r *EthRegistry) IsMaker(ctx context.Context, addr common.Address) (bool, error) {
	idx, err := r.MakerIndex(ctx, addr)
	return idx > 0, err
}

// MakerIndex implements Registry.
func (r *EthRegistry) MakerIndex(ctx context.Context, addr common.Address) (uint64, error) {
	return r.callUint(ctx, r.ocean, "makerIndexPerAddress", addr)
}

// MakerNodePubkey implements Registry.
func (r *EthRegistry) MakerNodePubkey(ctx context.Context, makerIndex uint64) (string, error) {
	vals, err := r.call(ctx, r.ocean, "makers", u256(makerIndex))
	if err != nil {
		return "", err
	}
	nodeIndex, ok := vals[3].(*big.Int)
	if !ok {
		return "", fmt.Errorf("makers: unexpected output %T", vals[3])
	}
	vals, err = r.call(ctx, r.coordinator, "nodes", nodeIndex)
	if err != nil {
		return "", err
	}
	pub, ok := vals[2].(string)
	if !ok {
		return "", fmt.Errorf("nodes: unexpected output %T", vals[2])
	}
	return pub, nil
}

// ValidatorServiceURL implements Registry.
func (r *EthRegistry) ValidatorServiceURL(ctx context.Context, addr common.Address) (string, error) {
	idx, err := r.callUint(ctx, r.factory, "validatorIndexPerAddress", addr)
	if err != nil {
		return "", err
	}
	vals, err := r.call(ctx, r.factory, "validators", u256(idx))
	if err != nil {
		return "", err
	}
	url, ok := vals[4].(string)
	if !ok {
		return "", fmt.Errorf("validators: unexpected output %T", vals[4])
	}
	return url, nil
}

// Nonce implements Registry.
func (r *EthRegistry) Nonce(ctx context.Context) (uint64, error) {
	n, err := r.nonces.Next(ctx)
	if err != nil {
		return 0, fmt.Errorf("pending nonce: %w", err)
	}
	return n, nil
}

// ExecChannelOpening implements Registry.
func (r *EthRegistry) ExecChannelOpening(ctx context.Context, nonce uint64, c OpeningCommit) (common.Hash, error) {
	data, err := r.oracle.abi.Pack("execChannelOpening",
		u256(c.ChannelIndex), big.NewInt(c.Capacity), u256(c.ChannelID), c.Node1Pub, c.Node2Pub, c.Signatures)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack execChannelOpening: %w", err)
	}
	return r.transact(ctx, nonce, r.oracle, data)
}

// ExecChannelClosing implements Registry.
func (r *EthRegistry) ExecChannelClosing(ctx context.Context, nonce uint64, c ClosingCommit) (common.Hash, error) {
	data, err := r.oracle.abi.Pack("execCloseChannel", u256(c.ChannelIndex), c.ClosingTxID, c.Signatures)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack execCloseChannel: %w", err)
	}
	return r.transact(ctx, nonce, r.oracle, data)
}

// OpenChannelRequested implements Registry.
func (r *EthRegistry) OpenChannelRequested(ctx context.Context, nonce uint64, capacityIndex uint64, channelPoint string) (common.Hash, error) {
	data, err := r.ocean.abi.Pack("openChannelRequested", channelPoint, u256(capacityIndex))
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack openChannelRequested: %w", err)
	}
	return r.transact(ctx, nonce, r.ocean, data)
}

// RequestLightningCapacity implements Registry.
func (r *EthRegistry) RequestLightningCapacity(ctx context.Context, nonce uint64, o CapacityOrder) (common.Hash, error) {
	ownerNonce := o.OwnerNonce
	if ownerNonce == nil {
		ownerNonce = new(big.Int)
	}
	data, err := r.ocean.abi.Pack("requestLightningCapacity",
		o.NodeURL, big.NewInt(o.Capacity), o.MakerAddress, o.Owner, ownerNonce, o.Signature)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack requestLightningCapacity: %w", err)
	}
	return r.transact(ctx, nonce, r.ocean, data)
}

// transact signs, broadcasts and waits for a transaction to be mined.
func (r *EthRegistry) transact(ctx context.Context, nonce uint64, c contract, data []byte) (common.Hash, error) {
	to := c.addr
	gasPrice, err := r.backend.SuggestGasPrice(ctx)
	if err != nil {
		r.nonces.Reset()
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}
	gas, err := r.backend.EstimateGas(ctx, ethereum.CallMsg{From: r.account, To: &to, Data: data})
	if err != nil {
		r.nonces.Reset()
		return common.Hash{}, fmt.Errorf("estimate gas on %s: %w", c.name, err)
	}
	gas += gas / 5

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(r.cfg.ChainID), r.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := r.backend.SendTransaction(ctx, signed); err != nil {
		r.nonces.Reset()
		return common.Hash{}, fmt.Errorf("send tx to %s: %w", c.name, err)
	}

	hash := signed.Hash()
	r.logger.Info().
		Str("contract", c.name).
		Uint64("nonce", nonce).
		Str("tx", hash.Hex()).
		Msg("Transaction sent")

	receipt, err := r.waitMined(ctx, hash)
	if err != nil {
		return hash, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return hash, fmt.Errorf("%w: %s", ErrReverted, hash.Hex())
	}
	return hash, nil
}

func (r *EthRegistry) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(r.cfg.ReceiptPoll)
	defer ticker.Stop()
	for {
		receipt, err := r.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			r.logger.Debug().Err(err).Str("tx", hash.Hex()).Msg("Receipt lookup failed")
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
