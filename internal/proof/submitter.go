package proof

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"verdictd/internal/model"
)

const (
	registryABIJSON = `[
{"inputs":[{"internalType":"bytes32","name":"digest","type":"bytes32"},{"internalType":"string","name":"verdict","type":"string"}],"name":"storeVerdict","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"bytes32","name":"","type":"bytes32"}],"name":"verified","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"bytes32","name":"digest","type":"bytes32"},{"indexed":false,"internalType":"string","name":"verdict","type":"string"},{"indexed":false,"internalType":"uint256","name":"timestamp","type":"uint256"}],"name":"VerdictStored","type":"event"}
]`

	methodStore    = "storeVerdict"
	methodVerified = "verified"
	eventStored    = "VerdictStored"
)

var registryABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(registryABIJSON))
	if err != nil {
		panic("failed to parse verdict registry ABI: " + err.Error())
	}
	registryABI = parsed
}

// ChainClient is the subset of ethclient.Client the submitter needs.
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Submitter writes verdict digests to the on-chain registry.
type Submitter interface {
	Submit(ctx context.Context, digest common.Hash, verdict model.Verdict) (Receipt, error)
}

// Receipt describes a confirmed proof transaction.
type Receipt struct {
	TxHash          string
	BlockNumber     uint64
	LedgerTimestamp *time.Time
}

// Options parameterise the ledger submitter.
type Options struct {
	RPCURL          string
	ChainID         int64
	ContractAddress string
	PrivateKey      string
	GasLimit        uint64
	RequestTimeout  time.Duration
	ConfirmTimeout  time.Duration
	PollInterval    time.Duration
}

// Ledger submits storeVerdict transactions and waits for their receipts.
type Ledger struct {
	opts     Options
	logger   zerolog.Logger
	contract common.Address
	key      *ecdsa.PrivateKey
	keyErr   error
	from     common.Address

	client    ChainClient
	clientMux sync.Mutex
	sendMux   sync.Mutex
}

// NewLedger builds a submitter that dials opts.RPCURL on first use.
func NewLedger(opts Options, logger zerolog.Logger) *Ledger {
	return newLedger(opts, nil, logger)
}

// NewLedgerWithClient builds a submitter over an existing chain client.
func NewLedgerWithClient(opts Options, client ChainClient, logger zerolog.Logger) *Ledger {
	return newLedger(opts, client, logger)
}

func newLedger(opts Options, client ChainClient, logger zerolog.Logger) *Ledger {
	if opts.GasLimit == 0 {
		opts.GasLimit = 120_000
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 2 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}

	l := &Ledger{
		opts:   opts,
		logger: logger.With().Str("component", "proof_submitter").Logger(),
		client: client,
	}
	if common.IsHexAddress(opts.ContractAddress) {
		l.contract = common.HexToAddress(opts.ContractAddress)
	}
	if opts.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(opts.PrivateKey, "0x"))
		if err != nil {
			l.keyErr = err
		} else {
			l.key = key
			l.from = crypto.PubkeyToAddress(key.PublicKey)
		}
	}
	return l
}

// From returns the signer address, or the zero address when no key is set.
func (l *Ledger) From() common.Address { return l.from }

// Configured reports whether proof submission can be attempted at all.
func (l *Ledger) Configured() bool {
	return l.opts.PrivateKey != "" && l.contract != (common.Address{}) && (l.client != nil || l.opts.RPCURL != "")
}

// Submit sends storeVerdict(digest, verdict) and blocks until the transaction
// is mined, reverted, or the confirmation window elapses.
func (l *Ledger) Submit(ctx context.Context, digest common.Hash, verdict model.Verdict) (Receipt, error) {
	if !l.Configured() {
		return Receipt{}, stageErr("config", ErrNotConfigured, nil)
	}
	if l.keyErr != nil {
		return Receipt{}, stageErr("config", ErrSigning, l.keyErr)
	}

	// one in-flight transaction at a time keeps nonces monotonic
	l.sendMux.Lock()
	defer l.sendMux.Unlock()

	client, err := l.getClient(ctx)
	if err != nil {
		return Receipt{}, stageErr("dial", ErrRejected, err)
	}

	if recorded, err := l.isRecorded(ctx, client, digest); err != nil {
		l.logger.Warn().Err(err).Str("digest", digest.Hex()).Msg("ledger seen-check failed; submitting anyway")
	} else if recorded {
		return Receipt{}, stageErr("precheck", ErrAlreadyRecorded, nil)
	}

	signed, err := l.buildSigned(ctx, client, digest, verdict)
	if err != nil {
		return Receipt{}, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, l.opts.RequestTimeout)
	err = client.SendTransaction(sendCtx, signed)
	cancel()
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "insufficient funds") {
			return Receipt{}, stageErr("send", ErrInsufficientFunds, err)
		}
		return Receipt{}, stageErr("send", ErrRejected, err)
	}

	txHash := signed.Hash()
	l.logger.Info().Str("tx", txHash.Hex()).Str("digest", digest.Hex()).Str("verdict", string(verdict)).Msg("proof transaction sent")

	receipt, err := l.waitMined(ctx, client, txHash)
	if err != nil {
		var pe *Error
		if errors.As(err, &pe) {
			pe.TxHash = txHash.Hex()
		}
		return Receipt{}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Receipt{}, &Error{Stage: "confirm", TxHash: txHash.Hex(), Err: ErrReverted}
	}

	out := Receipt{TxHash: txHash.Hex()}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if ts, ok := ledgerTimestamp(receipt, digest); ok {
		out.LedgerTimestamp = &ts
	}
	l.logger.Info().Str("tx", out.TxHash).Uint64("block", out.BlockNumber).Msg("proof transaction confirmed")
	return out, nil
}

func (l *Ledger) buildSigned(ctx context.Context, client ChainClient, digest common.Hash, verdict model.Verdict) (*types.Transaction, error) {
	data, err := registryABI.Pack(methodStore, [32]byte(digest), string(verdict))
	if err != nil {
		return nil, stageErr("encode", ErrSigning, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, l.opts.RequestTimeout)
	defer cancel()

	chainID := big.NewInt(l.opts.ChainID)
	if l.opts.ChainID == 0 {
		if chainID, err = client.ChainID(callCtx); err != nil {
			return nil, stageErr("chain_id", ErrRejected, err)
		}
	}
	nonce, err := client.PendingNonceAt(callCtx, l.from)
	if err != nil {
		return nil, stageErr("nonce", ErrRejected, err)
	}
	gasPrice, err := client.SuggestGasPrice(callCtx)
	if err != nil {
		return nil, stageErr("gas_price", ErrRejected, err)
	}

	cost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(l.opts.GasLimit))
	balance, err := client.BalanceAt(callCtx, l.from, nil)
	if err != nil {
		return nil, stageErr("balance", ErrRejected, err)
	}
	if balance.Cmp(cost) < 0 {
		return nil, stageErr("balance", ErrInsufficientFunds,
			fmt.Errorf("have %s wei, need %s wei", balance.String(), cost.String()))
	}

	to := l.contract
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      l.opts.GasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), l.key)
	if err != nil {
		return nil, stageErr("sign", ErrSigning, err)
	}
	return signed, nil
}

// IsRecorded reports whether the registry already maps digest to seen.
func (l *Ledger) IsRecorded(ctx context.Context, digest common.Hash) (bool, error) {
	if l.contract == (common.Address{}) {
		return false, stageErr("config", ErrNotConfigured, nil)
	}
	client, err := l.getClient(ctx)
	if err != nil {
		return false, err
	}
	return l.isRecorded(ctx, client, digest)
}

func (l *Ledger) isRecorded(ctx context.Context, client ChainClient, digest common.Hash) (bool, error) {
	payload, err := registryABI.Pack(methodVerified, [32]byte(digest))
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, l.opts.RequestTimeout)
	defer cancel()

	to := l.contract
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: payload}, nil)
	if err != nil {
		return false, err
	}
	outputs, err := registryABI.Unpack(methodVerified, res)
	if err != nil {
		return false, err
	}
	if len(outputs) != 1 {
		return false, errors.New("unexpected verified response")
	}
	seen, ok := outputs[0].(bool)
	if !ok {
		return false, errors.New("failed to decode verified output")
	}
	return seen, nil
}

func (l *Ledger) waitMined(ctx context.Context, client ChainClient, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			l.logger.Debug().Err(err).Str("tx", txHash.Hex()).Msg("receipt lookup failed; retrying")
		}

		select {
		case <-ctx.Done():
			return nil, stageErr("confirm", ErrTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

func ledgerTimestamp(receipt *types.Receipt, digest common.Hash) (time.Time, bool) {
	event := registryABI.Events[eventStored]
	for _, lg := range receipt.Logs {
		if lg == nil || len(lg.Topics) < 2 || lg.Topics[0] != event.ID || lg.Topics[1] != digest {
			continue
		}
		values, err := event.Inputs.NonIndexed().Unpack(lg.Data)
		if err != nil || len(values) != 2 {
			continue
		}
		ts, ok := values[1].(*big.Int)
		if !ok {
			continue
		}
		return time.Unix(ts.Int64(), 0).UTC(), true
	}
	return time.Time{}, false
}

func (l *Ledger) getClient(ctx context.Context) (ChainClient, error) {
	l.clientMux.Lock()
	defer l.clientMux.Unlock()

	if l.client != nil {
		return l.client, nil
	}
	client, err := ethclient.DialContext(ctx, l.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	l.client = client
	return client, nil
}

// Close releases the RPC connection when the ledger dialed it.
func (l *Ledger) Close() {
	l.clientMux.Lock()
	defer l.clientMux.Unlock()
	if c, ok := l.client.(*ethclient.Client); ok {
		c.Close()
	}
	l.client = nil
}

// ShortHash abbreviates a transaction hash for notification text.
func ShortHash(tx string) string {
	if len(tx) <= 14 {
		return tx
	}
	return tx[:10] + "…" + tx[len(tx)-4:]
}

var (
	_ Submitter   = (*Ledger)(nil)
	_ ChainClient = (*ethclient.Client)(nil)
)
