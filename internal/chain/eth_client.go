package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"ramprails/internal/events"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// EthClient binds one deployed contract over JSON-RPC. A client without a
// private key is read-only: Call and Subscribe work, Send fails.
type EthClient struct {
	client    *ethclient.Client
	contract  *bind.BoundContract
	abi       abi.ABI
	address   common.Address
	chainID   *big.Int
	transacts *bind.TransactOpts
	from      common.Address
	nonces    *NonceSequencer

	confirmTimeout time.Duration
	pollInterval   time.Duration
	log            *logrus.Entry
}

type EthClientConfig struct {
	RPCURL          string
	PrivateKeyHex   string
	ContractAddress string
	ABI             string

	ConfirmationTimeout time.Duration
	PollInterval        time.Duration

	// Nonces must be shared between all clients signing with the same key.
	Nonces *NonceSequencer
}

func NewEthClient(ctx context.Context, cfg EthClientConfig, log *logrus.Logger) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.ContractAddress == "" {
		return nil, fmt.Errorf("contract address is required")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(cfg.ABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	address := common.HexToAddress(cfg.ContractAddress)
	bound := bind.NewBoundContract(address, parsedABI, cli, cli, cli)

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	confirmTimeout := cfg.ConfirmationTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = 2 * time.Minute
	}

	c := &EthClient{
		client:         cli,
		contract:       bound,
		abi:            parsedABI,
		address:        address,
		confirmTimeout: confirmTimeout,
		pollInterval:   pollInterval,
		nonces:         cfg.Nonces,
		log:            log.WithField("component", "chain").WithField("contract", address.Hex()),
	}

	if cfg.PrivateKeyHex == "" {
		return c, nil
	}

	pk, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	txOpts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	txOpts.GasLimit = 0 // let node estimate
	txOpts.GasPrice = nil

	c.chainID = chainID
	c.transacts = txOpts
	c.from = crypto.PubkeyToAddress(pk.PublicKey)
	if c.nonces == nil {
		c.nonces = NewNonceSequencer()
	}
	return c, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// From returns the signing address, or the zero address for a read-only client.
func (c *EthClient) From() common.Address {
	return c.from
}

func (c *EthClient) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return out, nil
}

func (c *EthClient) Send(ctx context.Context, method string, args ...interface{}) (*types.Receipt, error) {
	if c.transacts == nil {
		return nil, fmt.Errorf("client is read-only")
	}

	nonce, err := c.nonces.Reserve(ctx, c.client, c.from)
	if err != nil {
		return nil, fmt.Errorf("reserve nonce: %w", err)
	}

	opts := *c.transacts
	opts.Context = ctx
	opts.Nonce = nonce

	tx, err := c.contract.Transact(&opts, method, args...)
	if err != nil {
		c.nonces.Invalidate()
		return nil, fmt.Errorf("submit %s tx: %w", method, err)
	}

	c.log.WithFields(logrus.Fields{"method": method, "tx": tx.Hash().Hex(), "nonce": nonce}).Info("transaction submitted")
	return c.waitConfirmed(ctx, tx)
}

// waitConfirmed polls until the transaction is mined, the bounded timeout
// elapses, or the context is cancelled. A submitted transaction is never
// retracted; on timeout it is abandoned but reported.
func (c *EthClient) waitConfirmed(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(waitCtx, tx.Hash())
		if receipt != nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return nil, &RevertError{
					Reason: c.revertReason(waitCtx, tx, receipt),
					TxHash: tx.Hash().Hex(),
				}
			}
			return receipt, nil
		}
		if err != nil && !strings.Contains(err.Error(), "not found") {
			if classified := classifyLookupError(ctx, waitCtx, tx.Hash().Hex()); classified != nil {
				return nil, classified
			}
			return nil, err
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.WithField("tx", tx.Hash().Hex()).Warn("confirmation wait timed out, abandoning")
			return nil, &TimeoutError{TxHash: tx.Hash().Hex()}
		case <-ticker.C:
		}
	}
}

// classifyLookupError maps a receipt lookup failure caused by the wait
// expiring onto the confirmation taxonomy. A dead parent context wins over
// the bounded timeout; an error unrelated to either context yields nil and
// the caller surfaces the raw lookup error.
func classifyLookupError(ctx, waitCtx context.Context, txHash string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitCtx.Err() != nil {
		return &TimeoutError{TxHash: txHash}
	}
	return nil
}

// revertReason replays the transaction as a call at the mined block to
// recover the revert string.
func (c *EthClient) revertReason(ctx context.Context, tx *types.Transaction, receipt *types.Receipt) string {
	msg := ethereum.CallMsg{
		From:  c.from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}
	result, err := c.client.CallContract(ctx, msg, receipt.BlockNumber)
	if err != nil {
		return err.Error()
	}
	if reason, unpackErr := abi.UnpackRevert(result); unpackErr == nil {
		return reason
	}
	return "execution reverted"
}

func (c *EthClient) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.client.BlockNumber(ctx)
	return err
}

// Subscribe replays logs from fromBlock and then follows the head, emitting
// decoded events in (block, log index) order. Unknown or malformed logs are
// logged and skipped.
func (c *EthClient) Subscribe(ctx context.Context, fromBlock uint64) (<-chan events.Event, error) {
	decoder, err := events.NewDecoder()
	if err != nil {
		return nil, err
	}

	out := make(chan events.Event, 64)
	go c.streamLogs(ctx, decoder, fromBlock, out)
	return out, nil
}

const filterChunk = 2000

func (c *EthClient) streamLogs(ctx context.Context, decoder *events.Decoder, fromBlock uint64, out chan<- events.Event) {
	defer close(out)

	next := fromBlock
	timestamps := map[uint64]uint64{}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		head, err := c.client.BlockNumber(ctx)
		if err != nil {
			c.log.WithError(err).Warn("head lookup failed")
		} else {
			for next <= head {
				to := next + filterChunk - 1
				if to > head {
					to = head
				}
				if err := c.emitRange(ctx, decoder, next, to, timestamps, out); err != nil {
					if ctx.Err() != nil {
						return
					}
					c.log.WithError(err).WithFields(logrus.Fields{"from": next, "to": to}).Warn("log replay failed, will retry")
					break
				}
				next = to + 1
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *EthClient) emitRange(ctx context.Context, decoder *events.Decoder, from, to uint64, timestamps map[uint64]uint64, out chan<- events.Event) error {
	logs, err := c.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.address},
	})
	if err != nil {
		return fmt.Errorf("filter logs: %w", err)
	}

	for _, lg := range logs {
		ts, ok := timestamps[lg.BlockNumber]
		if !ok {
			header, err := c.client.HeaderByNumber(ctx, new(big.Int).SetUint64(lg.BlockNumber))
			if err != nil {
				return fmt.Errorf("header %d: %w", lg.BlockNumber, err)
			}
			// Small cache; ranges are short-lived so it never grows much.
			if len(timestamps) > 4*filterChunk {
				for k := range timestamps {
					delete(timestamps, k)
				}
			}
			ts = header.Time
			timestamps[lg.BlockNumber] = ts
		}

		ev, err := decoder.DecodeLog(lg, ts)
		if err != nil {
			c.log.WithError(err).WithFields(logrus.Fields{
				"tx":       lg.TxHash.Hex(),
				"logIndex": lg.Index,
			}).Warn("undecodable log skipped")
			continue
		}

		select {
		case out <- *ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// HashUTF8 hashes a plaintext channel identifier the way it appears
// on-chain: keccak256 over the UTF-8 bytes, never the plaintext itself.
func HashUTF8(content string) common.Hash {
	return crypto.Keccak256Hash([]byte(content))
}
