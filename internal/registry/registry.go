// Package registry is the thin client for the on-chain EventRegistry: it
// submits signed attestation transactions, waits for confirmation, and
// extracts the ledger-assigned event id from the receipt.
package registry

import (
	"context"
	"fmt"
	"math/big"

	"github.com/cenkalti/backoff/v4"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/veripass/oracle/internal/signer"
	"github.com/veripass/oracle/internal/store"
)

// LowBalanceWei is the operational warning threshold (0.01 ether). Nothing
// is enforced below it; the worker only logs.
var LowBalanceWei = new(big.Int).Div(big.NewInt(params.Ether), big.NewInt(100))

// SubmitResult carries the confirmed transaction hash and the event id the
// registry assigned. EventID is zero when the expected EventRecorded log was
// absent from the receipt.
type SubmitResult struct {
	TxHash  string
	EventID uint64
}

// Client wraps a JSON-RPC connection and the bound EventRegistry contract.
// Submission blocks until the transaction is mined; callers bound the wait
// through ctx.
type Client struct {
	eth      *ethclient.Client
	contract *bind.BoundContract
	auth     *bind.TransactOpts
	address  common.Address
	logger   *zap.Logger
}

// Dial connects to the ledger RPC endpoint and binds the registry contract
// at contractAddr, using the oracle's key for transaction signing.
func Dial(ctx context.Context, rpcURL, contractAddr string, oracle *signer.OracleSigner, logger *zap.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "dial ledger rpc")
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "query chain id")
	}

	auth, err := oracle.TransactOpts(chainID)
	if err != nil {
		return nil, errors.Wrap(err, "build transactor")
	}

	address := common.HexToAddress(contractAddr)
	return &Client{
		eth:      eth,
		contract: bind.NewBoundContract(address, eventRegistryABI, eth, eth, eth),
		auth:     auth,
		address:  address,
		logger:   logger.Named("registry"),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// SubmitVerifiedEvent sends recordVerifiedEvent and blocks until the
// transaction is mined. Two-phase wait: acceptance into the network yields
// the pending hash, confirmation yields the receipt that carries the
// EventRecorded log.
func (c *Client) SubmitVerifiedEvent(ctx context.Context, assetID uint64, eventType store.EventType, dataHash common.Hash, signature []byte) (*SubmitResult, error) {
	opts := *c.auth
	opts.Context = ctx

	tx, err := c.contract.Transact(&opts, "recordVerifiedEvent",
		new(big.Int).SetUint64(assetID), ContractEventType(eventType), dataHash, signature)
	if err != nil {
		return nil, errors.Wrap(err, "submit recordVerifiedEvent")
	}

	c.logger.Info("attestation transaction sent",
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.Uint64("asset_id", assetID),
		zap.String("event_type", string(eventType)))

	receipt, err := c.waitMined(ctx, tx.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, errors.Errorf("transaction %s reverted", receipt.TxHash.Hex())
	}

	eventID, found := parseEventID(receipt)
	if !found {
		// Carried behavior: a confirmed transaction without the expected log
		// keeps event id 0 rather than failing the record.
		c.logger.Warn("EventRecorded log missing from receipt, defaulting event id to 0",
			zap.String("tx_hash", receipt.TxHash.Hex()))
	}

	return &SubmitResult{TxHash: receipt.TxHash.Hex(), EventID: eventID}, nil
}

// waitMined polls for the transaction receipt with exponential backoff until
// the transaction is mined or ctx ends. "Not found" means still pending;
// every other RPC error aborts the wait.
func (c *Client) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // confirmation is bounded by ctx, not by the client

	receipt, err := backoff.RetryWithData(func() (*types.Receipt, error) {
		r, err := c.eth.TransactionReceipt(ctx, txHash)
		if errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("transaction %s not yet mined", txHash.Hex())
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return r, nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "wait for transaction %s", txHash.Hex())
	}
	return receipt, nil
}

// IsTrustedOracle reports whether addr is on the registry's oracle
// allowlist. Used once at startup.
func (c *Client) IsTrustedOracle(ctx context.Context, addr common.Address) (bool, error) {
	var out []any
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "isTrustedOracle", addr)
	if err != nil {
		return false, errors.Wrap(err, "call isTrustedOracle")
	}
	if len(out) != 1 {
		return false, errors.Errorf("unexpected isTrustedOracle output arity %d", len(out))
	}
	trusted, ok := out[0].(bool)
	if !ok {
		return false, errors.Errorf("unexpected isTrustedOracle output type %T", out[0])
	}
	return trusted, nil
}

// Balance returns addr's balance in wei at the latest block. Used once at
// startup as an operational signal.
func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	balance, err := c.eth.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "query balance")
	}
	return balance, nil
}

// WeiToEtherString renders a wei amount as a decimal ether string for logs.
func WeiToEtherString(wei *big.Int) string {
	return new(big.Rat).SetFrac(wei, big.NewInt(params.Ether)).FloatString(6)
}
