// Package ledger talks to the ticket contract over Ethereum JSON-RPC.
package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	otelx "github.com/md-rashed-zaman/ticketledger/libs/otel"
)

//go:embed ticket_abi.json
var ticketABI string

const (
	methodIssue   = "issueTicket"
	methodDetails = "getTicketDetails"
)

const DefaultGasLimit uint64 = 210_000

// DefaultGasPrice is 20 Gwei.
var DefaultGasPrice = big.NewInt(20_000_000_000)

var ErrReverted = errors.New("ledger: transaction reverted")

type Config struct {
	RPCURL          string
	ContractAddress string
	GasPrice        *big.Int
	GasLimit        uint64
	PollInterval    time.Duration
}

type Client struct {
	rpc      *ethclient.Client
	contract common.Address
	abi      abi.ABI
	gasPrice *big.Int
	gasLimit uint64
	poll     time.Duration
	tracer   trace.Tracer
}

func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("ledger: invalid contract address %q", cfg.ContractAddress)
	}
	parsed, err := abi.JSON(strings.NewReader(ticketABI))
	if err != nil {
		return nil, fmt.Errorf("ledger: parse abi: %w", err)
	}
	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial %s: %w", cfg.RPCURL, err)
	}

	if cfg.GasPrice == nil {
		cfg.GasPrice = DefaultGasPrice
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = DefaultGasLimit
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Client{
		rpc:      rpc,
		contract: common.HexToAddress(cfg.ContractAddress),
		abi:      parsed,
		gasPrice: cfg.GasPrice,
		gasLimit: cfg.GasLimit,
		poll:     cfg.PollInterval,
		tracer:   otelx.Tracer("ticket-service/ledger"),
	}, nil
}

func (c *Client) Close() {
	c.rpc.Close()
}

// HasTicket calls the contract's getTicketDetails view for (address, eventID).
func (c *Client) HasTicket(ctx context.Context, address, eventID string) (has bool, err error) {
	ctx, span := c.tracer.Start(ctx, "ledger.getTicketDetails", trace.WithAttributes(
		attribute.String("ledger.address", address),
		attribute.String("ticket.event_id", eventID),
	))
	defer func() { endSpan(span, err) }()

	if !common.IsHexAddress(address) {
		return false, fmt.Errorf("ledger: invalid address %q", address)
	}
	data, err := c.abi.Pack(methodDetails, common.HexToAddress(address), eventID)
	if err != nil {
		return false, fmt.Errorf("ledger: pack %s: %w", methodDetails, err)
	}
	out, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("ledger: call %s: %w", methodDetails, err)
	}
	values, err := c.abi.Unpack(methodDetails, out)
	if err != nil {
		return false, fmt.Errorf("ledger: unpack %s: %w", methodDetails, err)
	}
	if len(values) != 1 {
		return false, fmt.Errorf("ledger: %s returned %d values", methodDetails, len(values))
	}
	has, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("ledger: %s returned %T", methodDetails, values[0])
	}
	return has, nil
}

// Issue signs issueTicket(from, eventID) with privateKeyHex, broadcasts it
// and blocks until the receipt is mined or ctx ends. It returns the tx hash.
func (c *Client) Issue(ctx context.Context, from, privateKeyHex, eventID string) (txHash string, err error) {
	ctx, span := c.tracer.Start(ctx, "ledger.issueTicket", trace.WithAttributes(
		attribute.String("ledger.address", from),
		attribute.String("ticket.event_id", eventID),
	))
	defer func() { endSpan(span, err) }()

	if !common.IsHexAddress(from) {
		return "", fmt.Errorf("ledger: invalid address %q", from)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return "", fmt.Errorf("ledger: parse signing key: %w", err)
	}
	fromAddr := common.HexToAddress(from)

	data, err := c.abi.Pack(methodIssue, fromAddr, eventID)
	if err != nil {
		return "", fmt.Errorf("ledger: pack %s: %w", methodIssue, err)
	}
	nonce, err := c.rpc.NonceAt(ctx, fromAddr, nil)
	if err != nil {
		return "", fmt.Errorf("ledger: nonce: %w", err)
	}
	chainID, err := c.rpc.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("ledger: chain id: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Value:    big.NewInt(0),
		Gas:      c.gasLimit,
		GasPrice: c.gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), key)
	if err != nil {
		return "", fmt.Errorf("ledger: sign: %w", err)
	}
	if err := c.rpc.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("ledger: send: %w", err)
	}
	span.SetAttributes(attribute.String("ledger.tx_hash", signed.Hash().Hex()))

	receipt, err := c.waitReceipt(ctx, signed.Hash())
	if err != nil {
		return "", err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("%w: %s", ErrReverted, signed.Hash().Hex())
	}
	return signed.Hash().Hex(), nil
}

func (c *Client) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		receipt, err := c.rpc.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("ledger: receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("ledger: waiting for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) ReadyCheck() func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := c.rpc.ChainID(ctx)
		return err
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
