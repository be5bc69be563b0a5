// Package chainclient answers whether a transaction has finalized on a chain,
// falling back across the network's read endpoints.
package chainclient

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/chainsafe/usdc-hopper/internal/metrics"
	"github.com/chainsafe/usdc-hopper/pkg/config"
	"github.com/chainsafe/usdc-hopper/pkg/network"
	"github.com/chainsafe/usdc-hopper/pkg/transfer"
)

// ErrNoEndpoint is returned when no candidate endpoint for a chain answered.
var ErrNoEndpoint = errors.New("no reachable endpoint")

// ReceiptStatus is the finality of a transaction
type ReceiptStatus int

const (
	// ReceiptNotFound means the transaction is not indexed yet.
	ReceiptNotFound ReceiptStatus = iota
	ReceiptSuccess
	ReceiptFailed
)

func (s ReceiptStatus) String() string {
	switch s {
	case ReceiptSuccess:
		return "success"
	case ReceiptFailed:
		return "failed"
	default:
		return "not_found"
	}
}

// Conn is the part of an RPC connection the client needs
type Conn interface {
	ChainID(ctx context.Context) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// Dialer opens a connection to an endpoint URL
type Dialer func(ctx context.Context, url string) (Conn, error)

// DialEthereum dials url with go-ethereum's ethclient.
func DialEthereum(ctx context.Context, url string) (Conn, error) {
	return ethclient.DialContext(ctx, url)
}

// Option configures a Client
type Option func(*Client)

// WithDialer replaces the endpoint dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dial = d }
}

// Client looks up receipts. Probed endpoints are cached per URL and reused
// without another probe.
type Client struct {
	registry network.Registry
	cfg      config.ChainConfig
	dial     Dialer
	logger   *zap.Logger

	mu       sync.Mutex
	conns    map[string]Conn
	limiters map[uint64]*rate.Limiter
}

// New creates a receipt client over the registry's endpoints
func New(registry network.Registry, cfg config.ChainConfig, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		registry: registry,
		cfg:      cfg,
		dial:     DialEthereum,
		logger:   logger,
		conns:    make(map[string]Conn),
		limiters: make(map[uint64]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetReceipt reports the finality of txHash on chainID. A transaction that is
// not indexed yet is ReceiptNotFound with a nil error. ErrNoEndpoint is
// returned when every candidate endpoint failed.
func (c *Client) GetReceipt(ctx context.Context, chainID uint64, txHash string) (ReceiptStatus, error) {
	if !transfer.IsTxHash(txHash) {
		return ReceiptNotFound, fmt.Errorf("invalid transaction hash %q", txHash)
	}
	n, ok := c.registry.LookupByChainID(chainID)
	if !ok {
		return ReceiptNotFound, fmt.Errorf("%w: chain id %d", network.ErrUnknownNetwork, chainID)
	}
	chainLabel := strconv.FormatUint(chainID, 10)

	if err := c.wait(ctx, chainID, chainLabel); err != nil {
		return ReceiptNotFound, err
	}

	hash := common.HexToHash(txHash)
	var lastErr error
	for _, url := range n.RPCURLs {
		if err := ctx.Err(); err != nil {
			return ReceiptNotFound, err
		}

		conn, err := c.connect(ctx, chainID, url)
		if err != nil {
			lastErr = err
			metrics.EndpointFailures.WithLabelValues(chainLabel, "probe").Inc()
			c.logger.Debug("Endpoint probe failed",
				zap.Uint64("chain_id", chainID),
				zap.String("rpc_url", url),
				zap.Error(err))
			continue
		}

		status, err := c.receipt(ctx, conn, hash)
		if err != nil {
			lastErr = err
			metrics.EndpointFailures.WithLabelValues(chainLabel, "receipt").Inc()
			c.logger.Warn("Receipt lookup failed, trying next endpoint",
				zap.Uint64("chain_id", chainID),
				zap.String("rpc_url", url),
				zap.String("tx_hash", txHash),
				zap.Error(err))
			continue
		}

		metrics.ReceiptLookups.WithLabelValues(chainLabel, status.String()).Inc()
		return status, nil
	}

	metrics.ReceiptLookups.WithLabelValues(chainLabel, "no_endpoint").Inc()
	if lastErr == nil {
		return ReceiptNotFound, fmt.Errorf("%w: chain id %d has no endpoints configured", ErrNoEndpoint, chainID)
	}
	return ReceiptNotFound, fmt.Errorf("%w: chain id %d: %v", ErrNoEndpoint, chainID, lastErr)
}

func (c *Client) receipt(ctx context.Context, conn Conn, hash common.Hash) (ReceiptStatus, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	r, err := conn.TransactionReceipt(attemptCtx, hash)
	if err != nil {
		if isNotFound(err) {
			return ReceiptNotFound, nil
		}
		return ReceiptNotFound, err
	}
	if r.Status == types.ReceiptStatusSuccessful {
		return ReceiptSuccess, nil
	}
	return ReceiptFailed, nil
}

// connect returns the cached connection for url, or dials and probes it.
// The probe requires eth_chainId to answer within the attempt timeout with
// the expected chain id.
func (c *Client) connect(ctx context.Context, chainID uint64, url string) (Conn, error) {
	c.mu.Lock()
	conn, ok := c.conns[url]
	c.mu.Unlock()
	if ok {
		return conn, nil
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	conn, err := c.dial(attemptCtx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	got, err := conn.ChainID(attemptCtx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("probe %s: %w", url, err)
	}
	if !got.IsUint64() || got.Uint64() != chainID {
		conn.Close()
		return nil, fmt.Errorf("probe %s: chain id %s, want %d", url, got, chainID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.conns[url]; ok {
		conn.Close()
		return existing, nil
	}
	c.conns[url] = conn
	c.logger.Info("Cached read endpoint", zap.Uint64("chain_id", chainID), zap.String("rpc_url", url))
	return conn, nil
}

func (c *Client) wait(ctx context.Context, chainID uint64, chainLabel string) error {
	if c.cfg.RequestsPerSecond <= 0 {
		return nil
	}

	c.mu.Lock()
	l, ok := c.limiters[chainID]
	if !ok {
		burst := c.cfg.Burst
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(c.cfg.RequestsPerSecond), burst)
		c.limiters[chainID] = l
	}
	c.mu.Unlock()

	if l.Tokens() < 1 {
		metrics.RateLimitWaits.WithLabelValues(chainLabel).Inc()
	}
	if err := l.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("rate limit for chain id %d: %w", chainID, err)
	}
	return nil
}

// Close closes every cached connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for url, conn := range c.conns {
		conn.Close()
		delete(c.conns, url)
	}
}

// isNotFound matches ethclient's sentinel and the messages some nodes send
// for unknown transactions.
func isNotFound(err error) bool {
	if errors.Is(err, ethereum.NotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "unknown transaction")
}
