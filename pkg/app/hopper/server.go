// Package hopper implements app.Runner for the hopper daemon.
package hopper

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	apphttp "github.com/chainsafe/usdc-hopper/pkg/app/http"
	"github.com/chainsafe/usdc-hopper/pkg/bridge/rpcengine"
	"github.com/chainsafe/usdc-hopper/pkg/chainclient"
	"github.com/chainsafe/usdc-hopper/pkg/config"
	"github.com/chainsafe/usdc-hopper/pkg/network"
	"github.com/chainsafe/usdc-hopper/pkg/orchestrator"
	"github.com/chainsafe/usdc-hopper/pkg/pgutil"
	"github.com/chainsafe/usdc-hopper/pkg/quote"
	"github.com/chainsafe/usdc-hopper/pkg/transferstore"
	"github.com/chainsafe/usdc-hopper/pkg/transferstore/filestore"
	"github.com/chainsafe/usdc-hopper/pkg/transferstore/memstore"
	"github.com/chainsafe/usdc-hopper/pkg/transferstore/pgstore"
	"github.com/chainsafe/usdc-hopper/pkg/transferstore/redisstore"
	"github.com/chainsafe/usdc-hopper/pkg/wallet"
	"github.com/chainsafe/usdc-hopper/pkg/watcher"
)

// Server holds cfg to init the hopper daemon.
type Server struct {
	cfg *config.Config
}

// NewServer initializes a new hopper daemon.
func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

func (s *Server) Run() error {
	if s.cfg == nil {
		return fmt.Errorf("hopper config is nil")
	}
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting hopper",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver),
	)

	backend, closeBackend, err := s.openBackend(ctx, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	registry, err := network.NewStaticRegistry(s.networkOverrides())
	if err != nil {
		return fmt.Errorf("build network registry: %w", err)
	}

	signer, err := wallet.FromPrivateKey(config.Secret(cfg.Wallet.PrivateKeyEnv))
	if err != nil {
		return err
	}
	if _, ok := signer.(wallet.Disconnected); ok {
		logger.Warn("No wallet key configured, transfers will be rejected",
			zap.String("env", cfg.Wallet.PrivateKeyEnv))
	}

	store := transferstore.New(backend, logger)
	chains := chainclient.New(registry, cfg.Chain, logger)
	defer chains.Close()

	var engineOpts []rpcengine.Option
	if cfg.Engine.Auth == config.EngineAuthJWT {
		engineOpts = append(engineOpts, rpcengine.WithJWTAuth())
	}
	engine := rpcengine.New(cfg.Engine.URL, config.Secret(cfg.Engine.APIKeyEnv), logger, engineOpts...)
	quotes := quote.NewClient(cfg.Quote.BaseURL, config.Secret(cfg.Quote.APIKeyEnv), cfg.Quote.Timeout, logger)

	orch := orchestrator.New(store, engine, registry, signer, quotes, logger,
		orchestrator.WithTransferSpeed(cfg.Engine.TransferSpeed))
	w := watcher.New(store, chains, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := store.WatchChanges(ctx); err != nil {
			logger.Warn("Cross-process change notifications unavailable", zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()

	h := &Handler{
		Store:        store,
		Orchestrator: orch,
		Watcher:      w,
		Quoter:       quotes,
		Registry:     registry,
		Logger:       logger,
	}
	router := NewRouter(h, cfg.Monitoring.Enabled)

	err = apphttp.ServeAndWait(ctx, router, logger, &cfg.Server)

	// Stop background work before deferred closes kick in.
	stop()
	wg.Wait()

	return err
}

// openBackend builds the configured persistence backend. The returned func
// releases everything the backend holds.
func (s *Server) openBackend(ctx context.Context, logger *zap.Logger) (transferstore.Backend, func(), error) {
	cfg := s.cfg
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		b := memstore.New()
		return b, func() { _ = b.Close() }, nil

	case config.StoreDriverFile:
		b, err := filestore.New(cfg.Store.Dir, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open file store: %w", err)
		}
		logger.Info("Using file store", zap.String("dir", cfg.Store.Dir))
		return b, func() { _ = b.Close() }, nil

	case config.StoreDriverRedis:
		b := redisstore.New(redisstore.NewPool(&cfg.Redis), logger)
		if err := b.Ping(ctx); err != nil {
			_ = b.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("Connected to redis", zap.String("addr", cfg.Redis.Addr()))
		return b, func() { _ = b.Close() }, nil

	case config.StoreDriverPostgres:
		db, err := pgutil.ConnectDB(ctx, &cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Connected to database",
			zap.String("host", cfg.Database.Host),
			zap.String("database", cfg.Database.Database),
		)
		b := pgstore.NewStore(db, logger)
		return b, func() { _ = b.Close(); _ = db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func (s *Server) networkOverrides() map[string]network.Override {
	if len(s.cfg.Networks) == 0 {
		return nil
	}
	out := make(map[string]network.Override, len(s.cfg.Networks))
	for id, n := range s.cfg.Networks {
		out[id] = network.Override{RPCURL: n.RPCURL, Fallbacks: n.Fallbacks}
	}
	return out
}
