// Package service assembles the wallet bot from its parts and owns their
// lifetime. It can be embedded in any binary.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-bot/config"
	"github.com/Klingon-tech/klingnet-bot/internal/account"
	"github.com/Klingon-tech/klingnet-bot/internal/bot"
	"github.com/Klingon-tech/klingnet-bot/internal/chain"
	"github.com/Klingon-tech/klingnet-bot/internal/conversation"
	"github.com/Klingon-tech/klingnet-bot/internal/dispatch"
	klog "github.com/Klingon-tech/klingnet-bot/internal/log"
	"github.com/Klingon-tech/klingnet-bot/internal/market"
	"github.com/Klingon-tech/klingnet-bot/internal/metrics"
	"github.com/Klingon-tech/klingnet-bot/internal/storage"
	"github.com/Klingon-tech/klingnet-bot/internal/telegram"
	"github.com/Klingon-tech/klingnet-bot/internal/wallet"
)

// Key prefixes partitioning the shared database.
var (
	accountPrefix = []byte("acct/")
	promptPrefix  = []byte("prompt/")
)

// drainTimeout bounds how long Stop waits for queued events.
const drainTimeout = 15 * time.Second

// Transport feeds events in and carries results out.
type Transport interface {
	Run(ctx context.Context, submit func(bot.Event) error) error
	Deliver(ev bot.Event, res *bot.Result) error
}

// ChainCloser is a Gateway holding a connection.
type ChainCloser interface {
	chain.Gateway
	Close()
}

// Service is a fully wired wallet bot.
type Service struct {
	cfg    *config.Config
	logger zerolog.Logger

	db         storage.DB
	gateway    chain.Gateway
	accounts   *account.Store
	prompts    *conversation.Machine
	router     *bot.Router
	serializer *bot.Serializer
	transport  Transport
	opsServer  *metrics.Server

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{} // closed when the transport loop exits
	doneOnce sync.Once
	started  bool
	runErr   error
	stopped  sync.Once
}

// New creates and initializes a Service: logger, storage, chain gateway,
// Telegram login. It does not start polling; call Start for that.
// passphrase seals secret keys at rest and may be empty.
func New(ctx context.Context, cfg *config.Config, passphrase []byte) (*Service, error) {
	// ── 1. Init logger ──────────────────────────────────────────────
	logFile := expandHome(cfg.Log.File)
	if logFile == "" {
		if err := os.MkdirAll(cfg.LogsDir(), 0700); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		logFile = filepath.Join(cfg.LogsDir(), "klingbot.log")
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.WithComponent("service")

	logger.Info().
		Str("storage", cfg.Storage.Backend).
		Str("rpc", cfg.Chain.RPC).
		Bool("sealed", len(passphrase) > 0).
		Msg("Starting Klingbot wallet daemon")

	// ── 2. Open storage ─────────────────────────────────────────────
	location := expandHome(cfg.StorageLocation())
	db, err := storage.Open(cfg.Storage.Backend, location, cfg.Storage.Timeout)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Backend, err)
	}
	klog.Storage.Info().Str("backend", cfg.Storage.Backend).Msg("Database opened")

	// ── 3. Chain gateway ────────────────────────────────────────────
	opts := chain.Options{
		Timeout: cfg.Chain.Timeout,
		Metrics: metrics.Bot(),
	}
	if cfg.Chain.ChainID > 0 {
		opts.ChainID = big.NewInt(cfg.Chain.ChainID)
	}
	gw, err := chain.Dial(ctx, cfg.Chain.RPC, opts)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("dial chain: %w", err)
	}
	if id, err := gw.ChainID(ctx); err != nil {
		// Not fatal: the id is asked for again on first use.
		logger.Warn().Err(err).Msg("Chain node not answering yet")
	} else {
		logger.Info().Str("chain_id", id.String()).Msg("Chain node connected")
	}

	// ── 4. Telegram ─────────────────────────────────────────────────
	tg, err := telegram.New(cfg.Telegram.Token, cfg.Telegram.PollTimeout)
	if err != nil {
		gw.Close()
		db.Close()
		return nil, err
	}

	return assemble(cfg, db, gw, tg, passphrase), nil
}

// assemble wires the domain components over already-open infrastructure.
func assemble(cfg *config.Config, db storage.DB, gw chain.Gateway, transport Transport, passphrase []byte) *Service {
	logger := klog.WithComponent("service")
	m := metrics.Bot()

	sealer := wallet.NewSealer(passphrase, wallet.DefaultParams())
	accounts := account.NewStore(storage.NewPrefixDB(db, accountPrefix), sealer)
	prompts := conversation.New(storage.NewPrefixDB(db, promptPrefix), conversation.Options{
		TTL:     cfg.Bot.PromptTTL,
		Metrics: m,
	})

	var lookup bot.TokenLookup
	if cfg.Market.URL != "" {
		lookup = market.NewClient(cfg.Market.URL, cfg.Market.Timeout)
	}

	router := bot.NewRouter(bot.Config{
		Accounts:   accounts,
		Balances:   gw,
		Dispatcher: dispatch.New(gw, m),
		Prompts:    prompts,
		Market:     lookup,
		BuyAmounts: cfg.Bot.BuyAmounts,
		Metrics:    m,
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		gateway:   gw,
		accounts:  accounts,
		prompts:   prompts,
		router:    router,
		transport: transport,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.serializer = bot.NewSerializer(s.handle, cfg.Bot.MaxPending)

	if cfg.Ops.Enabled {
		s.opsServer = metrics.NewServer(cfg.OpsListenAddr(), cfg.Ops.AllowedIPs, s.healthChecks())
	}
	return s
}

// handle runs one event through the router and delivers the reply.
func (s *Service) handle(ctx context.Context, ev bot.Event) {
	res := s.router.Handle(ctx, ev)
	if err := s.transport.Deliver(ev, res); err != nil {
		s.logger.Warn().
			Err(err).
			Str("event_id", ev.ID.String()).
			Str("identity", account.Fingerprint(ev.Identity)).
			Msg("Reply not delivered")
	}
}

func (s *Service) healthChecks() map[string]metrics.HealthCheck {
	checks := map[string]metrics.HealthCheck{
		"storage": func(context.Context) error {
			_, err := s.db.Has([]byte("health"))
			return err
		},
	}
	if p, ok := s.gateway.(interface {
		ChainID(context.Context) (*big.Int, error)
	}); ok {
		checks["chain"] = func(ctx context.Context) error {
			_, err := p.ChainID(ctx)
			return err
		}
	}
	return checks
}

// Start launches the ops server and the polling loop.
func (s *Service) Start() error {
	if s.opsServer != nil {
		if err := s.opsServer.Start(); err != nil {
			return fmt.Errorf("start ops server: %w", err)
		}
	}

	if n, err := s.accounts.Count(); err == nil {
		s.logger.Info().Int("accounts", n).Msg("Account store ready")
	}

	s.started = true
	go func() {
		defer s.closeDone()
		err := s.transport.Run(s.ctx, s.serializer.Submit)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("Transport stopped")
			s.runErr = err
		}
	}()

	s.logger.Info().Bool("ops", s.opsServer != nil).Msg("Wallet bot started")
	return nil
}

// Done is closed once the transport loop has exited, or on Stop when the
// service never started.
func (s *Service) Done() <-chan struct{} {
	return s.done
}

func (s *Service) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Err waits for Done and returns the error that ended the transport loop,
// if any.
func (s *Service) Err() error {
	<-s.done
	return s.runErr
}

// OpsAddr returns the address the ops server is listening on.
func (s *Service) OpsAddr() string {
	if s.opsServer == nil {
		return ""
	}
	return s.opsServer.Addr()
}

// Stop performs graceful shutdown in reverse order: stop polling, drain
// queued events, then close the ops server, the node connection and the
// database.
func (s *Service) Stop() {
	s.stopped.Do(func() {
		s.cancel()
		if !s.started {
			s.closeDone()
		}
		<-s.done

		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		if err := s.serializer.Close(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Pending events abandoned")
		}
		cancel()

		if s.opsServer != nil {
			if err := s.opsServer.Stop(); err != nil {
				s.logger.Warn().Err(err).Msg("Ops server shutdown")
			}
		}
		if c, ok := s.gateway.(ChainCloser); ok {
			c.Close()
		}
		if s.db != nil {
			if err := s.db.Close(); err != nil {
				klog.Storage.Warn().Err(err).Msg("Database close")
			}
		}

		s.logger.Info().Msg("Goodbye!")
	})
}
