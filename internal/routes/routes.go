package routes

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/walletmesh/walletmesh/internal/audit"
	"github.com/walletmesh/walletmesh/internal/config"
	"github.com/walletmesh/walletmesh/internal/identity"
	"github.com/walletmesh/walletmesh/internal/ledger"
	"github.com/walletmesh/walletmesh/internal/ledgerclient"
	"github.com/walletmesh/walletmesh/internal/metrics"
	"github.com/walletmesh/walletmesh/internal/middleware"
	"github.com/walletmesh/walletmesh/internal/notification"
	"github.com/walletmesh/walletmesh/internal/retry"
	"github.com/walletmesh/walletmesh/internal/transfer"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Ledger replaces the HTTP ledger client in the transfer service. Dev mode
	// without LEDGER_URL falls back to an in-process store.
	Ledger transfer.Ledger
}

// SetupLedger wires the ledger service: balances, deposits and the atomic
// transfer.
func SetupLedger(app *fiber.App, d Deps) error {
	if err := requireBackends(d, false); err != nil {
		return err
	}
	useCommon(app, d)
	RegisterHealthRoutes(app, d, nil)

	var store ledger.Store
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
	} else {
		store = ledger.NewInMemory()
	}
	RegisterLedgerRoutes(app, ledger.NewHandler(store, d.Logger))
	return nil
}

// SetupTransfer wires the transfer service: the saga endpoint, history and
// receiver confirmation.
func SetupTransfer(app *fiber.App, d Deps) error {
	if err := requireBackends(d, true); err != nil {
		return err
	}
	useCommon(app, d)

	ledgerBackend := d.Ledger
	var breakerState func() string
	if ledgerBackend == nil {
		switch {
		case d.Cfg.LedgerURL != "":
			client := ledgerclient.New(ledgerclient.Config{
				BaseURL:            d.Cfg.LedgerURL,
				Timeout:            d.Cfg.LedgerTimeout,
				BreakerFailures:    d.Cfg.BreakerFailures,
				BreakerOpenTimeout: d.Cfg.BreakerOpenTimeout,
			}, d.Logger, d.Metrics)
			ledgerBackend = client
			breakerState = client.BreakerState
		case d.Cfg.IsDev():
			d.Logger.Warn("LEDGER_URL not set, using in-process ledger")
			ledgerBackend = ledger.NewInMemory()
		default:
			return fmt.Errorf("ledger is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	RegisterHealthRoutes(app, d, breakerState)

	var (
		history audit.Store
		users   identity.Repository
	)
	if d.DB != nil {
		history = audit.NewPostgresStore(d.DB)
		users = identity.NewPostgresRepository(d.DB)
	} else {
		history = audit.NewMemoryStore()
		users = identity.NewMemoryRepository()
	}

	svc, err := transfer.New(ledgerBackend, history,
		transfer.WithLogger(d.Logger),
		transfer.WithNotifier(notification.NewLoggerNotifier(d.Logger)),
		transfer.WithMetrics(d.Metrics),
		transfer.WithConfig(transferConfig(d.Cfg)),
	)
	if err != nil {
		return err
	}

	var idempotency []fiber.Handler
	if d.Cache != nil {
		idempotency = append(idempotency, middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterTransferRoutes(app, transfer.NewHandler(svc, d.Logger), audit.NewHandler(history, d.Logger), idempotency...)
	RegisterIdentityRoutes(app, identity.NewHandler(identity.NewService(users), d.Logger))
	return nil
}

func useCommon(app *fiber.App, d Deps) {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.AccessLog(d.Logger))
	app.Use(d.Metrics.Middleware())
	app.Get("/metrics", d.Metrics.Handler())
}

// requireBackends enforces DB/Redis presence outside of dev, even though
// config.Load also checks.
func requireBackends(d Deps, needCache bool) error {
	if d.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if d.Cfg.IsDev() {
		return nil
	}
	if d.DB == nil {
		return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
	}
	if needCache && d.Cache == nil {
		return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
	}
	return nil
}

func transferConfig(cfg config.Config) transfer.Config {
	out := transfer.Config{
		MaxAttempts:    cfg.LedgerMaxAttempts,
		AttemptTimeout: cfg.LedgerTimeout,
		AuditTimeout:   cfg.AuditTimeout,
	}
	if cfg.LedgerBackoff > 0 {
		switch cfg.LedgerBackoffCurve {
		case config.BackoffExponential:
			out.Backoff = retry.Exponential(cfg.LedgerBackoff, cfg.LedgerBackoffMax)
		default:
			out.Backoff = retry.Linear(cfg.LedgerBackoff)
		}
	}
	return out
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
