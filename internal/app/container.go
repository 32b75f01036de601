package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/storekeep/storekeep/internal/catalog"
	"github.com/storekeep/storekeep/internal/inventory"
	"github.com/storekeep/storekeep/internal/observability"
	"github.com/storekeep/storekeep/internal/platform/cache"
	"github.com/storekeep/storekeep/internal/platform/db"
	"github.com/storekeep/storekeep/internal/platform/lock"
	"github.com/storekeep/storekeep/internal/procurement"
	"github.com/storekeep/storekeep/internal/rbac"
	"github.com/storekeep/storekeep/internal/sales"
	"github.com/storekeep/storekeep/internal/sequence"
	"github.com/storekeep/storekeep/internal/shared"
	"github.com/storekeep/storekeep/internal/store/memory"
)

// Container holds the wired services shared by the API server and the worker.
type Container struct {
	Config  *Config
	Logger  *slog.Logger
	Metrics *observability.Metrics

	Pool  *pgxpool.Pool
	Redis *redis.Client

	Catalog     *catalog.Service
	Inventory   *inventory.Service
	Procurement *procurement.Service
	Sales       *sales.Service

	closers []func()
}

type repositories struct {
	catalog     catalog.Repository
	inventory   inventory.RepositoryPort
	procurement procurement.RepositoryPort
	sales       sales.Repository
	audit       inventory.AuditPort
	counter     sequence.Counter
	seeder      sequence.Seeder
}

// Build connects the configured backends and wires every service.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger, metrics *observability.Metrics) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger, Metrics: metrics}

	repos, err := c.openStore(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	if cfg.RedisAddr != "" {
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Redis = client
		c.closers = append(c.closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		})
	}

	var numbers sequence.Allocator = sequence.NewCounterAllocator(repos.counter)
	if cfg.SequenceBackend == BackendRedis {
		numbers = sequence.NewRedisAllocator(c.Redis, repos.seeder)
	}
	var locker lock.Locker = lock.NewLocal()
	if cfg.LockBackend == BackendRedis {
		locker = lock.NewRedis(c.Redis, cfg.LockTTL, logger)
	}
	var lookups *catalog.LookupCache
	if c.Redis != nil {
		lookups = catalog.NewLookupCache(c.Redis, cfg.ProductCacheTTL, logger)
	}

	c.Inventory = inventory.NewService(repos.inventory, repos.audit, inventory.ServiceConfig{
		Logger:  logger,
		Metrics: metrics,
	})
	c.Catalog = catalog.NewService(repos.catalog, c.Inventory, lookups, repos.audit, logger)
	c.Procurement = procurement.NewService(repos.procurement, c.Inventory, c.Catalog, numbers, locker, repos.audit,
		procurement.ServiceConfig{Logger: logger})
	c.Sales = sales.NewService(repos.sales, c.Inventory, c.Catalog, numbers, locker, repos.audit,
		sales.ServiceConfig{Logger: logger})
	return c, nil
}

func (c *Container) openStore(ctx context.Context) (repositories, error) {
	switch c.Config.StoreDriver {
	case DriverMemory:
		store := memory.New()
		return repositories{
			catalog:     store,
			inventory:   store,
			procurement: store,
			sales:       store,
			audit:       &shared.MemoryAuditLog{},
			counter:     sequence.NewMemoryCounter(),
		}, nil
	case DriverPostgres:
		pool, err := db.New(ctx, c.Config.PGDSN)
		if err != nil {
			return repositories{}, err
		}
		c.Pool = pool
		c.closers = append(c.closers, pool.Close)
		orders := procurement.NewRepository(pool)
		invoices := sales.NewRepository(pool)
		return repositories{
			catalog:     catalog.NewRepository(pool),
			inventory:   inventory.NewRepository(pool),
			procurement: orders,
			sales:       invoices,
			audit:       shared.NewAuditLogger(pool),
			counter:     sequence.NewPostgresCounter(pool),
			seeder: sequence.Seeders{
				sequence.TagPurchaseOrder: orders,
				sequence.TagInvoice:       invoices,
			},
		}, nil
	default:
		return repositories{}, fmt.Errorf("unknown store driver %q", c.Config.StoreDriver)
	}
}

// Handlers builds the HTTP handlers for every domain package.
func (c *Container) Handlers() RouterParams {
	mw := rbac.Middleware{Logger: c.Logger}
	return RouterParams{
		Logger:             c.Logger,
		Config:             c.Config,
		CatalogHandler:     catalog.NewHandler(c.Logger, c.Catalog, mw),
		InventoryHandler:   inventory.NewHandler(c.Logger, c.Inventory, mw),
		ProcurementHandler: procurement.NewHandler(c.Logger, c.Procurement, mw),
		SalesHandler:       sales.NewHandler(c.Logger, c.Sales, mw),
		Metrics:            c.Metrics,
	}
}

// Close releases connections in reverse order of acquisition.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
