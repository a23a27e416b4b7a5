package tasksvc

import (
	"context"
	"fmt"

	"github.com/colonyops/tasksync/internal/core/config"
	"github.com/colonyops/tasksync/internal/core/eventbus"
	"github.com/colonyops/tasksync/internal/core/identity"
	"github.com/colonyops/tasksync/internal/core/logging"
	"github.com/colonyops/tasksync/internal/core/netmon"
	"github.com/colonyops/tasksync/internal/core/oplog"
	"github.com/colonyops/tasksync/internal/data/db"
	"github.com/colonyops/tasksync/internal/data/stores"
	"github.com/colonyops/tasksync/internal/reconcile"
	"github.com/colonyops/tasksync/internal/remote"
)

// App is the central entry point for all tasksync operations.
// Commands consume App instead of cherry-picking raw dependencies.
type App struct {
	Tasks   *Service
	Driver  *reconcile.Driver
	Monitor *netmon.Monitor
	Bus     *eventbus.EventBus
	Remote  *remote.Client

	Records *stores.TaskStore
	KV      *stores.KVStore
	Config  *config.Config
	DB      *db.DB
}

// NewApp wires the engine over an open database.
func NewApp(cfg *config.Config, database *db.DB) (*App, error) {
	client, err := remote.New(remote.Options{
		BaseURL:      cfg.Server.URL,
		Token:        cfg.Server.Token,
		Timeout:      cfg.Server.Timeout,
		HealthPath:   cfg.Server.HealthPath,
		LegacyStatus: cfg.Server.LegacyStatus,
	}, logging.Component("remote"))
	if err != nil {
		return nil, fmt.Errorf("create api client: %w", err)
	}

	var (
		bus     = eventbus.New(0)
		records = stores.NewTaskStore(database)
		kvStore = stores.NewKVStore(database)
		ids     = identity.New(kvStore)
		queue   = oplog.NewQueue(stores.NewOpLogStore(database))
	)

	monitor := netmon.New(client, netmon.Options{
		Interval:     cfg.Sync.ProbeInterval,
		Debounce:     cfg.Sync.Debounce,
		ProbeTimeout: cfg.Server.Timeout,
	}, bus, logging.Component("netmon"))

	driver := reconcile.New(records, ids, queue, client, monitor, bus, reconcile.Options{
		RetryInterval: cfg.Sync.RetryInterval,
		CallTimeout:   cfg.Server.Timeout,
		Lease:         kvStore,
	}, logging.Component("reconcile"))

	svc := New(records, queue, ids, driver, client, kvStore, logging.Component("tasksvc"))

	return &App{
		Tasks:   svc,
		Driver:  driver,
		Monitor: monitor,
		Bus:     bus,
		Remote:  client,
		Records: records,
		KV:      kvStore,
		Config:  cfg,
		DB:      database,
	}, nil
}

// Connect sets the initial reachability: a single probe, or offline when
// offline is true.
func (a *App) Connect(ctx context.Context, offline bool) bool {
	if offline {
		a.Monitor.Set(false)
		return false
	}
	return a.Monitor.Check(ctx)
}
