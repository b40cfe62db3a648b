package injector

import (
	"context"
	"time"

	"github.com/google/wire"

	"github.com/placenote/placenote/internal/config"
	"github.com/placenote/placenote/internal/core/cloud"
	"github.com/placenote/placenote/internal/core/engine"
	"github.com/placenote/placenote/internal/core/engine/local"
	"github.com/placenote/placenote/internal/core/observability/log"
	"github.com/placenote/placenote/internal/core/storage"
	"github.com/placenote/placenote/internal/server"
	"github.com/placenote/placenote/pkg/mainthread"
	"github.com/placenote/placenote/sdk/go/placenote"
)

// Client is an SDK host: the manager and the queue its callbacks run on.
type Client struct {
	Manager *placenote.Manager
	Queue   *mainthread.TaskQueue
	// Tick is how often Run drains the queue.
	Tick time.Duration
}

// Run drains the queue until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	return c.Queue.Run(ctx, c.Tick)
}

var (
	clientConfigSet = wire.NewSet(
		wire.FieldsOf(new(config.Client), "Engine", "Log", "Tick"),
		ProvideLogger,
	)

	managerSet = wire.NewSet(
		ProvideTaskQueue,
		ProvideEngine,
		wire.Bind(new(engine.Engine), new(*local.Engine)),
		ProvideManager,
		wire.Struct(new(Client), "*"),
	)

	// LocalSet runs the engine against an in-process store.
	LocalSet = wire.NewSet(
		clientConfigSet,
		managerSet,
		ProvideStoreCloud,
		wire.Bind(new(engine.Cloud), new(*cloud.StoreCloud)),
	)

	// RemoteSet runs the engine against a map server.
	RemoteSet = wire.NewSet(
		clientConfigSet,
		managerSet,
		ProvideRemoteCloud,
		wire.Bind(new(engine.Cloud), new(*cloud.RemoteCloud)),
	)

	ServerSet = wire.NewSet(
		wire.FieldsOf(new(config.Server), "Server", "Storage", "Log"),
		ProvideLogger,
		ProvideStore,
		ProvideServer,
	)
)

func ProvideLogger(cfg config.Log) log.Log {
	return cfg.Logger()
}

// ProvideTaskQueue returns a queue already bound, since the host commits to
// draining it by asking for a Client.
func ProvideTaskQueue(logger log.Log) *mainthread.TaskQueue {
	q := mainthread.NewTaskQueue(logger)
	q.Bind()
	return q
}

func ProvideStoreCloud(store storage.MapStore, cfg config.Client) *cloud.StoreCloud {
	return cloud.NewStoreCloud(store, cfg.APIKey(), cfg.Cloud.Protocol.ChunkSize)
}

// ProvideRemoteCloud dials over websocket or QUIC, as the cloud URL says.
func ProvideRemoteCloud(ctx context.Context, cfg config.Client, logger log.Log) (*cloud.RemoteCloud, error) {
	cc := cfg.Cloud
	cc.APIKey = cfg.APIKey()
	return cloud.Dial(ctx, cc, logger)
}

// ProvideEngine builds the local engine. The engine owns c and closes it on
// shutdown.
func ProvideEngine(cfg local.Config, c engine.Cloud, logger log.Log) (*local.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return local.New(cfg, c, logger), nil
}

func ProvideManager(eng engine.Engine, q *mainthread.TaskQueue, logger log.Log) (*placenote.Manager, func(), error) {
	m, err := placenote.New(eng, q, logger)
	if err != nil {
		return nil, nil, err
	}
	return m, func() {
		if err := m.Shutdown(); err != nil {
			logger.Warn("Manager shutdown", log.Error(err))
		}
	}, nil
}

func ProvideStore(cfg config.Storage) (storage.MapStore, error) {
	if cfg.Dir == "" {
		return storage.NewMemoryStore(), nil
	}
	return storage.NewFileStore(cfg.Dir)
}

func ProvideServer(store storage.MapStore, cfg server.Config, logger log.Log) (*server.Server, func()) {
	srv := server.NewServer(store, cfg, logger)
	return srv, func() { _ = srv.Close() }
}
