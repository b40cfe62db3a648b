//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"context"

	"github.com/google/wire"

	"github.com/placenote/placenote/internal/config"
	"github.com/placenote/placenote/internal/core/storage"
	"github.com/placenote/placenote/internal/server"
)

// InitializeLocalClient builds an SDK host whose engine stores maps in store.
func InitializeLocalClient(cfg config.Client, store storage.MapStore) (*Client, func(), error) {
	wire.Build(LocalSet)
	return nil, nil, nil
}

// InitializeRemoteClient builds an SDK host connected to the map server named
// in cfg.
func InitializeRemoteClient(ctx context.Context, cfg config.Client) (*Client, func(), error) {
	wire.Build(RemoteSet)
	return nil, nil, nil
}

func InitializeServer(cfg config.Server) (*server.Server, func(), error) {
	wire.Build(ServerSet)
	return nil, nil, nil
}
