//go:build !wireinject
// +build !wireinject

// Injector bodies for the sets in providers.go, laid out as wire would
// generate them. Keep them in step with injector.go.

package injector

import (
	"context"

	"github.com/placenote/placenote/internal/config"
	"github.com/placenote/placenote/internal/core/storage"
	"github.com/placenote/placenote/internal/server"
)

// Injectors from injector.go:

// InitializeLocalClient builds an SDK host whose engine stores maps in store.
func InitializeLocalClient(cfg config.Client, store storage.MapStore) (*Client, func(), error) {
	localConfig := cfg.Engine
	storeCloud := ProvideStoreCloud(store, cfg)
	configLog := cfg.Log
	logLog := ProvideLogger(configLog)
	engine, err := ProvideEngine(localConfig, storeCloud, logLog)
	if err != nil {
		return nil, nil, err
	}
	taskQueue := ProvideTaskQueue(logLog)
	manager, cleanup, err := ProvideManager(engine, taskQueue, logLog)
	if err != nil {
		return nil, nil, err
	}
	duration := cfg.Tick
	client := &Client{
		Manager: manager,
		Queue:   taskQueue,
		Tick:    duration,
	}
	return client, func() {
		cleanup()
	}, nil
}

// InitializeRemoteClient builds an SDK host connected to the map server named
// in cfg.
func InitializeRemoteClient(ctx context.Context, cfg config.Client) (*Client, func(), error) {
	localConfig := cfg.Engine
	configLog := cfg.Log
	logLog := ProvideLogger(configLog)
	remoteCloud, err := ProvideRemoteCloud(ctx, cfg, logLog)
	if err != nil {
		return nil, nil, err
	}
	engine, err := ProvideEngine(localConfig, remoteCloud, logLog)
	if err != nil {
		return nil, nil, err
	}
	taskQueue := ProvideTaskQueue(logLog)
	manager, cleanup, err := ProvideManager(engine, taskQueue, logLog)
	if err != nil {
		return nil, nil, err
	}
	duration := cfg.Tick
	client := &Client{
		Manager: manager,
		Queue:   taskQueue,
		Tick:    duration,
	}
	return client, func() {
		cleanup()
	}, nil
}

func InitializeServer(cfg config.Server) (*server.Server, func(), error) {
	storageConfig := cfg.Storage
	mapStore, err := ProvideStore(storageConfig)
	if err != nil {
		return nil, nil, err
	}
	serverConfig := cfg.Server
	configLog := cfg.Log
	logLog := ProvideLogger(configLog)
	serverServer, cleanup := ProvideServer(mapStore, serverConfig, logLog)
	return serverServer, func() {
		cleanup()
	}, nil
}
