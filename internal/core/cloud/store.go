package cloud

import (
	"context"

	"github.com/placenote/placenote/internal/core/engine"
	"github.com/placenote/placenote/internal/core/protocol"
	"github.com/placenote/placenote/internal/core/storage"
)

var _ engine.Cloud = (*StoreCloud)(nil)

// StoreCloud serves engine.Cloud straight from a MapStore. Transfers are
// still reported chunk by chunk so progress behaves as it does over the
// network. The cloud owns the store and closes it on Close.
type StoreCloud struct {
	store     storage.MapStore
	apiKey    string
	chunkSize int
}

// NewStoreCloud wraps store. A non-empty apiKey is required from Ping.
func NewStoreCloud(store storage.MapStore, apiKey string, chunkSize int) *StoreCloud {
	if chunkSize <= 0 {
		chunkSize = protocol.DefaultConfig().ChunkSize
	}
	return &StoreCloud{store: store, apiKey: apiKey, chunkSize: chunkSize}
}

func (c *StoreCloud) Ping(ctx context.Context, apiKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.apiKey != "" && apiKey != c.apiKey {
		return ErrUnauthorized
	}
	return nil
}

func (c *StoreCloud) AddMap(ctx context.Context) (string, error) {
	return c.store.Create(ctx)
}

func (c *StoreCloud) Upload(ctx context.Context, mapID string, data []byte, progress engine.ProgressFunc) error {
	if _, err := c.store.Metadata(ctx, mapID); err != nil {
		return err
	}
	if err := c.transfer(ctx, data, progress); err != nil {
		return err
	}
	return c.store.Put(ctx, mapID, data)
}

func (c *StoreCloud) Download(ctx context.Context, mapID string, progress engine.ProgressFunc) ([]byte, error) {
	data, err := c.store.Get(ctx, mapID)
	if err != nil {
		return nil, err
	}
	if err = c.transfer(ctx, data, progress); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *StoreCloud) Delete(ctx context.Context, mapID string) error {
	return c.store.Delete(ctx, mapID)
}

func (c *StoreCloud) List(ctx context.Context) ([]engine.MapInfo, error) {
	return c.store.List(ctx)
}

func (c *StoreCloud) Search(ctx context.Context, query engine.SearchQuery) ([]engine.MapInfo, error) {
	return storage.Search(ctx, c.store, query)
}

func (c *StoreCloud) Metadata(ctx context.Context, mapID string) (engine.MapMetadata, error) {
	return c.store.Metadata(ctx, mapID)
}

func (c *StoreCloud) SetMetadata(ctx context.Context, mapID string, meta engine.MapMetadata) error {
	return c.store.SetMetadata(ctx, mapID, meta)
}

func (c *StoreCloud) UploadDataset(ctx context.Context, data []byte, progress engine.ProgressFunc) (string, error) {
	if err := c.transfer(ctx, data, progress); err != nil {
		return "", err
	}
	return c.store.PutDataset(ctx, data)
}

func (c *StoreCloud) UploadThumbnail(ctx context.Context, mapID string, image []byte, progress engine.ProgressFunc) error {
	if _, err := c.store.Metadata(ctx, mapID); err != nil {
		return err
	}
	if err := c.transfer(ctx, image, progress); err != nil {
		return err
	}
	return c.store.PutThumbnail(ctx, mapID, image)
}

func (c *StoreCloud) Close() error {
	return c.store.Close()
}

// transfer walks data in chunks, reporting progress and honoring ctx between
// chunks.
func (c *StoreCloud) transfer(ctx context.Context, data []byte, progress engine.ProgressFunc) error {
	total := int64(len(data))
	var done int64
	return protocol.Split(data, c.chunkSize, func(_ int, chunk []byte, _ bool) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		done += int64(len(chunk))
		if progress != nil {
			progress(done, total)
		}
		return nil
	})
}
