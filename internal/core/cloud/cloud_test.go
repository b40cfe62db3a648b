package cloud_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placenote/placenote/internal/core/cloud"
	"github.com/placenote/placenote/internal/core/engine"
	"github.com/placenote/placenote/internal/core/observability/log"
	"github.com/placenote/placenote/internal/core/storage"
	"github.com/placenote/placenote/internal/server"
)

const apiKey = "test-key"

func startServer(t *testing.T) *server.Server {
	t.Helper()
	cfg := server.DefaultServerConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.QUICAddr = "127.0.0.1:0"
	cfg.APIKey = apiKey
	cfg.Protocol.ChunkSize = 16
	srv := server.NewServer(storage.NewMemoryStore(), cfg, log.NewNop())
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func remoteConfig(url string) cloud.Config {
	ccfg := cloud.DefaultConfig()
	ccfg.URL = url
	ccfg.APIKey = apiKey
	ccfg.InsecureSkipVerify = true
	ccfg.Protocol.ChunkSize = 16
	return ccfg
}

func clouds(t *testing.T) map[string]engine.Cloud {
	t.Helper()

	ws, err := cloud.Dial(context.Background(), remoteConfig("ws://"+startServer(t).Addr().String()+"/ws"), log.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	qc, err := cloud.Dial(context.Background(), remoteConfig("quic://"+startServer(t).QUICAddr().String()), log.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = qc.Close() })

	return map[string]engine.Cloud{
		"store":     cloud.NewStoreCloud(storage.NewMemoryStore(), apiKey, 16),
		"websocket": ws,
		"quic":      qc,
	}
}

type progressLog struct {
	done  []int64
	total int64
}

func (p *progressLog) record(done, total int64) {
	p.done = append(p.done, done)
	p.total = total
}

func TestCloudMapLifecycle(t *testing.T) {
	ctx := context.Background()
	data := bytes.Repeat([]byte("landmark"), 10)

	for name, c := range clouds(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Ping(ctx, apiKey))
			assert.ErrorIs(t, c.Ping(ctx, "nope"), cloud.ErrUnauthorized)

			id, err := c.AddMap(ctx)
			require.NoError(t, err)

			var up progressLog
			require.NoError(t, c.Upload(ctx, id, data, up.record))
			assert.Equal(t, int64(len(data)), up.total)
			require.Len(t, up.done, 5)
			assert.IsIncreasing(t, up.done)
			assert.Equal(t, int64(len(data)), up.done[len(up.done)-1])

			var down progressLog
			got, err := c.Download(ctx, id, down.record)
			require.NoError(t, err)
			assert.Equal(t, data, got)
			assert.Len(t, down.done, 5)

			meta := engine.MapMetadata{
				Name:     "Atrium",
				Location: &engine.Location{Latitude: 43.65, Longitude: -79.38},
				UserData: json.RawMessage(`{"building":"north"}`),
			}
			require.NoError(t, c.SetMetadata(ctx, id, meta))
			gotMeta, err := c.Metadata(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "Atrium", gotMeta.Name)
			assert.JSONEq(t, `{"building":"north"}`, string(gotMeta.UserData))

			list, err := c.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, id, list[0].PlaceID)

			found, err := c.Search(ctx, engine.SearchQuery{
				Near: &engine.GeoRadius{Latitude: 43.651, Longitude: -79.381, RadiusMeters: 500},
			})
			require.NoError(t, err)
			assert.Len(t, found, 1)

			found, err = c.Search(ctx, engine.SearchQuery{UserData: "building=south"})
			require.NoError(t, err)
			assert.Empty(t, found)

			require.NoError(t, c.UploadThumbnail(ctx, id, []byte("png"), nil))
			datasetID, err := c.UploadDataset(ctx, []byte("frames"), nil)
			require.NoError(t, err)
			assert.NotEmpty(t, datasetID)

			require.NoError(t, c.Delete(ctx, id))
			_, err = c.Download(ctx, id, nil)
			assert.ErrorIs(t, err, engine.ErrMapNotFound)
			assert.ErrorIs(t, c.Delete(ctx, id), engine.ErrMapNotFound)
			assert.ErrorIs(t, c.Upload(ctx, id, data, nil), engine.ErrMapNotFound)
			assert.ErrorIs(t, c.UploadThumbnail(ctx, id, data, nil), engine.ErrMapNotFound)
		})
	}
}

func TestCloudEmptyMap(t *testing.T) {
	ctx := context.Background()
	for name, c := range clouds(t) {
		t.Run(name, func(t *testing.T) {
			id, err := c.AddMap(ctx)
			require.NoError(t, err)
			_, err = c.Download(ctx, id, nil)
			assert.Error(t, err)
		})
	}
}

func TestCloudHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for name, c := range clouds(t) {
		t.Run(name, func(t *testing.T) {
			_, err := c.UploadDataset(ctx, make([]byte, 64), nil)
			assert.ErrorIs(t, err, context.Canceled)
		})
	}
}

func TestDialFailures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := cloud.Dial(ctx, cloud.Config{}, log.NewNop())
	assert.ErrorIs(t, err, cloud.ErrMissingURL)

	_, err = cloud.Dial(ctx, remoteConfig("quic://"), log.NewNop())
	assert.Error(t, err)

	srv := startServer(t)
	for _, url := range []string{
		"ws://" + srv.Addr().String() + "/ws",
		"quic://" + srv.QUICAddr().String(),
	} {
		ccfg := remoteConfig(url)
		ccfg.APIKey = "wrong"
		_, err = cloud.Dial(ctx, ccfg, log.NewNop())
		assert.ErrorIs(t, err, cloud.ErrUnauthorized, url)
	}

	ccfg := remoteConfig("quic://" + srv.QUICAddr().String())
	ccfg.InsecureSkipVerify = false
	_, err = cloud.Dial(ctx, ccfg, log.NewNop())
	assert.Error(t, err)
}

func TestRemoteCloudClosed(t *testing.T) {
	all := clouds(t)
	for _, name := range []string{"websocket", "quic"} {
		t.Run(name, func(t *testing.T) {
			c := all[name]
			require.NoError(t, c.Close())
			_, err := c.List(context.Background())
			assert.ErrorIs(t, err, cloud.ErrClosed)
		})
	}
}
