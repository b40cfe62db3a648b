package cloud

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/placenote/placenote/internal/core/engine"
	"github.com/placenote/placenote/internal/core/observability/log"
	"github.com/placenote/placenote/internal/core/protocol"
)

var _ engine.Cloud = (*RemoteCloud)(nil)

// APIKeyHeader carries the API key on the websocket handshake.
const APIKeyHeader = "X-Api-Key"

// RemoteCloud is an engine.Cloud backed by a map server over a websocket or
// QUIC. Requests from many goroutines share one connection; replies are
// routed back by envelope ID.
type RemoteCloud struct {
	conn   *protocol.Conn
	cfg    Config
	logger log.Log

	mu      sync.Mutex
	pending map[string]*call
	readErr error

	done chan struct{}
}

// call is one in-flight request waiting for replies.
type call struct {
	replies chan *protocol.Envelope
	quit    chan struct{}
}

// Dial connects to the map server at cfg.URL and starts the reply router.
// A quic:// URL selects QUIC; ws:// and wss:// select a websocket.
func Dial(ctx context.Context, cfg Config, logger log.Log) (*RemoteCloud, error) {
	if cfg.URL == "" {
		return nil, ErrMissingURL
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", cfg.URL)
	}
	if u.Scheme == "quic" {
		return DialQUIC(ctx, cfg, logger)
	}
	return DialWebSocket(ctx, cfg, logger)
}

// DialWebSocket authenticates with the API key header on the handshake.
func DialWebSocket(ctx context.Context, cfg Config, logger log.Log) (*RemoteCloud, error) {
	if err := cfg.Protocol.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid protocol config")
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}
	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set(APIKeyHeader, cfg.APIKey)
	}

	ws, resp, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, errors.Wrapf(ErrUnauthorized, "dial %s", cfg.URL)
		}
		return nil, errors.Wrapf(err, "dial %s", cfg.URL)
	}
	return newRemote(protocol.NewConn(ws, cfg.Protocol), cfg, "websocket", logger), nil
}

// DialQUIC has no handshake headers, so it pings with the API key before
// returning; the server serves nothing else until that ping succeeds.
func DialQUIC(ctx context.Context, cfg Config, logger log.Log) (*RemoteCloud, error) {
	if err := cfg.Protocol.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid protocol config")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" {
		return nil, errors.Errorf("invalid quic url %q", cfg.URL)
	}

	dialCtx, cancel := ctx, context.CancelFunc(func() {})
	if cfg.DialTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
	}
	defer cancel()

	tlsConf := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify, MinVersion: tls.VersionTLS13}
	conn, err := protocol.DialQUIC(dialCtx, u.Host, tlsConf, cfg.Protocol)
	if err != nil {
		return nil, err
	}

	c := newRemote(conn, cfg, "quic", logger)
	if err = c.Ping(dialCtx, cfg.APIKey); err != nil {
		_ = c.Close()
		return nil, errors.Wrapf(err, "dial %s", cfg.URL)
	}
	return c, nil
}

func newRemote(conn *protocol.Conn, cfg Config, transport string, logger log.Log) *RemoteCloud {
	c := &RemoteCloud{
		conn: conn,
		cfg:  cfg,
		logger: logger.With(
			log.String("component", "cloud"),
			log.String("url", cfg.URL),
			log.String("transport", transport)),
		pending: make(map[string]*call),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	c.logger.Info("Connected to map server")
	return c
}

func (c *RemoteCloud) readLoop() {
	defer close(c.done)
	for {
		env, err := c.conn.Receive()
		if err != nil {
			if !protocol.IsClosedError(err) && !c.conn.IsClosed() {
				c.logger.Error("Map server connection failed", log.Error(err))
			}
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}

		c.mu.Lock()
		cl, ok := c.pending[env.ID]
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("Dropping reply for unknown request", log.String("id", env.ID), log.String("op", string(env.Op)))
			continue
		}

		select {
		case cl.replies <- env:
		case <-cl.quit:
		}
	}
}

func (c *RemoteCloud) open(ctx context.Context, id string) (*call, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, errors.Wrap(ErrClosed, c.readErr.Error())
	}
	cl := &call{replies: make(chan *protocol.Envelope, 8), quit: make(chan struct{})}
	c.pending[id] = cl
	return cl, nil
}

func (c *RemoteCloud) forget(id string) {
	c.mu.Lock()
	cl, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if ok {
		close(cl.quit)
	}
}

func (c *RemoteCloud) await(ctx context.Context, cl *call) (*protocol.Envelope, error) {
	var env *protocol.Envelope
	select {
	case env = <-cl.replies:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		// the router may have delivered a reply just before exiting
		select {
		case env = <-cl.replies:
		default:
			return nil, ErrClosed
		}
	}
	if err := env.Err(); err != nil {
		return nil, err
	}
	return env, nil
}

func (c *RemoteCloud) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.RequestTimeout > 0 {
		return context.WithTimeout(ctx, c.cfg.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

// roundTrip sends req and waits for its single reply.
func (c *RemoteCloud) roundTrip(ctx context.Context, req *protocol.Envelope) (*protocol.Envelope, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cl, err := c.open(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	defer c.forget(req.ID)

	if err = c.conn.Send(req); err != nil {
		return nil, errors.Wrapf(err, "send %s", req.Op)
	}
	return c.await(ctx, cl)
}

// upload streams data as a chunk sequence, waiting for each ack, and returns
// the final ack.
func (c *RemoteCloud) upload(ctx context.Context, op protocol.Op, mapID string, data []byte, progress engine.ProgressFunc) (*protocol.Envelope, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	base := protocol.NewRequest(op)
	cl, err := c.open(ctx, base.ID)
	if err != nil {
		return nil, err
	}
	defer c.forget(base.ID)

	total := int64(len(data))
	sum := protocol.Checksum(data)
	var last *protocol.Envelope

	err = protocol.Split(data, c.cfg.Protocol.ChunkSize, func(seq int, chunk []byte, final bool) error {
		env := &protocol.Envelope{
			ID:    base.ID,
			Op:    op,
			MapID: mapID,
			Seq:   seq,
			Total: total,
			Data:  chunk,
			Final: final,
		}
		if final {
			env.Checksum = sum
		}
		if err := c.conn.Send(env); err != nil {
			return errors.Wrapf(err, "send %s chunk %d", op, seq)
		}
		ack, err := c.await(ctx, cl)
		if err != nil {
			return err
		}
		if progress != nil {
			progress(ack.Done, total)
		}
		last = ack
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", op, mapID)
	}
	return last, nil
}

func (c *RemoteCloud) Ping(ctx context.Context, apiKey string) error {
	req := protocol.NewRequest(protocol.OpPing)
	if err := req.SetPayload(protocol.PingPayload{APIKey: apiKey}); err != nil {
		return err
	}
	_, err := c.roundTrip(ctx, req)
	return err
}

func (c *RemoteCloud) AddMap(ctx context.Context) (string, error) {
	resp, err := c.roundTrip(ctx, protocol.NewRequest(protocol.OpAddMap))
	if err != nil {
		return "", err
	}
	return resp.MapID, nil
}

func (c *RemoteCloud) Upload(ctx context.Context, mapID string, data []byte, progress engine.ProgressFunc) error {
	_, err := c.upload(ctx, protocol.OpUpload, mapID, data, progress)
	return err
}

func (c *RemoteCloud) Download(ctx context.Context, mapID string, progress engine.ProgressFunc) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req := protocol.NewRequest(protocol.OpDownload)
	req.MapID = mapID
	cl, err := c.open(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	defer c.forget(req.ID)

	if err = c.conn.Send(req); err != nil {
		return nil, errors.Wrap(err, "send download")
	}

	var asm *protocol.Assembler
	defer func() {
		if asm != nil {
			asm.Release()
		}
	}()

	for {
		env, err := c.await(ctx, cl)
		if err != nil {
			return nil, errors.Wrapf(err, "download %s", mapID)
		}
		if asm == nil {
			asm = protocol.NewAssembler(env.Total)
		}
		done, err := asm.Add(env)
		if err != nil {
			return nil, errors.Wrapf(err, "download %s", mapID)
		}
		if progress != nil {
			progress(done, env.Total)
		}
		if env.Final {
			data, err := asm.Finish(env.Checksum)
			asm = nil
			if err != nil {
				return nil, errors.Wrapf(err, "download %s", mapID)
			}
			return data, nil
		}
	}
}

func (c *RemoteCloud) Delete(ctx context.Context, mapID string) error {
	req := protocol.NewRequest(protocol.OpDelete)
	req.MapID = mapID
	_, err := c.roundTrip(ctx, req)
	return err
}

func (c *RemoteCloud) List(ctx context.Context) ([]engine.MapInfo, error) {
	resp, err := c.roundTrip(ctx, protocol.NewRequest(protocol.OpList))
	if err != nil {
		return nil, err
	}
	var list engine.MapList
	if err = resp.DecodePayload(&list); err != nil {
		return nil, err
	}
	return list.Places, nil
}

func (c *RemoteCloud) Search(ctx context.Context, query engine.SearchQuery) ([]engine.MapInfo, error) {
	req := protocol.NewRequest(protocol.OpSearch)
	if err := req.SetPayload(query); err != nil {
		return nil, err
	}
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	var list engine.MapList
	if err = resp.DecodePayload(&list); err != nil {
		return nil, err
	}
	return list.Places, nil
}

func (c *RemoteCloud) Metadata(ctx context.Context, mapID string) (engine.MapMetadata, error) {
	req := protocol.NewRequest(protocol.OpGetMeta)
	req.MapID = mapID
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return engine.MapMetadata{}, err
	}
	var meta engine.MapMetadata
	if err = resp.DecodePayload(&meta); err != nil {
		return engine.MapMetadata{}, err
	}
	return meta, nil
}

func (c *RemoteCloud) SetMetadata(ctx context.Context, mapID string, meta engine.MapMetadata) error {
	req := protocol.NewRequest(protocol.OpSetMeta)
	req.MapID = mapID
	if err := req.SetPayload(meta); err != nil {
		return err
	}
	_, err := c.roundTrip(ctx, req)
	return err
}

func (c *RemoteCloud) UploadDataset(ctx context.Context, data []byte, progress engine.ProgressFunc) (string, error) {
	ack, err := c.upload(ctx, protocol.OpUploadDataset, "", data, progress)
	if err != nil {
		return "", err
	}
	return ack.MapID, nil
}

func (c *RemoteCloud) UploadThumbnail(ctx context.Context, mapID string, image []byte, progress engine.ProgressFunc) error {
	_, err := c.upload(ctx, protocol.OpUploadThumbnail, mapID, image, progress)
	return err
}

// Close shuts the connection and waits for the reply router to exit.
func (c *RemoteCloud) Close() error {
	err := c.conn.Close()
	<-c.done
	c.logger.Info("Disconnected from map server", log.Uint64("messages_sent", c.conn.Stats().MessagesSent))
	return err
}
