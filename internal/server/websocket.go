package server

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/placenote/placenote/internal/core/engine"
	"github.com/placenote/placenote/internal/core/observability/log"
	"github.com/placenote/placenote/internal/core/protocol"
	"github.com/placenote/placenote/internal/core/storage"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// ClientSession is one connected SDK client. Its requests are handled in
// arrival order on the session goroutine.
type ClientSession struct {
	ID          string
	conn        *protocol.Conn
	server      *Server
	logger      log.Log
	uploads     map[string]*upload
	connectedAt time.Time
	active      atomic.Bool
	// authed is false until a QUIC client pings with a valid key. Websocket
	// clients are checked on the handshake.
	authed bool
}

// upload is a chunked upload being assembled.
type upload struct {
	op    protocol.Op
	mapID string
	asm   *protocol.Assembler
}

func (s *Server) full() bool {
	return int(s.sessionCount.Load()) >= s.config.MaxClients
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.full() {
		s.logger.Warn("Maximum clients reached, rejecting connection",
			log.String("remote_addr", r.RemoteAddr))
		http.Error(w, ErrMaxClientsReached.Error(), http.StatusServiceUnavailable)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", log.Error(err))
		return
	}

	s.attach(protocol.NewConn(ws, s.config.Protocol), r.RemoteAddr, "websocket", true).run(r.Context())
}

// attach registers a session for an accepted connection.
func (s *Server) attach(conn *protocol.Conn, remote, transport string, authed bool) *ClientSession {
	session := &ClientSession{
		ID:          uuid.NewString(),
		conn:        conn,
		server:      s,
		uploads:     make(map[string]*upload),
		connectedAt: time.Now(),
		authed:      authed || s.config.APIKey == "",
	}
	session.logger = s.logger.With(log.String("client_id", session.ID), log.String("transport", transport))
	session.active.Store(true)

	s.sessions.Store(session.ID, session)
	s.sessionCount.Add(1)
	session.logger.Info("Client connected",
		log.String("remote_addr", remote),
		log.Int64("total_clients", s.sessionCount.Load()))
	return session
}

func (c *ClientSession) run(ctx context.Context) {
	defer func() {
		for _, up := range c.uploads {
			up.asm.Release()
		}
		c.server.sessions.Delete(c.ID)
		c.server.sessionCount.Add(-1)
		_ = c.Close()

		stats := c.conn.Stats()
		c.logger.Info("Client disconnected",
			log.Duration("connected_for", time.Since(c.connectedAt)),
			log.Uint64("messages_received", stats.MessagesReceived),
			log.Int64("total_clients", c.server.sessionCount.Load()))
	}()

	for c.active.Load() {
		env, err := c.conn.Receive()
		if err != nil {
			if c.active.Load() && !protocol.IsClosedError(err) {
				c.logger.Error("Failed to receive envelope", log.Error(err))
			}
			return
		}
		c.handle(ctx, env)
	}
}

// Close ends the session.
func (c *ClientSession) Close() error {
	c.active.Store(false)
	return c.conn.Close()
}

func (c *ClientSession) handle(ctx context.Context, env *protocol.Envelope) {
	c.logger.Debug("Handling envelope",
		log.String("id", env.ID),
		log.String("op", string(env.Op)),
		log.Int("seq", env.Seq))

	var err error
	switch {
	case !env.Op.Valid():
		err = protocol.ErrUnknownOp
	case !c.authed && env.Op != protocol.OpPing:
		err = protocol.ErrUnauthorized
	case env.Op.Chunked():
		err = c.handleChunk(ctx, env)
	case env.Op == protocol.OpDownload:
		err = c.handleDownload(ctx, env)
	default:
		var reply *protocol.Envelope
		if reply, err = c.handleRequest(ctx, env); err == nil {
			err = c.send(reply)
		}
	}

	// a failed send has already closed the session
	if err != nil && c.active.Load() {
		c.fail(env, err)
	}
}

func (c *ClientSession) send(env *protocol.Envelope) error {
	err := c.conn.Send(env)
	if err != nil {
		c.logger.Error("Failed to send envelope", log.String("op", string(env.Op)), log.Error(err))
		_ = c.Close()
	}
	return err
}

func (c *ClientSession) fail(env *protocol.Envelope, err error) {
	code := codeFor(err)
	if code == protocol.CodeInternal {
		c.logger.Error("Request failed", log.String("op", string(env.Op)), log.String("map_id", env.MapID), log.Error(err))
	} else {
		c.logger.Debug("Request rejected", log.String("op", string(env.Op)), log.String("code", string(code)), log.Error(err))
	}
	_ = c.send(env.Fail(code, err))
}

// handleRequest serves the single-reply ops.
func (c *ClientSession) handleRequest(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, error) {
	store := c.server.store
	reply := env.Reply()

	switch env.Op {
	case protocol.OpPing:
		var ping protocol.PingPayload
		if err := env.DecodePayload(&ping); err != nil {
			return nil, err
		}
		if !NewAPIKeyAuth(c.server.config.APIKey, c.logger).Check(ping.APIKey) {
			return nil, protocol.ErrUnauthorized
		}
		c.authed = true

	case protocol.OpAddMap:
		id, err := store.Create(ctx)
		if err != nil {
			return nil, err
		}
		reply.MapID = id

	case protocol.OpDelete:
		if err := store.Delete(ctx, env.MapID); err != nil {
			return nil, err
		}

	case protocol.OpList, protocol.OpSearch:
		var query engine.SearchQuery
		if env.Op == protocol.OpSearch {
			if err := env.DecodePayload(&query); err != nil {
				return nil, err
			}
		}
		places, err := storage.Search(ctx, store, query)
		if err != nil {
			return nil, err
		}
		if err = reply.SetPayload(engine.MapList{Places: places}); err != nil {
			return nil, err
		}

	case protocol.OpGetMeta:
		meta, err := store.Metadata(ctx, env.MapID)
		if err != nil {
			return nil, err
		}
		if err = reply.SetPayload(meta); err != nil {
			return nil, err
		}

	case protocol.OpSetMeta:
		var meta engine.MapMetadata
		if err := env.DecodePayload(&meta); err != nil {
			return nil, err
		}
		if err := store.SetMetadata(ctx, env.MapID, meta); err != nil {
			return nil, err
		}

	default:
		return nil, protocol.ErrUnknownOp
	}
	return reply, nil
}

// handleChunk assembles an upload, acking each chunk with the running count
// and committing on the final one.
func (c *ClientSession) handleChunk(ctx context.Context, env *protocol.Envelope) error {
	up, ok := c.uploads[env.ID]
	if env.Seq == 0 {
		if ok {
			return ErrUploadInProgress
		}
		if env.Op != protocol.OpUploadDataset {
			if _, err := c.server.store.Metadata(ctx, env.MapID); err != nil {
				return err
			}
		}
		up = &upload{op: env.Op, mapID: env.MapID, asm: protocol.NewAssembler(env.Total)}
		c.uploads[env.ID] = up
	} else if !ok {
		return ErrNoUpload
	}

	done, err := up.asm.Add(env)
	if err != nil {
		c.abort(env.ID)
		return err
	}

	ack := env.Reply()
	ack.Seq = env.Seq
	ack.Done = done
	ack.Total = env.Total

	if env.Final {
		delete(c.uploads, env.ID)
		data, err := up.asm.Finish(env.Checksum)
		if err != nil {
			return err
		}
		if ack.MapID, err = c.commit(ctx, up, data); err != nil {
			return err
		}
		ack.Final = true
		c.logger.Info("Upload committed",
			log.String("op", string(up.op)),
			log.String("map_id", ack.MapID),
			log.Int("bytes", len(data)))
	}
	return c.send(ack)
}

func (c *ClientSession) abort(id string) {
	if up, ok := c.uploads[id]; ok {
		up.asm.Release()
		delete(c.uploads, id)
	}
}

func (c *ClientSession) commit(ctx context.Context, up *upload, data []byte) (string, error) {
	store := c.server.store
	switch up.op {
	case protocol.OpUpload:
		return up.mapID, store.Put(ctx, up.mapID, data)
	case protocol.OpUploadThumbnail:
		return up.mapID, store.PutThumbnail(ctx, up.mapID, data)
	default:
		return store.PutDataset(ctx, data)
	}
}

// handleDownload streams a map's content back in chunks.
func (c *ClientSession) handleDownload(ctx context.Context, env *protocol.Envelope) error {
	data, err := c.server.store.Get(ctx, env.MapID)
	if err != nil {
		return err
	}

	total := int64(len(data))
	sum := protocol.Checksum(data)
	var done int64
	return protocol.Split(data, c.server.config.Protocol.ChunkSize, func(seq int, chunk []byte, final bool) error {
		done += int64(len(chunk))
		out := env.Reply()
		out.Seq = seq
		out.Data = chunk
		out.Done = done
		out.Total = total
		out.Final = final
		if final {
			out.Checksum = sum
		}
		return c.send(out)
	})
}
