package protocol

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placenote/placenote/internal/core/engine"
)

func TestSplitAndAssemble(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 25)

	asm := NewAssembler(int64(len(data)))
	var seqs []int
	err := Split(data, 64, func(seq int, chunk []byte, final bool) error {
		seqs = append(seqs, seq)
		done, err := asm.Add(&Envelope{Seq: seq, Data: chunk})
		require.NoError(t, err)
		assert.Equal(t, final, done == int64(len(data)))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, seqs)

	out, err := asm.Finish(Checksum(data))
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestSplitEmpty(t *testing.T) {
	calls := 0
	require.NoError(t, Split(nil, 8, func(seq int, chunk []byte, final bool) error {
		calls++
		assert.Zero(t, seq)
		assert.Empty(t, chunk)
		assert.True(t, final)
		return nil
	}))
	assert.Equal(t, 1, calls)
}

func TestSplitStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Split(make([]byte, 100), 10, func(int, []byte, bool) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestAssemblerRejectsBadInput(t *testing.T) {
	asm := NewAssembler(4)
	_, err := asm.Add(&Envelope{Seq: 1, Data: []byte("ab")})
	assert.ErrorIs(t, err, ErrOutOfOrder)
	_, err = asm.Add(&Envelope{Seq: 0, Data: []byte("abcdef")})
	assert.ErrorIs(t, err, ErrOverflow)
	_, err = asm.Add(&Envelope{Seq: 0, Data: []byte("ab")})
	require.NoError(t, err)
	_, err = asm.Finish(Checksum([]byte("ab")))
	assert.ErrorIs(t, err, ErrIncomplete)

	asm = NewAssembler(2)
	_, err = asm.Add(&Envelope{Seq: 0, Data: []byte("ab")})
	require.NoError(t, err)
	_, err = asm.Finish(Checksum([]byte("xx")))
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestEnvelopeErrors(t *testing.T) {
	req := NewRequest(OpDownload)
	req.MapID = "m1"
	assert.NotEmpty(t, req.ID)
	assert.NoError(t, req.Err())

	resp := req.Fail(CodeNotFound, engine.ErrMapNotFound)
	assert.Equal(t, req.ID, resp.ID)
	assert.Equal(t, "m1", resp.MapID)
	assert.True(t, resp.Failed())
	assert.ErrorIs(t, resp.Err(), engine.ErrMapNotFound)

	var remote *RemoteError
	require.ErrorAs(t, resp.Err(), &remote)
	assert.Equal(t, OpDownload, remote.Op)

	bare := &Envelope{Op: OpList, Error: "disk on fire"}
	require.ErrorAs(t, bare.Err(), &remote)
	assert.Equal(t, CodeInternal, remote.Code)
	assert.Nil(t, remote.Unwrap())
}

func TestEnvelopePayload(t *testing.T) {
	env := NewRequest(OpSetMeta)
	require.NoError(t, env.SetPayload(engine.MapMetadata{Name: "lobby"}))

	var meta engine.MapMetadata
	require.NoError(t, env.DecodePayload(&meta))
	assert.Equal(t, "lobby", meta.Name)

	assert.ErrorIs(t, NewRequest(OpSetMeta).DecodePayload(&meta), ErrMissingPayload)
}

func TestOps(t *testing.T) {
	assert.True(t, OpUpload.Chunked())
	assert.True(t, OpUploadThumbnail.Chunked())
	assert.False(t, OpDownload.Chunked())
	assert.True(t, OpSearch.Valid())
	assert.False(t, Op("teleport").Valid())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.ChunkSize = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MaxMessageSize = int64(cfg.ChunkSize)
	assert.Error(t, cfg.Validate())
}

func TestConnExchange(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewConn(ws, DefaultConfig())
		defer conn.Close()
		for {
			env, err := conn.Receive()
			if err != nil {
				return
			}
			reply := env.Reply()
			reply.Done = int64(len(env.Data))
			if err = conn.Send(reply); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	conn := NewConn(ws, DefaultConfig())

	req := NewRequest(OpUpload)
	req.Data = []byte("chunk")
	require.NoError(t, conn.Send(req))

	resp, err := conn.Receive()
	require.NoError(t, err)
	assert.Equal(t, req.ID, resp.ID)
	assert.Equal(t, int64(5), resp.Done)

	stats := conn.Stats()
	assert.Equal(t, uint64(1), stats.MessagesSent)
	assert.Equal(t, uint64(1), stats.MessagesReceived)

	require.NoError(t, conn.Close())
	assert.True(t, conn.IsClosed())
	assert.ErrorIs(t, conn.Send(req), ErrConnectionClosed)
	assert.NoError(t, conn.Close())
}

func TestConnRejectsOversizedEnvelope(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_, _, _ = ws.ReadMessage()
	}))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.MaxMessageSize = 256
	conn := NewConn(ws, cfg)
	defer conn.Close()

	req := NewRequest(OpUpload)
	req.Data = make([]byte, 1024)
	assert.ErrorIs(t, conn.Send(req), ErrMessageTooLarge)
}
