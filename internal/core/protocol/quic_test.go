package protocol

import (
	"context"
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQUICExchange(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tlsConf, err := SelfSignedTLS()
	require.NoError(t, err)
	ln, err := ListenQUIC("127.0.0.1:0", tlsConf, DefaultConfig())
	require.NoError(t, err)
	defer ln.Close()

	peerErr := make(chan error, 1)
	go func() {
		qc, err := ln.Accept(ctx)
		if err != nil {
			peerErr <- err
			return
		}
		conn, err := ln.Open(ctx, qc)
		if err != nil {
			peerErr <- err
			return
		}
		for {
			env, err := conn.Receive()
			if err != nil {
				peerErr <- err
				return
			}
			reply := env.Reply()
			reply.Done = int64(len(env.Data))
			if err = conn.Send(reply); err != nil {
				peerErr <- err
				return
			}
		}
	}()

	conn, err := DialQUIC(ctx, ln.Addr().String(), &tls.Config{InsecureSkipVerify: true}, DefaultConfig())
	require.NoError(t, err)

	for _, size := range []int{5, 0, 4096} {
		req := NewRequest(OpUpload)
		req.Data = make([]byte, size)
		require.NoError(t, conn.Send(req))

		resp, err := conn.Receive()
		require.NoError(t, err)
		assert.Equal(t, req.ID, resp.ID)
		assert.Equal(t, int64(size), resp.Done)
	}
	assert.Equal(t, uint64(3), conn.Stats().MessagesReceived)

	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Send(NewRequest(OpPing)), ErrConnectionClosed)

	select {
	case err := <-peerErr:
		assert.True(t, IsClosedError(err), "unexpected peer error: %v", err)
	case <-ctx.Done():
		t.Fatal("peer never saw the close")
	}
}

func TestQUICRejectsOversizedFrame(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tlsConf, err := SelfSignedTLS()
	require.NoError(t, err)
	small := DefaultConfig()
	small.MaxMessageSize = 256
	ln, err := ListenQUIC("127.0.0.1:0", tlsConf, small)
	require.NoError(t, err)
	defer ln.Close()

	peerErr := make(chan error, 1)
	go func() {
		qc, err := ln.Accept(ctx)
		if err != nil {
			peerErr <- err
			return
		}
		conn, err := ln.Open(ctx, qc)
		if err != nil {
			peerErr <- err
			return
		}
		defer conn.Close()
		_, err = conn.Receive()
		peerErr <- err
	}()

	conn, err := DialQUIC(ctx, ln.Addr().String(), &tls.Config{InsecureSkipVerify: true}, DefaultConfig())
	require.NoError(t, err)
	defer conn.Close()

	req := NewRequest(OpUpload)
	req.Data = make([]byte, 1024)
	require.NoError(t, conn.Send(req))

	select {
	case err := <-peerErr:
		assert.ErrorIs(t, err, ErrMessageTooLarge)
	case <-ctx.Done():
		t.Fatal("peer never read the frame")
	}
}

func TestWithALPN(t *testing.T) {
	conf := withALPN(nil)
	assert.Equal(t, []string{ALPN}, conf.NextProtos)

	orig := &tls.Config{NextProtos: []string{"h3"}}
	conf = withALPN(orig)
	assert.Equal(t, []string{ALPN}, conf.NextProtos)
	assert.Equal(t, []string{"h3"}, orig.NextProtos)
}
