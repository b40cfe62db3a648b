package protocol

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
)

// ALPN is the TLS application protocol negotiated on QUIC connections.
const ALPN = "placenote-quic"

const (
	quicCodeNormal quic.ApplicationErrorCode = 0
	quicCodeBusy   quic.ApplicationErrorCode = 1

	quicIdleTimeout = 30 * time.Second
	quicKeepAlive   = 15 * time.Second
)

// quicFramer carries envelopes on a single bidirectional stream, each
// prefixed with its length as a big-endian uint32.
type quicFramer struct {
	conn   *quic.Conn
	stream *quic.Stream
	limit  int64
	hdr    [4]byte
}

func newQUICConn(conn *quic.Conn, stream *quic.Stream, config Config) *Conn {
	return newConn(&quicFramer{conn: conn, stream: stream, limit: config.MaxMessageSize}, config)
}

func (f *quicFramer) writeFrame(data []byte, deadline time.Time) error {
	_ = f.stream.SetWriteDeadline(deadline)
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	_, err := f.stream.Write(buf)
	return err
}

func (f *quicFramer) readFrame(deadline time.Time) ([]byte, error) {
	_ = f.stream.SetReadDeadline(deadline)
	if _, err := io.ReadFull(f.stream, f.hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(f.hdr[:])
	if f.limit > 0 && int64(n) > f.limit {
		return nil, errors.Wrapf(ErrMessageTooLarge, "frame of %d bytes exceeds limit %d", n, f.limit)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(f.stream, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (f *quicFramer) close(reason string) error {
	_ = f.stream.Close()
	return f.conn.CloseWithError(quicCodeNormal, reason)
}

func quicClosed(err error) bool {
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.ErrorCode == quicCodeNormal
	}
	return errors.Is(err, io.EOF)
}

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIncomingStreams:    1,
		MaxIncomingUniStreams: -1,
		MaxIdleTimeout:        quicIdleTimeout,
		KeepAlivePeriod:       quicKeepAlive,
	}
}

func withALPN(c *tls.Config) *tls.Config {
	if c == nil {
		c = &tls.Config{}
	} else {
		c = c.Clone()
	}
	c.NextProtos = []string{ALPN}
	return c
}

// DialQUIC connects to addr and opens the envelope stream.
func DialQUIC(ctx context.Context, addr string, tlsConf *tls.Config, config Config) (*Conn, error) {
	tlsConf = withALPN(tlsConf)
	if tlsConf.ServerName == "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			tlsConf.ServerName = host
		}
	}

	qc, err := quic.DialAddr(ctx, addr, tlsConf, quicConfig())
	if err != nil {
		return nil, errors.Wrapf(err, "dial quic %s", addr)
	}
	stream, err := qc.OpenStreamSync(ctx)
	if err != nil {
		_ = qc.CloseWithError(quicCodeNormal, "no stream")
		return nil, errors.Wrap(err, "open stream")
	}
	return newQUICConn(qc, stream, config), nil
}

// QUICListener accepts QUIC clients. Each connection carries one envelope
// stream, opened by the client.
type QUICListener struct {
	ln     *quic.Listener
	config Config
}

func ListenQUIC(addr string, tlsConf *tls.Config, config Config) (*QUICListener, error) {
	tlsConf = withALPN(tlsConf)
	ln, err := quic.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return nil, errors.Wrapf(err, "listen quic %s", addr)
	}
	return &QUICListener{ln: ln, config: config}, nil
}

// Accept waits for the next client connection.
func (l *QUICListener) Accept(ctx context.Context) (*quic.Conn, error) {
	return l.ln.Accept(ctx)
}

// Open waits for the client's envelope stream on qc.
func (l *QUICListener) Open(ctx context.Context, qc *quic.Conn) (*Conn, error) {
	stream, err := qc.AcceptStream(ctx)
	if err != nil {
		_ = qc.CloseWithError(quicCodeNormal, "no stream")
		return nil, errors.Wrap(err, "accept stream")
	}
	return newQUICConn(qc, stream, l.config), nil
}

// Refuse turns a client away without opening a session.
func (l *QUICListener) Refuse(qc *quic.Conn, reason string) {
	_ = qc.CloseWithError(quicCodeBusy, reason)
}

func (l *QUICListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *QUICListener) Close() error {
	return l.ln.Close()
}
