package protocol

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

type wsFramer struct {
	ws *websocket.Conn
}

// NewConn wraps an established websocket. Envelopes travel as text frames.
func NewConn(ws *websocket.Conn, config Config) *Conn {
	if config.MaxMessageSize > 0 {
		ws.SetReadLimit(config.MaxMessageSize)
	}
	return newConn(wsFramer{ws}, config)
}

func (f wsFramer) writeFrame(data []byte, deadline time.Time) error {
	_ = f.ws.SetWriteDeadline(deadline)
	return f.ws.WriteMessage(websocket.TextMessage, data)
}

func (f wsFramer) readFrame(deadline time.Time) ([]byte, error) {
	_ = f.ws.SetReadDeadline(deadline)
	kind, data, err := f.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	if kind != websocket.TextMessage {
		return nil, ErrUnsupportedFrame
	}
	return data, nil
}

func (f wsFramer) close(reason string) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = f.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return f.ws.Close()
}

func wsClosed(err error) bool {
	return websocket.IsCloseError(errors.Cause(err), websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
