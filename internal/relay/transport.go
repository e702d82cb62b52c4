package relay

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// Transport is one open connection to a relay
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Transport. The handshake must respect ctx.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Transport, error)
}

// WebsocketDialer dials relays with gorilla/websocket
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

// Dial performs the websocket handshake
func (d WebsocketDialer) Dial(ctx context.Context, endpoint string) (Transport, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteMessage(data []byte) error {
	// Set write deadline to prevent indefinite blocking
	t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	defer t.conn.SetWriteDeadline(time.Time{})
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
