package transport

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/c360/gadgetmesh/errors"
)

// wsConn adapts a WebSocket connection to the frame channel. Each frame
// travels as one text message, so the stream codec's line discipline is
// unnecessary here.
type wsConn struct {
	ws *websocket.Conn
}

// NewWebSocketConn wraps an established WebSocket connection.
func NewWebSocketConn(ws *websocket.Conn) Conn {
	return &wsConn{ws: ws}
}

// DialWebSocket connects to a remote frame endpoint over WebSocket.
func DialWebSocket(url string) (Conn, error) {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("dial %s: %w", url, err),
			"WebSocket", "DialWebSocket", "connection establishment")
	}
	return NewWebSocketConn(ws), nil
}

// UpgradeWebSocket upgrades an HTTP request to a frame channel.
func UpgradeWebSocket(w http.ResponseWriter, r *http.Request) (Conn, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, errors.WrapTransient(err, "WebSocket", "UpgradeWebSocket", "connection upgrade")
	}
	return NewWebSocketConn(ws), nil
}

func (c *wsConn) Send(f Frame) error {
	if err := c.ws.WriteJSON(f); err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrConnectionLost, err),
			"WebSocketConn", "Send", "frame write")
	}
	return nil
}

func (c *wsConn) Receive() (Frame, error) {
	messageType, data, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return Frame{}, errors.WrapTransient(errors.ErrTransportClosed, "WebSocketConn", "Receive", "channel read")
		}
		return Frame{}, errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrConnectionLost, err),
			"WebSocketConn", "Receive", "channel read")
	}
	if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
		return Frame{}, errors.WrapInvalid(errors.ErrMalformedFrame, "WebSocketConn", "Receive", "message type check")
	}
	return DecodeFrame(data)
}

func (c *wsConn) Close() error {
	_ = c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.ws.Close()
}
