package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const subscriptionBuffer = 256

// WebSocket implements Transport over a single WebSocket connection.
// Responses are routed to callers by request id and notifications to
// subscribers by subscription id.
type WebSocket struct {
	url    string
	dialer *websocket.Dialer
	nextID atomic.Uint64

	dialOnce sync.Once
	dialErr  error

	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[uint64]chan jsonRPCResponse
	subs    map[string]chan []byte
	err     error

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWebSocket creates a WebSocket transport.
// The connection is established lazily on the first Call or Subscribe.
func NewWebSocket(url string) *WebSocket {
	return &WebSocket{
		url:     url,
		dialer:  &websocket.Dialer{HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout, Proxy: websocket.DefaultDialer.Proxy},
		pending: make(map[uint64]chan jsonRPCResponse),
		subs:    make(map[string]chan []byte),
		closed:  make(chan struct{}),
	}
}

func (ws *WebSocket) connect(ctx context.Context) error {
	ws.dialOnce.Do(func() {
		conn, _, err := ws.dialer.DialContext(ctx, ws.url, nil)
		if err != nil {
			ws.dialErr = fmt.Errorf("transport/ws: dial: %w", err)
			ws.fail(ws.dialErr)
			return
		}
		ws.mu.Lock()
		select {
		case <-ws.closed:
			ws.mu.Unlock()
			conn.Close()
			ws.dialErr = ErrClosed
			return
		default:
		}
		ws.conn = conn
		ws.mu.Unlock()
		go ws.readLoop(conn)
	})
	return ws.dialErr
}

// Call sends a JSON-RPC request over WebSocket and waits for the response.
func (ws *WebSocket) Call(ctx context.Context, method string, params ...interface{}) ([]byte, error) {
	if err := ws.connect(ctx); err != nil {
		return nil, err
	}

	id := ws.nextID.Add(1)
	ch := make(chan jsonRPCResponse, 1)

	ws.mu.Lock()
	conn := ws.conn
	if conn == nil {
		ws.mu.Unlock()
		return nil, ErrClosed
	}
	ws.pending[id] = ch
	ws.mu.Unlock()

	defer func() {
		ws.mu.Lock()
		delete(ws.pending, id)
		ws.mu.Unlock()
	}()

	ws.writeMu.Lock()
	err := conn.WriteJSON(newRequest(id, method, params))
	ws.writeMu.Unlock()
	if err != nil {
		ws.fail(err)
		return nil, fmt.Errorf("transport/ws: write: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("transport/ws: %s: %w", method, ctx.Err())
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		if len(resp.Result) == 0 {
			return nil, fmt.Errorf("transport/ws: %s: no response result", method)
		}
		return resp.Result, nil
	case <-ws.closed:
		return nil, ws.closedErr()
	}
}

// Subscribe sends a subscription request (e.g. eth_subscribe) and returns a
// channel of notification payloads for the assigned subscription id.
func (ws *WebSocket) Subscribe(ctx context.Context, method string, params ...interface{}) (<-chan []byte, func(), error) {
	result, err := ws.Call(ctx, method, params...)
	if err != nil {
		return nil, nil, err
	}

	var subID string
	if err := json.Unmarshal(result, &subID); err != nil {
		return nil, nil, fmt.Errorf("transport/ws: parse subscription id: %w", err)
	}

	ch := make(chan []byte, subscriptionBuffer)
	ws.mu.Lock()
	select {
	case <-ws.closed:
		ws.mu.Unlock()
		return nil, nil, ws.closedErr()
	default:
	}
	ws.subs[subID] = ch
	ws.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			ws.mu.Lock()
			_, live := ws.subs[subID]
			if live {
				delete(ws.subs, subID)
				close(ch)
			}
			ws.mu.Unlock()
			if !live {
				return
			}
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), websocket.DefaultDialer.HandshakeTimeout)
				defer cancel()
				_, _ = ws.Call(ctx, "eth_unsubscribe", subID)
			}()
		})
	}
	return ch, unsub, nil
}

// Done is closed when the connection drops or Close is called.
func (ws *WebSocket) Done() <-chan struct{} {
	return ws.closed
}

// Err returns the error that ended the connection, if any.
func (ws *WebSocket) Err() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.err
}

// Close terminates the connection and ends every subscription.
func (ws *WebSocket) Close() error {
	conn := ws.shutdown(nil)
	if conn != nil {
		ws.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		ws.writeMu.Unlock()
		return conn.Close()
	}
	return nil
}

func (ws *WebSocket) fail(err error) {
	if conn := ws.shutdown(err); conn != nil {
		conn.Close()
	}
}

// shutdown marks the transport closed, ends all subscriptions and detaches
// the connection. It returns the connection the caller must close.
func (ws *WebSocket) shutdown(err error) *websocket.Conn {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	ws.closeOnce.Do(func() {
		close(ws.closed)
	})
	if ws.err == nil && err != nil {
		ws.err = err
	}
	for id, ch := range ws.subs {
		close(ch)
		delete(ws.subs, id)
	}
	conn := ws.conn
	ws.conn = nil
	return conn
}

func (ws *WebSocket) closedErr() error {
	if err := ws.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return ErrClosed
}

func (ws *WebSocket) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			ws.fail(err)
			return
		}

		var msg jsonRPCResponse
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		switch {
		case msg.Method == "eth_subscription" && msg.Params != nil:
			ws.mu.Lock()
			if ch, ok := ws.subs[msg.Params.Subscription]; ok {
				select {
				case ch <- []byte(msg.Params.Result):
				default:
				}
			}
			ws.mu.Unlock()
		case msg.ID != nil:
			ws.mu.Lock()
			if ch, ok := ws.pending[*msg.ID]; ok {
				select {
				case ch <- msg:
				default:
				}
			}
			ws.mu.Unlock()
		}
	}
}
