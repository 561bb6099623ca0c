package rpc

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 1 << 20
)

// WSServer serves JSON-RPC over WebSocket connections. Each text message
// carries one request and receives one response message.
type WSServer struct {
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewWSServer creates a WebSocket JSON-RPC server.
func NewWSServer(dispatcher *Dispatcher) (*WSServer, error) {
	if dispatcher == nil {
		return nil, errors.New("dispatcher cannot be nil")
	}
	return &WSServer{
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The endpoint is a local control surface, not a browser API.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}, nil
}

// ServeHTTP upgrades the request and serves JSON-RPC until the peer
// disconnects.
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ServeHTTP",
			"remote":   r.RemoteAddr,
			"error":    err,
		}).Warn("WebSocket upgrade failed")
		return
	}
	conn.SetReadLimit(wsMaxMessageSize)

	s.track(conn)
	defer s.untrack(conn)
	defer conn.Close()

	logrus.WithFields(logrus.Fields{
		"function": "ServeHTTP",
		"remote":   conn.RemoteAddr().String(),
	}).Info("WebSocket RPC client connected")

	var writeMu sync.Mutex
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logrus.WithFields(logrus.Fields{
					"function": "ServeHTTP",
					"remote":   conn.RemoteAddr().String(),
					"error":    err,
				}).Debug("WebSocket read ended")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		response := s.dispatcher.DispatchRaw(data)

		writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		err = conn.WriteMessage(websocket.TextMessage, response)
		writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// ListenAndServe runs an HTTP server exposing the RPC endpoint at /rpc
// until the context is cancelled.
func (s *WSServer) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/rpc", s)

	server := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logrus.WithFields(logrus.Fields{
		"function": "ListenAndServe",
		"addr":     addr,
	}).Info("WebSocket RPC server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeAll()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *WSServer) track(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *WSServer) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *WSServer) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}
