package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thushan/ksid/internal/event"
	"github.com/thushan/ksid/internal/logger"
)

const (
	// DefaultMaxLineBytes bounds one NDJSON request line
	DefaultMaxLineBytes = 16 << 20

	writeTimeout = 30 * time.Second
)

// wireMessage is one NDJSON line in either direction
type wireMessage struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// Server exposes the event router over a unix domain socket. Clients send
// newline-delimited JSON messages and receive one response line per request;
// monitor:subscribe switches the connection into a push feed of every event.
type Server struct {
	socketPath   string
	maxLineBytes int
	router       *event.Router
	logger       *logger.StyledLogger

	listener net.Listener
	group    *errgroup.Group
	groupCtx context.Context
	cancel   context.CancelFunc

	conns map[net.Conn]struct{}
	mu    sync.Mutex
}

func NewServer(socketPath string, maxLineBytes int, router *event.Router, log *logger.StyledLogger) *Server {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	return &Server{
		socketPath:   socketPath,
		maxLineBytes: maxLineBytes,
		router:       router,
		logger:       log,
		conns:        make(map[net.Conn]struct{}),
	}
}

// Start binds the socket and begins accepting connections
func (s *Server) Start(ctx context.Context) error {
	// A stale socket from an unclean shutdown blocks the bind
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	s.listener = listener

	groupCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.group, s.groupCtx = errgroup.WithContext(groupCtx)

	s.group.Go(func() error {
		s.acceptLoop()
		return nil
	})

	s.logger.Info("Event socket listening", "path", s.socketPath)
	return nil
}

// Stop closes the listener and every open connection, then waits for the
// connection handlers bounded by ctx
func (s *Server) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	if s.group != nil {
		done := make(chan error, 1)
		go func() { done <- s.group.Wait() }()
		select {
		case err := <-done:
			_ = os.Remove(s.socketPath)
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	_ = os.Remove(s.socketPath)
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.groupCtx.Err() != nil {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("Accept failed", "error", err)
			continue
		}

		s.track(conn)
		s.group.Go(func() error {
			defer s.untrack(conn)
			s.handleConn(s.groupCtx, conn)
			return nil
		})
	}
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	writer := &connWriter{conn: conn}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), s.maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg wireMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			writer.send(&wireMessage{
				Event: "transport:error",
				Data:  map[string]any{"error": "malformed JSON line"},
			})
			continue
		}
		if msg.Event == "" {
			writer.send(&wireMessage{
				Event: "transport:error",
				Data:  map[string]any{"error": "event name is required"},
			})
			continue
		}

		if msg.Event == "monitor:subscribe" {
			s.serveMonitor(ctx, writer, msg.Data)
			return
		}

		s.serveRequest(ctx, writer, &msg)
	}
}

func (s *Server) serveRequest(ctx context.Context, writer *connWriter, msg *wireMessage) {
	data := msg.Data
	if data == nil {
		data = map[string]any{}
	}

	resp, err := s.router.Dispatch(ctx, msg.Event, data)
	if err != nil {
		errData := map[string]any{"error": err.Error()}
		if requestID, ok := data["request_id"].(string); ok && requestID != "" {
			errData["request_id"] = requestID
		}
		writer.send(&wireMessage{Event: msg.Event + ":error", Data: errData})
		return
	}

	writer.send(&wireMessage{Event: msg.Event + ":response", Data: resp})
}

// serveMonitor turns the connection into a one-way event feed. The feed ends
// when the client disconnects or the server shuts down.
func (s *Server) serveMonitor(ctx context.Context, writer *connWriter, data map[string]any) {
	feed, cleanup := s.router.Subscribe(ctx)
	defer cleanup()

	writer.send(&wireMessage{
		Event: "monitor:subscribe:response",
		Data:  map[string]any{"status": "subscribed"},
	})

	for {
		select {
		case <-ctx.Done():
			return
		case envelope, ok := <-feed:
			if !ok {
				return
			}
			msg := &wireMessage{Event: envelope.Name, Data: envelope.Data}
			if err := writer.send(msg); err != nil {
				return
			}
		}
	}
}

// connWriter serializes NDJSON writes on one connection
type connWriter struct {
	conn net.Conn
	mu   sync.Mutex
}

func (w *connWriter) send(msg *wireMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	_ = w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = w.conn.Write(payload)
	return err
}
