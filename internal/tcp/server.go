package tcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/taskforge/taskforge/internal/common/errors"
	"github.com/taskforge/taskforge/internal/common/logger"
)

const readBufferSize = 64 * 1024

// Conn wraps one client connection. Writes are serialized behind a mutex
// because command responses and mirrored notifications share the socket.
type Conn struct {
	ID      string
	netConn net.Conn
	writeMu sync.Mutex

	// cleanup funcs run when the connection closes, newest first. Monitor
	// verbs register session teardown here.
	cleanupMu sync.Mutex
	cleanup   []func()
}

// WriteFrame writes one newline-terminated frame.
func (c *Conn) WriteFrame(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.netConn.Write(data); err != nil {
		return err
	}
	_, err := c.netConn.Write([]byte{'\n'})
	return err
}

// WriteJSON marshals and writes one frame.
func (c *Conn) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.WriteFrame(data)
}

// OnClose registers a cleanup hook for connection teardown.
func (c *Conn) OnClose(fn func()) {
	c.cleanupMu.Lock()
	c.cleanup = append(c.cleanup, fn)
	c.cleanupMu.Unlock()
}

func (c *Conn) runCleanup() {
	c.cleanupMu.Lock()
	hooks := c.cleanup
	c.cleanup = nil
	c.cleanupMu.Unlock()
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}

// Server is the TCP command listener.
type Server struct {
	addr       string
	dispatcher *Dispatcher
	listener   net.Listener
	wg         sync.WaitGroup
	logger     *logger.Logger
}

// NewServer creates a command server for the given address.
func NewServer(host string, port int, dispatcher *Dispatcher, log *logger.Logger) *Server {
	return &Server{
		addr:       fmt.Sprintf("%s:%d", host, port),
		dispatcher: dispatcher,
		logger:     log.WithFields(zap.String("component", "tcp_server")),
	}
}

// Start binds the listener and serves until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return apperrors.Transport("failed to bind command port", err)
	}
	s.listener = listener
	s.logger.Info("Command server listening", zap.String("addr", s.addr))

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		netConn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.logger.Warn("Accept failed", zap.Error(err))
			continue
		}
		s.wg.Add(1)
		go s.handleConn(ctx, netConn)
	}

	s.wg.Wait()
	s.logger.Info("Command server stopped")
	return nil
}

// Addr returns the bound listener address, useful when port 0 was requested.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// handleConn serves one persistent connection: frames are processed
// strictly in arrival order, so responses always match request order.
func (s *Server) handleConn(ctx context.Context, netConn net.Conn) {
	defer s.wg.Done()

	conn := &Conn{
		ID:      uuid.New().String(),
		netConn: netConn,
	}
	log := s.logger.WithFields(
		zap.String("conn_id", conn.ID),
		zap.String("remote", netConn.RemoteAddr().String()))
	log.Debug("Client connected")

	defer func() {
		conn.runCleanup()
		_ = netConn.Close()
		log.Debug("Client disconnected")
	}()

	framer := &lineFramer{}
	buf := make([]byte, readBufferSize)

	for {
		if ctx.Err() != nil {
			return
		}
		// Poll the socket so context cancellation is noticed on idle
		// connections.
		_ = netConn.SetReadDeadline(time.Now().Add(time.Second))
		n, err := netConn.Read(buf)
		if n > 0 {
			if err := framer.Push(buf[:n]); err != nil {
				_ = conn.WriteJSON(errResponse(err))
				return
			}
			for {
				frame := framer.Pop()
				if frame == nil {
					break
				}
				s.serveFrame(ctx, conn, frame, log)
			}
		}
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if err != io.EOF {
				log.Debug("Read failed", zap.Error(err))
			}
			return
		}
	}
}

// serveFrame parses and dispatches one frame, always answering with
// exactly one response line.
func (s *Server) serveFrame(ctx context.Context, conn *Conn, frame []byte, log *logger.Logger) {
	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		_ = conn.WriteJSON(errResponse(apperrors.Transport("malformed request frame", err)))
		return
	}
	if req.Command == "" {
		_ = conn.WriteJSON(errResponse(apperrors.Validation("command must not be empty")))
		return
	}

	resp := s.dispatcher.Dispatch(ctx, conn, &req)
	if err := conn.WriteJSON(resp); err != nil {
		log.Debug("Write failed", zap.Error(err))
	}
}
