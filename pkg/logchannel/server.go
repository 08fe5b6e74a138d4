package logchannel

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/logging"
)

const readBufferSize = 4096

// ConnEvent carries the events decoded from one read of a connection.
// The last ConnEvent of a connection has Closed set.
type ConnEvent struct {
	Source int
	Events []Event
	Closed bool
	// Clean is set on the closing event when the stream ended with </log>
	Clean bool
}

type ServerConfig struct {
	// "unix" or "tcp"
	Network string
	Address string
	Forward *Forward
}

// Server accepts log connections from children. Connection goroutines only
// read and decode; consumers handle everything from Events on one goroutine.
type Server struct {
	config ServerConfig
	logger logging.Logger

	listener net.Listener
	events   chan ConnEvent
	sourceID int

	mu      sync.Mutex
	conns   map[int]net.Conn
	running int32 // atomic
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	totalLines int64 // atomic
	totalBytes int64 // atomic
}

func NewServer(config ServerConfig, logger logging.Logger) *Server {
	if config.Network == "" {
		config.Network = "unix"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config: config,
		logger: logger,
		events: make(chan ConnEvent, 64),
		conns:  make(map[int]net.Conn),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Listen opens the listening socket and starts accepting connections
func (s *Server) Listen() error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return errors.NewInternalError("log server already listening", nil)
	}

	if s.config.Network == "unix" {
		if err := os.Remove(s.config.Address); err != nil && !os.IsNotExist(err) {
			atomic.StoreInt32(&s.running, 0)
			return errors.NewIOError("failed to remove stale log socket", err).WithContext("path", s.config.Address)
		}
	}

	listener, err := net.Listen(s.config.Network, s.config.Address)
	if err != nil {
		atomic.StoreInt32(&s.running, 0)
		return errors.NewNetworkError("failed to listen for log connections", err).
			WithContext("network", s.config.Network).
			WithContext("address", s.config.Address)
	}
	s.listener = listener

	s.logger.Infof("Log server listening, network: %s, address: %s", s.config.Network, listener.Addr())

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the listening address, useful when listening on port 0
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.config.Address
	}
	return s.listener.Addr().String()
}

// Events delivers decoded events of all connections. It is closed after
// Close once every connection has delivered its closing event.
func (s *Server) Events() <-chan ConnEvent {
	return s.events
}

// Close stops accepting, disconnects every connection and closes Events
// after the connections have drained. Callers keep reading Events until it
// is closed.
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return nil
	}

	s.cancel()
	err := s.listener.Close()

	s.mu.Lock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	go func() {
		s.wg.Wait()
		close(s.events)
		s.logger.Debugf("Log server stopped, lines: %d, bytes: %d",
			atomic.LoadInt64(&s.totalLines), atomic.LoadInt64(&s.totalBytes))
	}()

	if err != nil {
		return errors.NewNetworkError("failed to close log listener", err)
	}
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			s.logger.Errorf("Failed to accept log connection: %v", err)
			return
		}

		s.sourceID++
		source := s.sourceID

		s.mu.Lock()
		s.conns[source] = conn
		if s.ctx.Err() != nil {
			conn.Close()
		}
		s.mu.Unlock()

		s.logger.Debugf("Log connection accepted, source: %d", source)

		s.wg.Add(1)
		go s.serve(source, conn)
	}
}

func (s *Server) serve(source int, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, source)
		s.mu.Unlock()
		conn.Close()
	}()

	handler := newConnHandler(source, s.logger)
	if s.config.Forward != nil {
		forward, err := s.config.Forward.dial()
		if err != nil {
			s.logger.Warnf("Log forwarding disabled, source: %d, error: %v", source, err)
		} else {
			handler.forward = forward
			defer forward.Close()
		}
	}

	data := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(data)
		if n > 0 {
			atomic.AddInt64(&s.totalBytes, int64(n))
			events, lines := handler.handleRead(data[:n])
			atomic.AddInt64(&s.totalLines, int64(lines))
			if len(events) > 0 {
				s.events <- ConnEvent{Source: source, Events: events}
			}
		}
		if err != nil {
			events := handler.handleDisconnect()
			s.events <- ConnEvent{Source: source, Events: events, Closed: true, Clean: handler.decoder.Clean()}
			s.logger.Debugf("Log connection closed, source: %d, clean: %t", source, handler.decoder.Clean())
			return
		}
	}
}

// connHandler buffers partial lines of one connection
type connHandler struct {
	source  int
	logger  logging.Logger
	decoder *Decoder
	buffer  []byte
	forward net.Conn
}

func newConnHandler(source int, logger logging.Logger) *connHandler {
	return &connHandler{
		source:  source,
		logger:  logger,
		decoder: NewDecoder(),
	}
}

// handleRead forwards data, then decodes every complete line and keeps the
// trailing partial line
func (h *connHandler) handleRead(data []byte) ([]Event, int) {
	if h.forward != nil {
		if _, err := h.forward.Write(data); err != nil {
			h.logger.Warnf("Log forwarding failed, source: %d, error: %v", h.source, err)
			h.forward.Close()
			h.forward = nil
		}
	}

	h.buffer = append(h.buffer, data...)

	var events []Event
	lines := 0
	for {
		index := bytes.IndexByte(h.buffer, '\n')
		if index < 0 {
			break
		}
		line := string(h.buffer[:index])
		h.buffer = h.buffer[index+1:]
		events = append(events, h.feed(line)...)
		lines++
	}
	return events, lines
}

// handleDisconnect decodes whatever is left in the buffer
func (h *connHandler) handleDisconnect() []Event {
	if len(h.buffer) == 0 {
		return nil
	}
	line := string(h.buffer)
	h.buffer = nil
	return h.feed(line)
}

func (h *connHandler) feed(line string) []Event {
	events, err := h.decoder.Feed(line)
	if err != nil {
		h.logger.Errorf("Dropping log line, source: %d, error: %v", h.source, err)
		return nil
	}
	return events
}

func (e ConnEvent) String() string {
	return fmt.Sprintf("source %d: %d events, closed: %t, clean: %t", e.Source, len(e.Events), e.Closed, e.Clean)
}
