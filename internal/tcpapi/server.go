// Package tcpapi implements the TCP streaming ingestion façade: a framed
// stream of put ops, one ACK byte per op, half-close terminated.
package tcpapi

import (
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/flashkv/flashkv/internal/record"
)

const (
	ackSuccess byte = 0x01
	ackFailure byte = 0x00
)

// Putter is the capability set the façade depends on.
type Putter interface {
	Put(key, value []byte) error
}

// Server accepts one connection per client and applies each framed put op
// it receives, replying with a single ACK byte per op.
type Server struct {
	listener net.Listener
	store    Putter
	logger   *zap.Logger

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New starts listening on addr and begins accepting connections in the
// background; each connection is served on its own goroutine so multiple
// clients can stream concurrently.
func New(addr string, store Putter, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener: ln,
		store:    store,
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),
		stopCh:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.logger.Warn("tcpapi: accept failed", zap.Error(err))
				continue
			}
		}
		s.connsMu.Lock()
		s.conns[conn] = struct{}{}
		s.connsMu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
	}()

	for {
		rec, err := record.Decode(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warn("tcpapi: decode failed, closing connection", zap.Error(err))
			}
			return
		}
		if rec.Type != record.Put {
			s.logger.Warn("tcpapi: unsupported op type, closing connection", zap.Uint8("type", uint8(rec.Type)))
			return
		}

		ack := ackSuccess
		if err := s.store.Put(rec.Key, rec.Value); err != nil {
			s.logger.Warn("tcpapi: put failed", zap.Error(err))
			ack = ackFailure
		}

		if _, err := conn.Write([]byte{ack}); err != nil {
			return
		}
	}
}

// Close stops accepting new connections and closes every live connection so
// a handler blocked in record.Decode unblocks instead of holding Close
// (and the WaitGroup it waits on) open indefinitely for an idle client.
func (s *Server) Close() error {
	close(s.stopCh)
	err := s.listener.Close()

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return err
}
