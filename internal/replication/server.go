package replication

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/flashkv/flashkv/internal/record"
)

// Applier is the capability the backup server uses to apply a replicated
// op to its local engine, keeping this package from importing engine back.
type Applier interface {
	ApplyReplicated(rec record.Record) error
}

// BackupServer accepts one connection at a time on the replication port,
// applies ops to the local engine in order, and ACKs each after apply.
type BackupServer struct {
	listener net.Listener
	applier  Applier
	logger   *zap.Logger

	mu             sync.Mutex
	connected      bool
	lastAppliedSeq uint64
	opsApplied     uint64
	opsSkipped     uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewBackupServer starts listening on addr and begins accepting connections
// in the background.
func NewBackupServer(addr string, applier Applier, logger *zap.Logger) (*BackupServer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("replication: listen %s: %w", addr, err)
	}

	s := &BackupServer{
		listener: ln,
		applier:  applier,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

func (s *BackupServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.logger.Warn("replication: accept failed", zap.Error(err))
				continue
			}
		}
		// Spec mandates one connection at a time; handling it inline (not
		// in a goroutine) enforces that without extra bookkeeping.
		s.handleConn(conn)
	}
}

func (s *BackupServer) handleConn(conn net.Conn) {
	defer conn.Close()

	buf := make([]byte, handshakeSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		s.logger.Warn("replication: handshake read failed", zap.Error(err))
		return
	}
	if _, err := decodeHandshake(buf); err != nil {
		s.logger.Warn("replication: rejecting connection", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
	}()

	for {
		rec, err := record.Decode(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warn("replication: decode failed, closing connection", zap.Error(err))
			}
			return
		}

		s.mu.Lock()
		last := s.lastAppliedSeq
		s.mu.Unlock()

		switch {
		case rec.Seq <= last:
			// Duplicate delivered again after the primary reconnected and
			// resent its pending window; skip the apply but still ack.
			s.mu.Lock()
			s.opsSkipped++
			s.mu.Unlock()
		case rec.Seq == last+1:
			if err := s.applier.ApplyReplicated(*rec); err != nil {
				s.logger.Error("replication: apply failed", zap.Error(err))
				return
			}
			s.mu.Lock()
			s.lastAppliedSeq = rec.Seq
			s.opsApplied++
			s.mu.Unlock()
		default:
			s.logger.Warn("replication: out-of-order seq, aborting connection",
				zap.Uint64("seq", rec.Seq), zap.Uint64("last_applied", last))
			return
		}

		if err := s.sendAck(conn, rec.Seq); err != nil {
			s.logger.Warn("replication: ack write failed", zap.Error(err))
			return
		}
	}
}

func (s *BackupServer) sendAck(conn net.Conn, seq uint64) error {
	var buf [12]byte
	binary.BigEndian.PutUint32(buf[0:4], 8)
	binary.BigEndian.PutUint64(buf[4:12], seq)
	_, err := conn.Write(buf[:])
	return err
}

// Status reports the current stream state for the replication-status
// endpoint.
func (s *BackupServer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Role:           RoleBackup,
		Connected:      s.connected,
		LastAppliedSeq: s.lastAppliedSeq,
		Metrics: Metrics{
			OpsApplied: s.opsApplied,
			OpsSkipped: s.opsSkipped,
		},
	}
}

// Close stops accepting new connections and waits for the accept loop to
// exit; an in-flight connection is closed by the listener shutdown.
func (s *BackupServer) Close() error {
	close(s.stopCh)
	err := s.listener.Close()
	s.wg.Wait()
	return err
}
