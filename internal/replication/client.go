// Package replication implements the primary→backup stream: a persistent
// client connection with a bounded pending-ops window, sync-sync ACK
// waiting, and exponential-backoff reconnect on the primary side; a
// single-connection, in-order, idempotent-apply server on the backup side.
package replication

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flashkv/flashkv/internal/record"
)

type pendingOp struct {
	rec   record.Record
	done  chan struct{}
	acked bool
}

// PrimaryClient is the primary-side half of the replication stream: one
// persistent TCP connection to the backup, reconnected with exponential
// backoff, replaying any unacknowledged ops in order after each reconnect.
type PrimaryClient struct {
	addr       string
	primaryID  uint64
	timeout    time.Duration
	minBackoff time.Duration
	maxBackoff time.Duration
	window     int
	logger     *zap.Logger

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	pending   []*pendingOp
	lastSent  uint64
	lastAcked uint64

	opsSent        uint64
	opsAcked       uint64
	reconnectCount uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPrimaryClient starts a client that dials addr in the background and
// keeps trying to stay connected until Close is called.
func NewPrimaryClient(addr string, primaryID uint64, timeout, minBackoff, maxBackoff time.Duration, window int, logger *zap.Logger) *PrimaryClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &PrimaryClient{
		addr:       addr,
		primaryID:  primaryID,
		timeout:    timeout,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
		window:     window,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
	c.wg.Add(1)
	go c.connectLoop()
	return c
}

// Replicate enqueues rec and, in sync-sync mode, blocks until the backup
// ACKs it or the configured timeout elapses.
func (c *PrimaryClient) Replicate(rec record.Record) error {
	op := &pendingOp{rec: rec, done: make(chan struct{})}

	c.mu.Lock()
	if c.window > 0 && len(c.pending) >= c.window {
		c.mu.Unlock()
		return fmt.Errorf("replication: pending window full (%d ops)", c.window)
	}
	c.pending = append(c.pending, op)
	if rec.Seq > c.lastSent {
		c.lastSent = rec.Seq
	}
	connected := c.connected
	c.mu.Unlock()

	if connected {
		if err := c.send(rec); err != nil {
			c.logger.Warn("replication: send failed, awaiting reconnect", zap.Error(err))
		}
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-op.done:
		return nil
	case <-timer.C:
		return ErrReplicationTimeout
	case <-c.stopCh:
		return ErrDisconnected
	}
}

// Status reports the current stream state for the replication-status
// endpoint.
func (c *PrimaryClient) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Role:         RolePrimary,
		Connected:    c.connected,
		LastSentSeq:  c.lastSent,
		LastAckedSeq: c.lastAcked,
		PendingOps:   len(c.pending),
		Metrics: Metrics{
			OpsSent:        c.opsSent,
			OpsAcked:       c.opsAcked,
			ReconnectCount: c.reconnectCount,
		},
	}
}

// Close stops the reconnect loop and releases the socket; ops still
// awaiting ACK return ErrDisconnected.
func (c *PrimaryClient) Close() error {
	close(c.stopCh)
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *PrimaryClient) connectLoop() {
	defer c.wg.Done()

	backoff := c.minBackoff
	first := true
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
		if err != nil {
			c.logger.Warn("replication: dial failed", zap.String("addr", c.addr), zap.Error(err))
			if !c.sleepBackoff(&backoff) {
				return
			}
			continue
		}

		if _, err := conn.Write(encodeHandshake(c.primaryID)); err != nil {
			c.logger.Warn("replication: handshake send failed", zap.Error(err))
			conn.Close()
			if !c.sleepBackoff(&backoff) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.connected = true
		if !first {
			c.reconnectCount++
		}
		resend := append([]*pendingOp(nil), c.pending...)
		c.mu.Unlock()
		first = false
		backoff = c.minBackoff

		for _, op := range resend {
			if err := c.send(op.rec); err != nil {
				c.logger.Warn("replication: resend failed", zap.Error(err))
				break
			}
		}

		c.recvLoop(conn)

		c.mu.Lock()
		c.connected = false
		c.conn = nil
		c.mu.Unlock()
		conn.Close()

		if !c.sleepBackoff(&backoff) {
			return
		}
	}
}

func (c *PrimaryClient) sleepBackoff(backoff *time.Duration) bool {
	select {
	case <-time.After(*backoff):
	case <-c.stopCh:
		return false
	}
	*backoff *= 2
	if *backoff > c.maxBackoff {
		*backoff = c.maxBackoff
	}
	return true
}

func (c *PrimaryClient) send(rec record.Record) error {
	frame, err := record.EncodeBytes(&rec)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrDisconnected
	}
	if _, err = conn.Write(frame); err != nil {
		return err
	}
	c.mu.Lock()
	c.opsSent++
	c.mu.Unlock()
	return nil
}

// recvLoop reads ACK frames ("[len:u32=8][ack_seq:u64]") until the
// connection errors or closes, retiring pending ops as acks arrive.
func (c *PrimaryClient) recvLoop(conn net.Conn) {
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			return
		}
		if binary.BigEndian.Uint32(lenBuf[:]) != 8 {
			c.logger.Warn("replication: malformed ack frame length")
			return
		}

		var seqBuf [8]byte
		if _, err := io.ReadFull(conn, seqBuf[:]); err != nil {
			return
		}
		c.retire(binary.BigEndian.Uint64(seqBuf[:]))
	}
}

func (c *PrimaryClient) retire(ackSeq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ackSeq > c.lastAcked {
		c.lastAcked = ackSeq
	}

	kept := c.pending[:0]
	for _, op := range c.pending {
		if op.rec.Seq <= ackSeq {
			if !op.acked {
				op.acked = true
				c.opsAcked++
				close(op.done)
			}
		} else {
			kept = append(kept, op)
		}
	}
	c.pending = kept
}
