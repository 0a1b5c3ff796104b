// Package httpapi implements the thin HTTP façade described in spec.md §6:
// validate request shape, call the engine, shape the JSON response. No
// business logic lives here.
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/flashkv/flashkv/internal/engine"
	"github.com/flashkv/flashkv/internal/replication"
)

// Store is the capability set the façade depends on — the engine's public
// read/write surface, never its internals.
type Store interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	BatchPut(entries []engine.BatchEntry) (int, error)
	Get(key []byte) ([]byte, error)
	ReadKeyRange(start, end []byte, limit int) ([]engine.KV, error)
}

// Server wraps a gin engine bound to a Store and, optionally, a replication
// StatusProvider for /replication/status.
type Server struct {
	router *gin.Engine
	store  Store
	status replication.StatusProvider
	logger *zap.Logger
}

// New builds the façade's route table. status may be nil (standalone role),
// in which case /replication/status reports {enabled:false}.
func New(store Store, status replication.StatusProvider, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{router: gin.New(), store: store, status: status, logger: logger}
	s.router.Use(gin.Recovery())
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler to pass to an http.Server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.POST("/put", s.handlePut)
	s.router.POST("/batch-put", s.handleBatchPut)
	s.router.GET("/get/:key", s.handleGet)
	s.router.DELETE("/delete/:key", s.handleDelete)
	s.router.GET("/range", s.handleRange)
	s.router.GET("/replication/status", s.handleReplicationStatus)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UnixMilli()})
}

type putRequest struct {
	Key   string `json:"key" binding:"required"`
	Value any    `json:"value"`
}

func (s *Server) handlePut(c *gin.Context) {
	var req putRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	value, err := encodeValue(req.Value)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.store.Put([]byte(req.Key), value); err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type batchPutRequest struct {
	Entries []struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	} `json:"entries"`
	Keys   []string `json:"keys"`
	Values []any    `json:"values"`
}

func (s *Server) handleBatchPut(c *gin.Context) {
	var req batchPutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var entries []engine.BatchEntry
	switch {
	case len(req.Entries) > 0:
		for _, e := range req.Entries {
			v, err := encodeValue(e.Value)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			entries = append(entries, engine.BatchEntry{Key: []byte(e.Key), Value: v})
		}
	case len(req.Keys) > 0:
		if len(req.Keys) != len(req.Values) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "keys and values must be the same length"})
			return
		}
		for i, k := range req.Keys {
			v, err := encodeValue(req.Values[i])
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			entries = append(entries, engine.BatchEntry{Key: []byte(k), Value: v})
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch must not be empty"})
		return
	}

	count, err := s.store.BatchPut(entries)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": count})
}

func (s *Server) handleGet(c *gin.Context) {
	key := c.Param("key")
	value, err := s.store.Get([]byte(key))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": decodeValue(value)})
}

func (s *Server) handleDelete(c *gin.Context) {
	key := c.Param("key")
	if err := s.store.Delete([]byte(key)); err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleRange(c *gin.Context) {
	start := c.Query("start")
	end := c.Query("end")

	limit := 0
	if raw, ok := c.GetQuery("limit"); ok {
		n, err := parseLimit(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		limit = n
	}

	rows, err := s.store.ReadKeyRange([]byte(start), []byte(end), limit)
	if err != nil {
		writeEngineError(c, err)
		return
	}

	results := make([]gin.H, len(rows))
	for i, kv := range rows {
		results[i] = gin.H{"key": string(kv.Key), "value": decodeValue(kv.Value)}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(results), "results": results})
}

func (s *Server) handleReplicationStatus(c *gin.Context) {
	if s.status == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	st := s.status.Status()
	state := gin.H{
		"role":      st.Role,
		"connected": st.Connected,
	}
	switch st.Role {
	case replication.RolePrimary:
		state["last_sent_seq"] = st.LastSentSeq
		state["last_acked_seq"] = st.LastAckedSeq
		state["pending_ops"] = st.PendingOps
	case replication.RoleBackup:
		state["last_applied_seq"] = st.LastAppliedSeq
	}
	c.JSON(http.StatusOK, gin.H{
		"enabled": true,
		"state":   state,
		"metrics": gin.H{
			"ops_sent":        st.Metrics.OpsSent,
			"ops_acked":       st.Metrics.OpsAcked,
			"reconnect_count": st.Metrics.ReconnectCount,
			"ops_applied":     st.Metrics.OpsApplied,
			"ops_skipped":     st.Metrics.OpsSkipped,
		},
	})
}

func writeEngineError(c *gin.Context, err error) {
	var ve *engine.ValidationError
	var ce *engine.CorruptionError
	switch {
	case errors.Is(err, engine.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &ce):
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
