// Package config defines and validates the knobs the CLI entry point
// assembles from flags and hands to the engine, façades, and replication
// components described in the external interfaces.
package config

import (
	"fmt"
	"time"

	"github.com/flashkv/flashkv/internal/wal"
)

type Role string

const (
	RoleStandalone Role = "standalone"
	RolePrimary    Role = "primary"
	RoleBackup     Role = "backup"
)

// Config is the fully-resolved, validated set of knobs for one process.
type Config struct {
	Role Role

	DataDir string

	HTTPPort int
	TCPPort  int

	// ReplicationPort is where a backup listens for its primary.
	ReplicationPort int

	// BackupHost/BackupPort are where a primary connects to reach its backup.
	BackupHost string
	BackupPort int

	SyncPolicy     wal.SyncPolicy
	SyncIntervalMS int

	MemTableSizeLimit int

	BlockSize              int
	CompactionEnabled      bool
	CompactionTriggerCount int

	ReplicationTimeout    time.Duration
	ReplicationMaxBackoff time.Duration
	ReplicationMinBackoff time.Duration
	ReplicationWindow     int
}

// DefaultMemTableSizeLimit matches the order of magnitude used across the
// end-to-end scenarios (tens of KiB to low MiB per MemTable generation).
const DefaultMemTableSizeLimit = 4 << 20 // 4 MiB

func Default() *Config {
	return &Config{
		Role:                   RoleStandalone,
		DataDir:                "./data",
		HTTPPort:               8080,
		TCPPort:                8081,
		ReplicationPort:        9090,
		SyncPolicy:             wal.SyncEveryWrite,
		SyncIntervalMS:         100,
		MemTableSizeLimit:      DefaultMemTableSizeLimit,
		BlockSize:              4 * 1024,
		CompactionEnabled:      false,
		CompactionTriggerCount: 4,
		ReplicationTimeout:     5 * time.Second,
		ReplicationMinBackoff:  200 * time.Millisecond,
		ReplicationMaxBackoff:  10 * time.Second,
		ReplicationWindow:      10000,
	}
}

// Validate rejects configurations that cannot start, mapping to exit code
// 1 (fatal initialization error) at the entry point.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data-dir is required")
	}
	if c.MemTableSizeLimit <= 0 {
		return fmt.Errorf("config: memtable-size must be positive")
	}

	switch c.Role {
	case RoleStandalone:
	case RolePrimary:
		if c.BackupHost == "" || c.BackupPort == 0 {
			return fmt.Errorf("config: role=primary requires --backup-host and --backup-port")
		}
	case RoleBackup:
		if c.ReplicationPort == 0 {
			return fmt.Errorf("config: role=backup requires --replication-port")
		}
	default:
		return fmt.Errorf("config: unknown role %q", c.Role)
	}

	return nil
}
