package config

import "testing"

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestValidateRejectsEmptyDataDir(t *testing.T) {
	cfg := Default()
	cfg.DataDir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty data-dir")
	}
}

func TestValidatePrimaryRequiresBackupAddress(t *testing.T) {
	cfg := Default()
	cfg.Role = RolePrimary
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for primary role without backup host/port")
	}
	cfg.BackupHost = "localhost"
	cfg.BackupPort = 9090
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected success once backup host/port are set, got %v", err)
	}
}

func TestValidateBackupRequiresReplicationPort(t *testing.T) {
	cfg := Default()
	cfg.Role = RoleBackup
	cfg.ReplicationPort = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for backup role without replication-port")
	}
}

func TestValidateRejectsUnknownRole(t *testing.T) {
	cfg := Default()
	cfg.Role = Role("bogus")
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown role")
	}
}
