package logger

import (
	"testing"

	"listing-snapshot-api/internal/config"
)

func TestNewProductionLogger(t *testing.T) {
	log, err := New(config.AppConfig{Name: "test", Environment: "production", Version: "1"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if log.Core().Enabled(-1) {
		t.Fatal("production logger must not log debug")
	}
}

func TestNewDebugLogger(t *testing.T) {
	log, err := New(config.AppConfig{Name: "test", Environment: "production", Debug: true})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !log.Core().Enabled(-1) {
		t.Fatal("debug logger must log debug")
	}
}
