package config

import (
	"testing"
	"time"
)

func TestRelayDefaultsAreValid(t *testing.T) {
	cfg := RelayFromEnv()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default relay config invalid: %v", err)
	}
	if !cfg.MockMode {
		t.Fatal("relay without a backend URL must default to mock mode")
	}
}

func TestViewerDefaultsAreValid(t *testing.T) {
	cfg := ViewerFromEnv()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default viewer config invalid: %v", err)
	}
}

func TestRelayValidateRejectsBadValues(t *testing.T) {
	cfg := RelayFromEnv()
	cfg.TransportMode = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatal("bad transport mode accepted")
	}

	cfg = RelayFromEnv()
	cfg.ConcurrencyCap = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero concurrency cap accepted")
	}

	cfg = RelayFromEnv()
	cfg.MockMode = false
	if err := cfg.Validate(); err == nil {
		t.Fatal("mock off without backend URL accepted")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SAMPLE_INTERVAL", "250ms")
	t.Setenv("MAX_IN_FLIGHT", "4")
	t.Setenv("RUN_TEXT", "true")

	cfg := ViewerFromEnv()
	if cfg.SampleInterval != 250*time.Millisecond {
		t.Fatalf("SAMPLE_INTERVAL not applied: %s", cfg.SampleInterval)
	}
	if cfg.MaxInFlight != 4 {
		t.Fatalf("MAX_IN_FLIGHT not applied: %d", cfg.MaxInFlight)
	}
	if !cfg.RunText {
		t.Fatal("RUN_TEXT not applied")
	}
}
