package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"speech-analytics-service/internal/config"
)

func testConfig() *config.Configuration {
	cfg := &config.Configuration{}
	cfg.Service.HTTPPort = "0"
	cfg.Service.GRPCPort = "0"
	cfg.Observability.LogLevel = "error"
	cfg.STT.Provider = "mock"
	cfg.STT.DefaultLanguage = "ko"
	cfg.STT.SampleRateHz = 16000
	cfg.Audio.BufferBytes = 1920000
	cfg.Audio.MaxBufferMB = 15
	return cfg
}

func TestNew_Providers(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Configuration)
		wantErr bool
	}{
		{"mock", func(*config.Configuration) {}, false},
		{"whisper", func(c *config.Configuration) {
			c.STT.Provider = "whisper"
			c.STT.ServerURL = "http://localhost:9000"
		}, false},
		{"whisper without url", func(c *config.Configuration) { c.STT.Provider = "whisper" }, true},
		{"google", func(c *config.Configuration) { c.STT.Provider = "google" }, false},
		{"unknown", func(c *config.Configuration) { c.STT.Provider = "vosk" }, true},
		{"missing scenario file", func(c *config.Configuration) { c.ScenarioConfigPath = "/nonexistent/scenarios.yaml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			a, err := New(cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if a.Engine.Provider() != cfg.STT.Provider {
				t.Errorf("expected provider %s, got %s", cfg.STT.Provider, a.Engine.Provider())
			}
			if a.Engine.Loaded() {
				t.Error("expected lazy model load")
			}
			if a.Sessions.Threshold() != 1920000 {
				t.Errorf("expected threshold 1920000, got %d", a.Sessions.Threshold())
			}
		})
	}
}

func TestNew_ScenarioFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	data := []byte("default_scenario: interview\nscenarios:\n  lecture:\n    beam_size: 7\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.ScenarioConfigPath = path
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Emotion.Enabled() {
		t.Error("expected emotion disabled without URL")
	}
	if a.Publisher.Enabled() {
		t.Error("expected publisher disabled")
	}
}

func TestApplication_StartShutdown(t *testing.T) {
	a, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !a.Engine.Loaded() {
		if time.Now().After(deadline) {
			t.Fatal("expected warm-up to load the mock model")
		}
		time.Sleep(5 * time.Millisecond)
	}

	a.Shutdown(ctx)
	if a.Sessions.Registry().Len() != 0 {
		t.Errorf("expected no sessions after shutdown, got %d", a.Sessions.Registry().Len())
	}
}
