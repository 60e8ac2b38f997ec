package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"feedline/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Feedline: config.FeedlineConfig{
			Name:           "feedline",
			EnableColumnar: true,
		},
		Columnar: config.ColumnarConfig{
			URL:             "http://localhost:8123",
			Database:        "marketdata",
			BatchRows:       5000,
			FlushIntervalMs: 250,
			InsertTimeoutMs: 10_000,
			Compression:     "lz4",
		},
	}
}

func basePreset() config.Preset {
	return config.Preset{
		Label:    "core",
		Host:     "binance.com",
		Market:   "perp_linear",
		Channels: []string{"trades", "agg_trades_5s"},
		Symbols:  []string{"BTCUSDT"},
	}
}

func TestNewRejectsUnknownChannel(t *testing.T) {
	preset := basePreset()
	preset.Channels = []string{"not_a_real_channel"}
	if _, err := New(baseConfig(), preset); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}

func TestNewRejectsNoWriterEnabled(t *testing.T) {
	cfg := baseConfig()
	cfg.Feedline.EnableColumnar = false
	if _, err := New(cfg, basePreset()); err == nil {
		t.Fatal("expected error when no writer enabled")
	}
}

func TestNewBindsChannelsToEnabledWriters(t *testing.T) {
	s, err := New(baseConfig(), basePreset())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.columnarWriter == nil {
		t.Fatal("want columnar writer constructed")
	}
	if s.cacheWriter != nil {
		t.Fatal("want no cache writer when enable_cache is false")
	}
}

func TestNewWithBothWritersEnabled(t *testing.T) {
	cfg := baseConfig()
	cfg.Feedline.EnableCache = true
	cfg.Cache = config.CacheConfig{
		URL:             "redis://localhost:6379",
		PipelineSize:    200,
		FlushIntervalMs: 50,
	}
	s, err := New(cfg, basePreset())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.columnarWriter == nil || s.cacheWriter == nil {
		t.Fatal("want both writers constructed")
	}
}

func TestShutdownCompletesWithinDeadlineWhenDrainIsFast(t *testing.T) {
	s, err := New(baseConfig(), basePreset())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var wg sync.WaitGroup
	s.columnarWriter.Start(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.shutdown(&wg, func() {}) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("shutdown returned error: %v", err)
		}
	case <-time.After(shutdownDeadline + time.Second):
		t.Fatal("shutdown did not return within deadline")
	}
}
