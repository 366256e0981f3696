package config_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/readalong/internal/config"
	"github.com/MrWong99/readalong/pkg/provider/llm"
	llmmock "github.com/MrWong99/readalong/pkg/provider/llm/mock"
	"github.com/MrWong99/readalong/pkg/provider/stt"
	sttmock "github.com/MrWong99/readalong/pkg/provider/stt/mock"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error(`"trace" should be invalid`)
	}
}

func TestResultsDriver_IsValid(t *testing.T) {
	t.Parallel()
	if !config.ResultsSQLite.IsValid() || config.ResultsDriver("redis").IsValid() {
		t.Fatal("driver validity mismatch")
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:  config.ServerConfig{ListenAddr: ":1234"},
		Reading: config.ReadingConfig{MatchThreshold: 0.5},
		Results: config.ResultsConfig{Driver: config.ResultsSQLite, SQLitePath: "/tmp/x.db"},
	}
	config.ApplyDefaults(cfg)
	if cfg.Server.ListenAddr != ":1234" {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Reading.MatchThreshold != 0.5 {
		t.Errorf("MatchThreshold = %v", cfg.Reading.MatchThreshold)
	}
	if cfg.Results.SQLitePath != "/tmp/x.db" {
		t.Errorf("SQLitePath = %q", cfg.Results.SQLitePath)
	}
	if cfg.Server.ShutdownTimeout != config.DefaultShutdownTimeout {
		t.Errorf("ShutdownTimeout = %v", cfg.Server.ShutdownTimeout)
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_CreateSTT(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	var got config.ProviderEntry
	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		got = e
		return &sttmock.Provider{}, nil
	})

	p, err := reg.CreateSTT(config.ProviderEntry{Name: "deepgram", APIKey: "k"})
	if err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if p == nil || got.APIKey != "k" {
		t.Fatalf("factory not invoked with the entry: %+v", got)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT err = %v", err)
	}
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLLM err = %v", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.RegisterLLM("openai", func(config.ProviderEntry) (llm.Provider, error) { return nil, boom })
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "openai"}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterLLM("openai", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	reg.RegisterLLM("anthropic", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	reg.RegisterSTT("azure", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })

	if got := reg.LLMNames(); !slices.Equal(got, []string{"anthropic", "openai"}) {
		t.Errorf("LLMNames() = %v", got)
	}
	if got := reg.STTNames(); !slices.Equal(got, []string{"azure"}) {
		t.Errorf("STTNames() = %v", got)
	}
}
