package main

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/MrWong99/readalong/internal/config"
	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/pkg/provider/stt"
)

func TestInitTelemetry_DefaultConfig(t *testing.T) {
	tp, mp, prop := otel.GetTracerProvider(), otel.GetMeterProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		otel.SetTextMapPropagator(prop)
	})

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	shutdown, err := initTelemetry(context.Background(), cfg)
	if err != nil {
		t.Fatalf("initTelemetry: %v", err)
	}

	ctx, span := observe.StartSpan(context.Background(), "boot")
	if observe.CorrelationID(ctx) == "" {
		t.Error("global tracer produced a span without trace id")
	}
	span.End()

	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordWordRecognized(context.Background(), 0.9)

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found bool
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "readalong_words_recognized") {
			found = true
		}
	}
	if !found {
		t.Error("word metric not exposed on the Prometheus default registry")
	}

	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestBuildProviders_MissingAzureCredentials(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	ps, err := buildProviders(cfg, reg)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.STT == nil || ps.STTName != "azure" {
		t.Fatalf("stt = %v (%q)", ps.STT, ps.STTName)
	}
	if ps.LLM != nil {
		t.Error("llm configured without a model entry")
	}
	if _, err := ps.STT.StartStream(context.Background(), stt.StreamConfig{}); err == nil {
		t.Fatal("expected start to be rejected without credentials")
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	if got, want := reg.STTNames(), []string{"azure", "deepgram", "whisper"}; !slices.Equal(got, want) {
		t.Errorf("STT names = %v, want %v", got, want)
	}
	llms := reg.LLMNames()
	for _, name := range []string{"openai", "anthropic", "ollama", "gemini", "llamacpp"} {
		if !slices.Contains(llms, name) {
			t.Errorf("LLM %q not registered (have %v)", name, llms)
		}
	}
}

func TestBuildProviders_UnknownProvider(t *testing.T) {
	cfg := &config.Config{Providers: config.ProvidersConfig{STT: config.ProviderEntry{Name: "nope"}}}
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	if _, err := buildProviders(cfg, reg); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestBuildProviders_LLMWithFallback(t *testing.T) {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			STT:          config.ProviderEntry{Name: "deepgram", APIKey: "dg"},
			LLM:          config.ProviderEntry{Name: "openai", APIKey: "sk-test"},
			LLMFallbacks: []config.ProviderEntry{{Name: "ollama", Model: "llama3"}},
		},
	}
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	ps, err := buildProviders(cfg, reg)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.LLM == nil || ps.LLMName != "openai" {
		t.Fatalf("llm = %v (%q)", ps.LLM, ps.LLMName)
	}
	if len(ps.Checks) != 2 {
		t.Fatalf("checks = %d, want stt and llm", len(ps.Checks))
	}
}

func TestOptHelpers(t *testing.T) {
	opts := map[string]any{"language": "de-DE", "timeout": "2s", "bad": 3}
	if got := optString(opts, "language"); got != "de-DE" {
		t.Errorf("optString = %q", got)
	}
	if got := optString(opts, "bad"); got != "" {
		t.Errorf("optString(non-string) = %q", got)
	}
	if got := optString(nil, "language"); got != "" {
		t.Errorf("optString(nil) = %q", got)
	}
	if got := optDuration(opts, "timeout"); got.Seconds() != 2 {
		t.Errorf("optDuration = %v", got)
	}
	if got := optDuration(opts, "missing"); got != 0 {
		t.Errorf("optDuration(missing) = %v", got)
	}
}
