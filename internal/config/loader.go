package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"azure", "deepgram", "whisper"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Environment variables applied on top of the file by [Load].
const (
	EnvAzureSpeechKey    = "AZURE_SPEECH_KEY"
	EnvAzureSpeechRegion = "AZURE_SPEECH_REGION"
	EnvDeepgramAPIKey    = "DEEPGRAM_API_KEY"
	EnvWordMatchThresh   = "WORD_MATCH_THRESHOLD"
	EnvOpenAIAPIKey      = "OPENAI_API_KEY"
	EnvAnthropicAPIKey   = "ANTHROPIC_API_KEY"
	EnvPostgresDSN       = "READALONG_POSTGRES_DSN"
	EnvListenAddr        = "READALONG_LISTEN_ADDR"
)

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result. An empty path yields a configuration
// built from the environment and defaults alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg. Credentials are applied
// to every provider entry of the matching name. When no quiz model is
// configured, an OpenAI key selects OpenAI as primary and an Anthropic key
// adds Anthropic as fallback.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		return v, ok && v != ""
	}

	if v, ok := get(EnvListenAddr); ok {
		cfg.Server.ListenAddr = v
	}

	if v, ok := get(EnvWordMatchThresh); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: %s %q: %w", EnvWordMatchThresh, v, err)
		}
		cfg.Reading.MatchThreshold = f
	}

	if v, ok := get(EnvPostgresDSN); ok {
		cfg.Results.PostgresDSN = v
		if cfg.Results.Driver == "" {
			cfg.Results.Driver = ResultsPostgres
		}
	}

	stt := sttEntries(cfg)
	if key, ok := get(EnvAzureSpeechKey); ok {
		setEntries(stt, "azure", func(e *ProviderEntry) { e.APIKey = key })
	}
	if region, ok := get(EnvAzureSpeechRegion); ok {
		setEntries(stt, "azure", func(e *ProviderEntry) { e.Region = region })
	}
	if key, ok := get(EnvDeepgramAPIKey); ok {
		setEntries(stt, "deepgram", func(e *ProviderEntry) { e.APIKey = key })
	}

	openaiKey, hasOpenAI := get(EnvOpenAIAPIKey)
	anthropicKey, hasAnthropic := get(EnvAnthropicAPIKey)
	if cfg.Providers.LLM.Name == "" {
		switch {
		case hasOpenAI:
			cfg.Providers.LLM.Name = "openai"
		case hasAnthropic:
			cfg.Providers.LLM.Name = "anthropic"
		}
	}
	if hasAnthropic && !hasEntry(llmEntries(cfg), "anthropic") {
		cfg.Providers.LLMFallbacks = append(cfg.Providers.LLMFallbacks, ProviderEntry{Name: "anthropic"})
	}
	llm := llmEntries(cfg)
	if hasOpenAI {
		setEntries(llm, "openai", func(e *ProviderEntry) { e.APIKey = openaiKey })
	}
	if hasAnthropic {
		setEntries(llm, "anthropic", func(e *ProviderEntry) { e.APIKey = anthropicKey })
	}
	return nil
}

func sttEntries(cfg *Config) []*ProviderEntry {
	out := []*ProviderEntry{&cfg.Providers.STT}
	for i := range cfg.Providers.STTFallbacks {
		out = append(out, &cfg.Providers.STTFallbacks[i])
	}
	return out
}

func llmEntries(cfg *Config) []*ProviderEntry {
	out := []*ProviderEntry{&cfg.Providers.LLM}
	for i := range cfg.Providers.LLMFallbacks {
		out = append(out, &cfg.Providers.LLMFallbacks[i])
	}
	return out
}

// setEntries applies fn to the entries named name. An unnamed primary STT
// entry counts as the default provider.
func setEntries(entries []*ProviderEntry, name string, fn func(*ProviderEntry)) {
	for i, e := range entries {
		if e.Name == name || (i == 0 && e.Name == "" && name == DefaultSTTProvider) {
			fn(e)
		}
	}
}

func hasEntry(entries []*ProviderEntry, name string) bool {
	for _, e := range entries {
		if e.Name == name {
			return true
		}
	}
	return false
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Missing recognizer credentials are only warned about: they surface as a
// rejected start on each connection instead of a failed boot.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %v must not be negative", cfg.Server.ShutdownTimeout))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %v must be within (0, 1]", r))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	for i, e := range sttEntries(cfg) {
		validateProviderName("stt", e.Name)
		prefix := "providers.stt"
		if i > 0 {
			prefix = fmt.Sprintf("providers.stt_fallbacks[%d]", i-1)
			if e.Name == "" {
				errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			}
		}
		if e.Name == "azure" && (e.APIKey == "" || e.Region == "") {
			slog.Warn("azure speech credentials missing; readings will be rejected until they are set",
				"entry", prefix,
				"env", []string{EnvAzureSpeechKey, EnvAzureSpeechRegion},
			)
		}
	}
	for i, e := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", e.Name)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	if cfg.Providers.LLM.Name == "" {
		if len(cfg.Providers.LLMFallbacks) > 0 {
			errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
		} else {
			slog.Warn("no quiz model configured; /api/generate-quiz will fail")
		}
	}

	// Reading
	if t := cfg.Reading.MatchThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("reading.match_threshold %.2f is out of range (0, 1]", t))
	}
	if cfg.Reading.SegmentationSilence < 0 {
		errs = append(errs, fmt.Errorf("reading.segmentation_silence %v must not be negative", cfg.Reading.SegmentationSilence))
	}
	if cfg.Reading.InitialSilence < 0 {
		errs = append(errs, fmt.Errorf("reading.initial_silence %v must not be negative", cfg.Reading.InitialSilence))
	}
	if cfg.Reading.InboxSize < 0 {
		errs = append(errs, fmt.Errorf("reading.inbox_size %d must not be negative", cfg.Reading.InboxSize))
	}

	// Quiz
	if cfg.Quiz.Count < 0 {
		errs = append(errs, fmt.Errorf("quiz.count %d must not be negative", cfg.Quiz.Count))
	}
	if t := cfg.Quiz.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("quiz.temperature %.2f is out of range [0, 2]", t))
	}

	// Results
	switch cfg.Results.Driver {
	case "", ResultsMemory:
	case ResultsPostgres:
		if cfg.Results.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("results.postgres_dsn is required for driver postgres (or set %s)", EnvPostgresDSN))
		}
	case ResultsSQLite:
		if cfg.Results.SQLitePath == "" {
			errs = append(errs, errors.New("results.sqlite_path is required for driver sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("results.driver %q is invalid; valid values: memory, postgres, sqlite", cfg.Results.Driver))
	}
	if cfg.Results.Retention < 0 {
		errs = append(errs, fmt.Errorf("results.retention %v must not be negative", cfg.Results.Retention))
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 0 || cfg.Resilience.HalfOpenMax < 0 || cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, errors.New("resilience values must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
