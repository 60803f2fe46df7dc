package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "openai-sdk", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
}

var validLogLevels = []string{"debug", "info", "warn", "error"}

var validPropertyTypes = []string{"string", "number", "range", "enum"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in zero-valued fields that have a documented default,
// matching the documented configuration defaults.
func applyDefaults(cfg *Config) {
	if cfg.Authority.TrigramWeight == 0 {
		cfg.Authority.TrigramWeight = 0.5
	}
	if cfg.Authority.AutoMatchThreshold == 0 {
		cfg.Authority.AutoMatchThreshold = 0.92
	}
	if cfg.Authority.AutoMatchMargin == 0 {
		cfg.Authority.AutoMatchMargin = 0.08
	}
	if cfg.Authority.CandidateLimit == 0 {
		cfg.Authority.CandidateLimit = 20
	}
	if cfg.Authority.KTrgm == 0 {
		cfg.Authority.KTrgm = 30
	}
	if cfg.Authority.KSem == 0 {
		cfg.Authority.KSem = 30
	}
	if cfg.LLMRerank.MaxCandidates == 0 {
		cfg.LLMRerank.MaxCandidates = 10
	}
	if cfg.LLMRerank.TopN == 0 {
		cfg.LLMRerank.TopN = cfg.LLMRerank.MaxCandidates
	}
	if cfg.Service.DefaultQueryLimit == 0 {
		cfg.Service.DefaultQueryLimit = 10
	}
	if cfg.Service.Name == "" {
		cfg.Service.Name = "SEAD Authority Reconciler"
	}
	if cfg.Service.PreviewWidth == 0 {
		cfg.Service.PreviewWidth = 400
	}
	if cfg.Service.PreviewHeight == 0 {
		cfg.Service.PreviewHeight = 300
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !slices.Contains(validLogLevels, cfg.Server.LogLevel) {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: %v", cfg.Server.LogLevel, validLogLevels))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.Embeddings.Name == "" {
		slog.Warn("providers.embeddings is not configured; the semantic channel will be unavailable for every query")
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Authority.EmbeddingDimensions <= 0 {
		errs = append(errs, fmt.Errorf("providers.embeddings is configured but authority.embedding_dimensions is not set"))
	}
	if cfg.Authority.TrigramWeight < 0 || cfg.Authority.TrigramWeight > 1 {
		errs = append(errs, fmt.Errorf("authority.trigram_weight %.2f is out of range [0, 1]", cfg.Authority.TrigramWeight))
	}
	if cfg.Authority.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("authority.postgres_dsn is required"))
	}
	if cfg.LLMRerank.Enabled && cfg.Providers.LLM.Name == "" {
		errs = append(errs, fmt.Errorf("llm_rerank.enabled is true but providers.llm is not configured"))
	}

	seen := make(map[string]int, len(cfg.Entities))
	for i, e := range cfg.Entities {
		prefix := fmt.Sprintf("entities[%d]", i)
		if e.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else if prev, ok := seen[e.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of entities[%d]", prefix, e.ID, prev))
		} else {
			seen[e.ID] = i
		}
		if e.Table == "" {
			errs = append(errs, fmt.Errorf("%s.table is required", prefix))
		}
		if e.LabelColumn == "" {
			errs = append(errs, fmt.Errorf("%s.label_column is required", prefix))
		}
		if e.IDColumn == "" {
			errs = append(errs, fmt.Errorf("%s.id_column is required", prefix))
		}
		if e.EmbeddingColumn == "" {
			slog.Warn("entity type has no embedding_column configured; semantic channel disabled for this type", "entity", e.ID)
		}
		if e.TrigramWeight != 0 && (e.TrigramWeight < 0 || e.TrigramWeight > 1) {
			errs = append(errs, fmt.Errorf("%s.trigram_weight %.2f is out of range [0, 1]", prefix, e.TrigramWeight))
		}

		propSeen := make(map[string]int, len(e.Properties))
		for j, p := range e.Properties {
			pprefix := fmt.Sprintf("%s.properties[%d]", prefix, j)
			if p.ID == "" {
				errs = append(errs, fmt.Errorf("%s.id is required", pprefix))
			} else if prev, ok := propSeen[p.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of %s.properties[%d]", pprefix, p.ID, prefix, prev))
			} else {
				propSeen[p.ID] = j
			}
			if p.Column == "" {
				errs = append(errs, fmt.Errorf("%s.column is required", pprefix))
			}
			if p.Type != "" && !slices.Contains(validPropertyTypes, p.Type) {
				errs = append(errs, fmt.Errorf("%s.type %q is invalid; valid values: %v", pprefix, p.Type, validPropertyTypes))
			}
		}
	}
	if len(cfg.Entities) == 0 {
		errs = append(errs, fmt.Errorf("at least one entry in entities is required"))
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
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
