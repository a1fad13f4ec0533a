package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per oracle kind. Used by
// [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"embeddings": {"openai", "ollama"},
	"classifier": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"neutrality": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"judge":      {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
}

// requiredSectors lists the five memory sectors the decay config must cover
// to be accepted without falling back to hardcoded defaults (§4.4, §6).
var requiredSectors = []string{"emotional", "episodic", "semantic", "procedural", "reflective"}

// weightSumTolerance is the maximum allowed deviation of hybrid_search_weights
// from 1.0 before startup fails (§8).
const weightSumTolerance = 1e-6

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
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

// applyDefaults fills in zero-valued fields with the spec's documented
// defaults (§6) before validation runs.
func applyDefaults(cfg *Config) {
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if (cfg.Retrieval.Weights == HybridWeights{}) {
		cfg.Retrieval.Weights = HybridWeights{Semantic: 0.60, Lexical: 0.20, Graph: 0.20}
	}
	if (cfg.Retrieval.RelationalWeights == HybridWeights{}) {
		cfg.Retrieval.RelationalWeights = HybridWeights{Semantic: 0.40, Lexical: 0.20, Graph: 0.40}
	}
	if len(cfg.Retrieval.RelationalKeywords) == 0 {
		cfg.Retrieval.RelationalKeywords = []string{
			"relationship", "relation", "connection", "connected", "linked",
			"link", "knows", "related", "between", "and",
		}
	}
	if cfg.SMF.UndoRetentionDays == 0 {
		cfg.SMF.UndoRetentionDays = 30
	}
	if cfg.SMF.ApprovalTimeoutHours == 0 {
		cfg.SMF.ApprovalTimeoutHours = 48
	}
	if cfg.IEF.ConstitutiveWeight == 0 {
		cfg.IEF.ConstitutiveWeight = 2.0
	}
	if cfg.IEF.RecalibrationThreshold == 0 {
		cfg.IEF.RecalibrationThreshold = 50
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 4
	}
	if cfg.Retry.BaseDelaySecond == 0 {
		cfg.Retry.BaseDelaySecond = 1.0
	}
	if cfg.Store.EmbeddingDimensions == 0 {
		cfg.Store.EmbeddingDimensions = 1536
	}
	if cfg.Store.MaxConnections == 0 {
		cfg.Store.MaxConnections = 10
	}
	if cfg.Store.WorkingMemoryCapacity == 0 {
		cfg.Store.WorkingMemoryCapacity = 10
	}
	if cfg.Judge.TransitionKappaThreshold == 0 {
		cfg.Judge.TransitionKappaThreshold = 0.85
	}
	if cfg.Judge.SpotCheckRate == 0 {
		cfg.Judge.SpotCheckRate = 0.05
	}
	if cfg.Judge.MinQueriesBeforeTransition == 0 {
		cfg.Judge.MinQueriesBeforeTransition = 100
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every validation failure found. Startup must fail on
// any of these (§8); the decay table's own soft-fallback path is handled
// separately by the decay package, not here (§4.4, §7).
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Store.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required"))
	}
	if cfg.Store.EmbeddingDimensions <= 0 {
		errs = append(errs, fmt.Errorf("store.embedding_dimensions must be positive, got %d", cfg.Store.EmbeddingDimensions))
	}

	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("classifier", cfg.Providers.Classifier.Name)
	validateProviderName("neutrality", cfg.Providers.Neutrality.Name)
	validateProviderName("judge", cfg.Providers.Judge.Name)
	validateProviderName("judge", cfg.Providers.JudgeSecondary.Name)

	if cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("providers.embeddings.name is required"))
	}

	if err := validateWeights("retrieval.hybrid_search_weights", cfg.Retrieval.Weights); err != nil {
		errs = append(errs, err)
	}
	if err := validateWeights("retrieval.relational_weights", cfg.Retrieval.RelationalWeights); err != nil {
		errs = append(errs, err)
	}
	if cfg.Retrieval.TopK <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.top_k must be positive, got %d", cfg.Retrieval.TopK))
	}

	if cfg.SMF.UndoRetentionDays <= 0 {
		errs = append(errs, fmt.Errorf("smf.undo_retention_days must be positive, got %d", cfg.SMF.UndoRetentionDays))
	}
	if cfg.SMF.ApprovalTimeoutHours <= 0 {
		errs = append(errs, fmt.Errorf("smf.approval_timeout_hours must be positive, got %d", cfg.SMF.ApprovalTimeoutHours))
	}

	if cfg.IEF.ConstitutiveWeight < 1.5 {
		errs = append(errs, fmt.Errorf("ief.constitutive_weight must be >= 1.5 (W_MIN_CONSTITUTIVE), got %.2f", cfg.IEF.ConstitutiveWeight))
	}

	if cfg.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retry.max_retries must be non-negative, got %d", cfg.Retry.MaxRetries))
	}
	if cfg.Retry.BaseDelaySecond <= 0 {
		errs = append(errs, fmt.Errorf("retry.base_delay_seconds must be positive, got %.2f", cfg.Retry.BaseDelaySecond))
	}

	if cfg.Judge.TransitionKappaThreshold <= 0 || cfg.Judge.TransitionKappaThreshold > 1 {
		errs = append(errs, fmt.Errorf("staged_dual_judge.transition_kappa_threshold must be in (0,1], got %.2f", cfg.Judge.TransitionKappaThreshold))
	}
	if cfg.Judge.SpotCheckRate < 0 || cfg.Judge.SpotCheckRate > 1 {
		errs = append(errs, fmt.Errorf("staged_dual_judge.spot_check_rate must be in [0,1], got %.2f", cfg.Judge.SpotCheckRate))
	}
	if cfg.Judge.MinQueriesBeforeTransition < 0 {
		errs = append(errs, fmt.Errorf("staged_dual_judge.min_queries_before_transition must be non-negative, got %d", cfg.Judge.MinQueriesBeforeTransition))
	}

	return errors.Join(errs...)
}

// validateWeights enforces that a [HybridWeights] triple sums to 1.0 within
// [weightSumTolerance] (§6, §8).
func validateWeights(field string, w HybridWeights) error {
	sum := w.Semantic + w.Lexical + w.Graph
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("%s must sum to 1.0 (got %.6f: semantic=%.2f lexical=%.2f graph=%.2f)",
			field, sum, w.Semantic, w.Lexical, w.Graph)
	}
	return nil
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
