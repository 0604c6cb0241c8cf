package ragcore

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the ragcore engine, following the
// teacher's Config struct shape (yaml tags, a DefaultConfig
// constructor, environment overrides applied on top).
type Config struct {
	Enabled bool `yaml:"enabled"`

	DefaultProfile string `yaml:"default_profile"` // "speed" or "accuracy"
	ForceLane      string `yaml:"force_lane"`       // "" | "speed" | "accurate"
	DisableEscalation bool `yaml:"disable_escalation"`

	GroundingThreshold  float64 `yaml:"grounding_threshold"`
	ComplexityThreshold float64 `yaml:"complexity_threshold"`
	MinGrounding        float64 `yaml:"min_grounding"`

	FastEmbedModel     string `yaml:"fast_embed_model"`
	AccurateEmbedModel string `yaml:"accurate_embed_model"`
	FastRerankModel     string `yaml:"fast_rerank_model"`
	AccurateRerankModel string `yaml:"accurate_rerank_model"`

	VectorPathFast     string `yaml:"vector_path_fast"`
	VectorPathAccurate string `yaml:"vector_path_accurate"`

	Obs ObsConfig `yaml:"obs"`

	RedactLogs  bool `yaml:"redact_logs"`
	UseDummyRAG bool `yaml:"use_dummy_rag"`
}

// ObsConfig configures the obs package's logger.
type ObsConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Dir      string  `yaml:"dir"`
	File     string  `yaml:"file"`
	Sampling float64 `yaml:"sampling"`
	Redact   bool    `yaml:"redact"`
	MaxLen   int     `yaml:"max_len"`
}

// DefaultConfig returns the spec's documented defaults (spec.md §4.9,
// §4.10, §6).
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		DefaultProfile:      "speed",
		GroundingThreshold:  0.65,
		ComplexityThreshold: 0.7,
		MinGrounding:        0.25,
		VectorPathFast:      "data/speed/index.db",
		VectorPathAccurate:  "data/accuracy/index.db",
		Obs: ObsConfig{
			Enabled:  true,
			Dir:      "data/obs",
			Sampling: 1.0,
			Redact:   true,
			MaxLen:   2000,
		},
		RedactLogs: true,
	}
}

// LoadConfig reads a YAML config file (if path is non-empty and exists),
// layers it over DefaultConfig, then applies environment overrides
// (spec.md §6's "Environment configuration" table) — the same
// file-then-env layering shape the teacher uses for its Config.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, err
			}
		} else if !os.IsNotExist(err) {
			return Config{}, err
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("RAG_ENABLED"); ok {
		cfg.Enabled = v == "1"
	}
	if v, ok := os.LookupEnv("RAG_PROFILE"); ok && v != "" {
		cfg.DefaultProfile = v
	}
	if v, ok := os.LookupEnv("RAG_FORCE_LANE"); ok {
		cfg.ForceLane = v
	}
	if v, ok := os.LookupEnv("RAG_DISABLE_ESCALATION"); ok {
		cfg.DisableEscalation = v == "1"
	}
	if v, ok := floatEnv("RAG_GROUNDING_THRESHOLD"); ok {
		cfg.GroundingThreshold = v
	}
	if v, ok := floatEnv("RAG_COMPLEXITY_THRESHOLD"); ok {
		cfg.ComplexityThreshold = v
	}
	if v, ok := floatEnv("MIN_GROUNDING"); ok {
		cfg.MinGrounding = v
	}
	if v, ok := modelEnv("RAG_FAST_EMBED"); ok {
		cfg.FastEmbedModel = v
	}
	if v, ok := modelEnv("RAG_ACCURATE_EMBED"); ok {
		cfg.AccurateEmbedModel = v
	}
	if v, ok := modelEnv("RAG_FAST_RERANK"); ok {
		cfg.FastRerankModel = v
	}
	if v, ok := modelEnv("RAG_ACCURATE_RERANK"); ok {
		cfg.AccurateRerankModel = v
	}
	if v, ok := os.LookupEnv("VECTOR_PATH_FAST"); ok && v != "" {
		cfg.VectorPathFast = v
	}
	if v, ok := os.LookupEnv("VECTOR_PATH_ACCURATE"); ok && v != "" {
		cfg.VectorPathAccurate = v
	}
	if v, ok := os.LookupEnv("RAG_OBS_ENABLED"); ok {
		cfg.Obs.Enabled = v == "1"
	}
	if v, ok := os.LookupEnv("RAG_OBS_DIR"); ok && v != "" {
		cfg.Obs.Dir = v
	}
	if v, ok := os.LookupEnv("RAG_OBS_FILE"); ok {
		cfg.Obs.File = v
	}
	if v, ok := floatEnv("RAG_OBS_SAMPLING"); ok {
		cfg.Obs.Sampling = v
	}
	if v, ok := os.LookupEnv("RAG_OBS_REDACT"); ok {
		cfg.Obs.Redact = v == "1"
	}
	if v, ok := intEnv("RAG_OBS_MAXLEN"); ok {
		cfg.Obs.MaxLen = v
	}
	if v, ok := os.LookupEnv("REDACT_LOGS"); ok {
		cfg.RedactLogs = v != "0"
	}
	if v, ok := os.LookupEnv("USE_DUMMY_RAG"); ok {
		cfg.UseDummyRAG = v == "1"
	}
}

// modelEnv implements spec.md §6's "null|none|"" -> none" convention for
// model-identifier environment variables.
func modelEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	if v == "" || v == "null" || v == "none" {
		return "", true
	}
	return v, true
}

func floatEnv(key string) (float64, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func intEnv(key string) (int, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
