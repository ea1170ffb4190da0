package testsupport

import (
	"path/filepath"
	"testing"

	"tryon/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Fal.APIKey = "test"
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Server.Bind = "127.0.0.1:0"
	cfgVal.Server.Environment = "test"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithFalURL points the synchronous and queue endpoints at baseURL+"/run"
// and baseURL+"/queue", the layout FalServer serves.
func WithFalURL(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Fal.RunURL = baseURL + "/run"
		b.cfg.Fal.QueueURL = baseURL + "/queue"
		b.cfg.Fal.PollIntervalSeconds = 1
	}
}

// WithSupabase switches the history backend to Supabase at url.
func WithSupabase(url, key string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.History.Backend = "supabase"
		b.cfg.History.SupabaseURL = url
		b.cfg.History.SupabaseKey = key
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
