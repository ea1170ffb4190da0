package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"tryon/internal/config"
	"tryon/internal/history"
	"tryon/internal/jobs"
	"tryon/internal/logging"
	"tryon/internal/services/fal"
	"tryon/internal/tryon"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	// falOptions are applied to every fal.ai client the CLI builds.
	falOptions []fal.Option
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// cliLogger reports warnings on stderr; info-level chatter stays out of
// command output.
func (c *commandContext) cliLogger() *slog.Logger {
	logger, err := logging.New(logging.Options{Level: "warn", Writer: os.Stderr})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

func (c *commandContext) withStore(fn func(*jobs.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := jobs.Open(cfg)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer store.Close()
	return fn(store)
}

func (c *commandContext) withHistory(fn func(*history.Cache) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := history.Open(cfg)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()
	return fn(history.NewCache(store, c.cliLogger()))
}

// withService wires the same try-on service the daemon runs, backed by the
// local stores.
func (c *commandContext) withService(fn func(*tryon.Service) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	return c.withStore(func(store *jobs.Store) error {
		return c.withHistory(func(cache *history.Cache) error {
			client := fal.NewClient(fal.ConfigFrom(cfg), c.falOptions...)
			return fn(tryon.NewService(client, store, cache, c.cliLogger()))
		})
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
