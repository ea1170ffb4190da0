package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateFal(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateHistory(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if c.Notifications.NtfyTopic != "" {
		if err := validateHTTPURL("notifications.ntfy_topic", c.Notifications.NtfyTopic); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateFal() error {
	if c.Fal.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("fal.api_key is required. Set FAL_AI_API_KEY env var or edit %s (create with 'tryon config init')", defaultPath)
	}
	for key, value := range map[string]string{"fal.run_url": c.Fal.RunURL, "fal.queue_url": c.Fal.QueueURL} {
		if err := validateHTTPURL(key, value); err != nil {
			return err
		}
	}
	return ensurePositiveMap(map[string]int{
		"fal.timeout_seconds":       c.Fal.TimeoutSeconds,
		"fal.poll_interval_seconds": c.Fal.PollIntervalSeconds,
		"fal.max_wait_seconds":      c.Fal.MaxWaitSeconds,
	})
}

func (c *Config) validateServer() error {
	switch c.Server.Environment {
	case "production", "development", "test":
	default:
		return fmt.Errorf("server.environment must be production, development or test (got %q)", c.Server.Environment)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return errors.New("server.max_body_bytes must be positive")
	}
	return ensurePositiveMap(map[string]int{
		"rate_limit.window_minutes": c.RateLimit.WindowMinutes,
		"rate_limit.max_requests":   c.RateLimit.MaxRequests,
	})
}

func (c *Config) validateUpload() error {
	if c.Upload.MaxFileSize <= 0 {
		return errors.New("upload.max_file_size must be positive")
	}
	for _, mime := range c.Upload.AllowedTypes {
		if !strings.HasPrefix(mime, "image/") {
			return fmt.Errorf("upload.allowed_types entries must be image types (got %q)", mime)
		}
	}
	if c.Upload.StorageBucket != "" && (c.History.SupabaseURL == "" || c.History.SupabaseKey == "") {
		return errors.New("upload.storage_bucket requires history.supabase_url and history.supabase_key")
	}
	return nil
}

func (c *Config) validateHistory() error {
	switch c.History.Backend {
	case HistoryBackendSQLite:
		return nil
	case HistoryBackendSupabase:
		if c.History.SupabaseURL == "" {
			return errors.New("history.supabase_url must be set when history.backend is supabase (or set SUPABASE_URL)")
		}
		if err := validateHTTPURL("history.supabase_url", c.History.SupabaseURL); err != nil {
			return err
		}
		if c.History.SupabaseKey == "" {
			return errors.New("history.supabase_key must be set when history.backend is supabase (or set SUPABASE_KEY)")
		}
		return nil
	default:
		return fmt.Errorf("history.backend must be sqlite or supabase (got %q)", c.History.Backend)
	}
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.poll_interval":        c.Workflow.PollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.workers":              c.Workflow.Workers,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func validateHTTPURL(key, value string) error {
	parsed, err := url.Parse(value)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%s must be an http(s) URL (got %q)", key, value)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
