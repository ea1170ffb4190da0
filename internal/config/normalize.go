package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeServer()
	c.normalizeRateLimit()
	c.normalizeUpload()
	c.normalizeFal()
	c.normalizeHistory()
	c.normalizeWorkflow()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeServer() {
	if value, ok := lookupEnv("PORT"); ok {
		host := "127.0.0.1"
		if idx := strings.LastIndex(c.Server.Bind, ":"); idx > 0 {
			host = c.Server.Bind[:idx]
		}
		c.Server.Bind = host + ":" + value
	}
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultBind
	}
	if value, ok := lookupEnv("TRYON_API_TOKEN"); ok {
		c.Server.APIToken = value
	}
	c.Server.APIToken = strings.TrimSpace(c.Server.APIToken)
	if value, ok := lookupEnv("CORS_ORIGIN"); ok {
		c.Server.CORSOrigin = value
	}
	c.Server.CORSOrigin = strings.TrimSpace(c.Server.CORSOrigin)
	if c.Server.CORSOrigin == "" {
		c.Server.CORSOrigin = defaultCORSOrigin
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = defaultMaxBodyBytes
	}
	if value, ok := lookupEnv("NODE_ENV"); ok {
		c.Server.Environment = value
	}
	c.Server.Environment = strings.ToLower(strings.TrimSpace(c.Server.Environment))
	if c.Server.Environment == "" {
		c.Server.Environment = defaultEnvironment
	}
}

func (c *Config) normalizeRateLimit() {
	if value, ok := lookupEnvInt("RATE_LIMIT_WINDOW"); ok {
		c.RateLimit.WindowMinutes = value
	}
	if value, ok := lookupEnvInt("RATE_LIMIT_MAX_REQUESTS"); ok {
		c.RateLimit.MaxRequests = value
	}
}

func (c *Config) normalizeUpload() {
	if value, ok := lookupEnv("MAX_FILE_SIZE"); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			c.Upload.MaxFileSize = parsed
		}
	}
	if c.Upload.MaxFileSize == 0 {
		c.Upload.MaxFileSize = defaultMaxFileSize
	}
	types := make([]string, 0, len(c.Upload.AllowedTypes))
	seen := make(map[string]struct{}, len(c.Upload.AllowedTypes))
	for _, mime := range c.Upload.AllowedTypes {
		normalized := strings.ToLower(strings.TrimSpace(mime))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		types = append(types, normalized)
	}
	if len(types) == 0 {
		types = defaultAllowedTypes()
	}
	c.Upload.AllowedTypes = types
	if value, ok := lookupEnv("SUPABASE_STORAGE_BUCKET"); ok {
		c.Upload.StorageBucket = value
	}
	c.Upload.StorageBucket = strings.TrimSpace(c.Upload.StorageBucket)
}

func (c *Config) normalizeFal() {
	if value, ok := lookupEnv("FAL_AI_API_KEY"); ok {
		c.Fal.APIKey = value
	} else if value, ok := lookupEnv("FAL_KEY"); ok {
		c.Fal.APIKey = value
	}
	c.Fal.APIKey = strings.TrimSpace(c.Fal.APIKey)
	c.Fal.RunURL = strings.TrimRight(strings.TrimSpace(c.Fal.RunURL), "/")
	if c.Fal.RunURL == "" {
		c.Fal.RunURL = defaultFalRunURL
	}
	c.Fal.QueueURL = strings.TrimRight(strings.TrimSpace(c.Fal.QueueURL), "/")
	if c.Fal.QueueURL == "" {
		c.Fal.QueueURL = defaultFalQueueURL
	}
	c.Fal.Model = strings.Trim(strings.TrimSpace(c.Fal.Model), "/")
	if c.Fal.Model == "" {
		c.Fal.Model = defaultFalModel
	}
	if c.Fal.TimeoutSeconds <= 0 {
		c.Fal.TimeoutSeconds = defaultFalTimeoutSeconds
	}
	if c.Fal.PollIntervalSeconds <= 0 {
		c.Fal.PollIntervalSeconds = defaultFalPollIntervalSeconds
	}
	if c.Fal.MaxWaitSeconds <= 0 {
		c.Fal.MaxWaitSeconds = defaultFalMaxWaitSeconds
	}
}

func (c *Config) normalizeHistory() {
	if value, ok := lookupEnv("SUPABASE_URL"); ok {
		c.History.SupabaseURL = value
	}
	if value, ok := lookupEnv("SUPABASE_KEY"); ok {
		c.History.SupabaseKey = value
	} else if value, ok := lookupEnv("SUPABASE_ANON_KEY"); ok {
		c.History.SupabaseKey = value
	}
	c.History.SupabaseURL = strings.TrimRight(strings.TrimSpace(c.History.SupabaseURL), "/")
	c.History.SupabaseKey = strings.TrimSpace(c.History.SupabaseKey)
	c.History.Backend = strings.ToLower(strings.TrimSpace(c.History.Backend))
	if c.History.Backend == "" {
		c.History.Backend = defaultHistoryBackend
	}
	c.History.Table = strings.TrimSpace(c.History.Table)
	if c.History.Table == "" {
		c.History.Table = defaultHistoryTable
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.Workers <= 0 {
		c.Workflow.Workers = defaultWorkflowWorkers
	}
}

func (c *Config) normalizeNotifications() {
	if value, ok := lookupEnv("NTFY_TOPIC"); ok {
		c.Notifications.NtfyTopic = value
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNtfyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func lookupEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func lookupEnvInt(key string) (int, bool) {
	value, ok := lookupEnv(key)
	if !ok {
		return 0, false
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return parsed, true
}
