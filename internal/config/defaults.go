package config

// History backends accepted by history.backend.
const (
	HistoryBackendSQLite   = "sqlite"
	HistoryBackendSupabase = "supabase"
)

const (
	defaultConfigPath                = "~/.config/tryon/config.toml"
	defaultDataDir                   = "~/.local/share/tryon"
	defaultLogDir                    = "~/.local/share/tryon/logs"
	defaultLogRetentionDays          = 30
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
	defaultBind                      = "127.0.0.1:3000"
	defaultCORSOrigin                = "*"
	defaultMaxBodyBytes              = 10 << 20
	defaultEnvironment               = "production"
	defaultRateLimitWindowMinutes    = 15
	defaultRateLimitMaxRequests      = 20
	defaultMaxFileSize               = 5242880
	defaultFalRunURL                 = "https://fal.run"
	defaultFalQueueURL               = "https://queue.fal.run"
	defaultFalModel                  = "fal-ai/image-apps-v2/virtual-try-on"
	defaultFalTimeoutSeconds         = 45
	defaultFalPollIntervalSeconds    = 2
	defaultFalMaxWaitSeconds         = 180
	defaultHistoryBackend            = HistoryBackendSQLite
	defaultHistoryTable              = "tryon_history"
	defaultWorkflowPollInterval      = 2
	defaultWorkflowErrorRetry        = 10
	defaultWorkflowHeartbeatInterval = 15
	defaultWorkflowHeartbeatTimeout  = 120
	defaultWorkflowWorkers           = 2
	defaultNtfyRequestTimeout        = 10
)

func defaultAllowedTypes() []string {
	return []string{"image/jpeg", "image/jpg", "image/png", "image/webp"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Server: Server{
			Bind:         defaultBind,
			CORSOrigin:   defaultCORSOrigin,
			MaxBodyBytes: defaultMaxBodyBytes,
			Environment:  defaultEnvironment,
		},
		RateLimit: RateLimit{
			WindowMinutes: defaultRateLimitWindowMinutes,
			MaxRequests:   defaultRateLimitMaxRequests,
		},
		Upload: Upload{
			MaxFileSize:  defaultMaxFileSize,
			AllowedTypes: defaultAllowedTypes(),
		},
		Fal: Fal{
			RunURL:              defaultFalRunURL,
			QueueURL:            defaultFalQueueURL,
			Model:               defaultFalModel,
			TimeoutSeconds:      defaultFalTimeoutSeconds,
			PollIntervalSeconds: defaultFalPollIntervalSeconds,
			MaxWaitSeconds:      defaultFalMaxWaitSeconds,
		},
		History: History{
			Backend: defaultHistoryBackend,
			Table:   defaultHistoryTable,
		},
		Workflow: Workflow{
			PollInterval:       defaultWorkflowPollInterval,
			ErrorRetryInterval: defaultWorkflowErrorRetry,
			HeartbeatInterval:  defaultWorkflowHeartbeatInterval,
			HeartbeatTimeout:   defaultWorkflowHeartbeatTimeout,
			Workers:            defaultWorkflowWorkers,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
