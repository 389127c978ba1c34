package config

const (
	defaultLogDir         = "~/.local/share/rchub/logs"
	defaultDataDir        = "~/.local/share/rchub"
	defaultSocketPath     = "~/.local/share/rchub/rchubd.sock"
	defaultEngineBinary   = "rclone"
	defaultEngineHost     = "127.0.0.1"
	defaultEnginePort     = 51900
	defaultReadyTimeout   = 10
	defaultHealthInterval = 5
	defaultPollInterval   = 1
	defaultMaxErrors      = 3
	defaultMountInterval  = 5
	defaultServeInterval  = 5
	defaultRetentionDays  = 30
	defaultNtfyTimeout    = 10
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Daemon: Daemon{
			LogDir:     defaultLogDir,
			DataDir:    defaultDataDir,
			SocketPath: defaultSocketPath,
		},
		Engine: Engine{
			Binary:         defaultEngineBinary,
			Host:           defaultEngineHost,
			Port:           defaultEnginePort,
			ReadyTimeout:   defaultReadyTimeout,
			HealthInterval: defaultHealthInterval,
		},
		Jobs: Jobs{
			PollInterval:     defaultPollInterval,
			MaxMonitorErrors: defaultMaxErrors,
		},
		Watchers: Watchers{
			MountInterval: defaultMountInterval,
			ServeInterval: defaultServeInterval,
		},
		History: History{
			Enabled:       true,
			RetentionDays: defaultRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
			Jobs:           true,
			Engine:         true,
			Scheduler:      true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
