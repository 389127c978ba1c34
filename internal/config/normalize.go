package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizeDaemon(); err != nil {
		return err
	}
	c.normalizeEngine()
	c.normalizeIntervals()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeDaemon() error {
	var err error
	if strings.TrimSpace(c.Daemon.LogDir) == "" {
		c.Daemon.LogDir = defaultLogDir
	}
	if c.Daemon.LogDir, err = expandPath(c.Daemon.LogDir); err != nil {
		return fmt.Errorf("daemon.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Daemon.DataDir) == "" {
		c.Daemon.DataDir = defaultDataDir
	}
	if c.Daemon.DataDir, err = expandPath(c.Daemon.DataDir); err != nil {
		return fmt.Errorf("daemon.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Daemon.SocketPath) == "" {
		c.Daemon.SocketPath = defaultSocketPath
	}
	if c.Daemon.SocketPath, err = expandPath(c.Daemon.SocketPath); err != nil {
		return fmt.Errorf("daemon.socket_path: %w", err)
	}
	c.Daemon.APIBind = strings.TrimSpace(c.Daemon.APIBind)
	c.Daemon.APIToken = strings.TrimSpace(c.Daemon.APIToken)
	return nil
}

func (c *Config) normalizeEngine() {
	c.Engine.Binary = strings.TrimSpace(c.Engine.Binary)
	if c.Engine.Binary == "" {
		c.Engine.Binary = defaultEngineBinary
	}
	c.Engine.Host = strings.TrimSpace(c.Engine.Host)
	if c.Engine.Host == "" {
		c.Engine.Host = defaultEngineHost
	}
	if c.Engine.Port <= 0 {
		c.Engine.Port = defaultEnginePort
	}
	if c.Engine.ReadyTimeout <= 0 {
		c.Engine.ReadyTimeout = defaultReadyTimeout
	}
	if c.Engine.HealthInterval <= 0 {
		c.Engine.HealthInterval = defaultHealthInterval
	}
	c.Engine.ConfigPath = strings.TrimSpace(c.Engine.ConfigPath)
}

func (c *Config) normalizeIntervals() {
	if c.Jobs.PollInterval <= 0 {
		c.Jobs.PollInterval = defaultPollInterval
	}
	if c.Jobs.MaxMonitorErrors <= 0 {
		c.Jobs.MaxMonitorErrors = defaultMaxErrors
	}
	if c.Watchers.MountInterval <= 0 {
		c.Watchers.MountInterval = defaultMountInterval
	}
	if c.Watchers.ServeInterval <= 0 {
		c.Watchers.ServeInterval = defaultServeInterval
	}
	if c.History.RetentionDays <= 0 {
		c.History.RetentionDays = defaultRetentionDays
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNtfyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
