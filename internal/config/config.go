package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Database      DatabaseConfig      `yaml:"database" json:"database"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Tools         ToolsConfig         `yaml:"tools" json:"tools"`
	Backups       BackupsConfig       `yaml:"backups" json:"backups"`
	Notifications NotificationsConfig `yaml:"notifications" json:"notifications"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host           string   `yaml:"host" json:"host"`
	Port           int      `yaml:"port" json:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path           string `yaml:"path" json:"path"`
	MaxConnections int    `yaml:"max_connections" json:"max_connections"`
}

// StorageConfig contains storage paths
type StorageConfig struct {
	DataDir    string `yaml:"data_dir" json:"data_dir"`
	StagingDir string `yaml:"staging_dir" json:"staging_dir"`
	JobLogDir  string `yaml:"job_log_dir" json:"job_log_dir"`
}

// ToolsConfig contains paths to the external archival and restore utilities
type ToolsConfig struct {
	ArchiveCommand   string `yaml:"archive_command" json:"archive_command"`
	RestoreCommand   string `yaml:"restore_command" json:"restore_command"`
	DBBackupCommand  string `yaml:"db_backup_command" json:"db_backup_command"`
	DBRestoreCommand string `yaml:"db_restore_command" json:"db_restore_command"`
	BridgeCommand    string `yaml:"bridge_command" json:"bridge_command"`
}

// BackupsConfig contains backup behavior settings
type BackupsConfig struct {
	// DBBackupMethod selects how account databases are captured:
	// "embedded" leaves database dumps to the archive tool, "hot" takes a
	// separate live dump alongside the main archive.
	DBBackupMethod string            `yaml:"db_backup_method" json:"db_backup_method"`
	ArchiveOptions map[string]string `yaml:"archive_options" json:"archive_options"`
	PruneSchedule  string            `yaml:"prune_schedule" json:"prune_schedule"`
}

// NotificationsConfig contains notification dispatch settings
type NotificationsConfig struct {
	WebhookURL  string                     `yaml:"webhook_url" json:"webhook_url"`
	Preferences map[string]UserPreferences `yaml:"preferences" json:"preferences"`
}

// UserPreferences gates which events fire for a given user
type UserPreferences struct {
	BackupStart    bool `yaml:"backup_start" json:"backup_start"`
	BackupSuccess  bool `yaml:"backup_success" json:"backup_success"`
	BackupFailure  bool `yaml:"backup_failure" json:"backup_failure"`
	RestoreStart   bool `yaml:"restore_start" json:"restore_start"`
	RestoreSuccess bool `yaml:"restore_success" json:"restore_success"`
	RestoreFailure bool `yaml:"restore_failure" json:"restore_failure"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8085,
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Path:           "./data/backup-manager.db",
			MaxConnections: 25,
		},
		Storage: StorageConfig{
			DataDir:    "./data",
			StagingDir: "./data/staging",
			JobLogDir:  "./data/joblogs",
		},
		Tools: ToolsConfig{
			ArchiveCommand:   "/usr/local/bin/pkgacct",
			RestoreCommand:   "/usr/local/bin/restorepkg",
			DBBackupCommand:  "/usr/local/bin/hotdbdump",
			DBRestoreCommand: "/usr/local/bin/hotdbrestore",
			BridgeCommand:    "/usr/local/bin/transport-bridge",
		},
		Backups: BackupsConfig{
			DBBackupMethod: "embedded",
			PruneSchedule:  "@daily",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			File:       "",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = resolveConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Override with environment variables
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}

	if stagingDir := os.Getenv("STAGING_DIR"); stagingDir != "" {
		cfg.Storage.StagingDir = stagingDir
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	cfg.normalizeStoragePaths(configPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Tools.ArchiveCommand) == "" {
		return fmt.Errorf("tools.archive_command must be set")
	}

	if strings.TrimSpace(c.Tools.RestoreCommand) == "" {
		return fmt.Errorf("tools.restore_command must be set")
	}

	switch c.Backups.DBBackupMethod {
	case "embedded", "hot":
	default:
		return fmt.Errorf("backups.db_backup_method must be \"embedded\" or \"hot\", got %q", c.Backups.DBBackupMethod)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}

	return nil
}

func resolveConfigPath() string {
	candidates := []string{"../configs/config.yaml", "./configs/config.yaml"}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "./configs/config.yaml"
}

// GetConfigPath returns the resolved config path
func GetConfigPath() string {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = resolveConfigPath()
	}
	return configPath
}

// Save writes the configuration back to disk
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) normalizeStoragePaths(configPath string) {
	baseDir := filepath.Dir(configPath)
	if !filepath.IsAbs(baseDir) {
		if absBase, err := filepath.Abs(baseDir); err == nil {
			baseDir = absBase
		}
	}

	rootDir := baseDir
	if filepath.Base(baseDir) == "configs" {
		rootDir = filepath.Dir(baseDir)
	}

	resolvePath := func(value string) string {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return ""
		}
		if filepath.IsAbs(trimmed) {
			return filepath.Clean(trimmed)
		}
		return filepath.Clean(filepath.Join(rootDir, trimmed))
	}

	if strings.TrimSpace(c.Storage.DataDir) == "" {
		c.Storage.DataDir = filepath.Join(rootDir, "data")
	}
	c.Storage.DataDir = resolvePath(c.Storage.DataDir)

	if strings.TrimSpace(c.Storage.StagingDir) == "" {
		c.Storage.StagingDir = filepath.Join(c.Storage.DataDir, "staging")
	}
	c.Storage.StagingDir = resolvePath(c.Storage.StagingDir)

	if strings.TrimSpace(c.Storage.JobLogDir) == "" {
		c.Storage.JobLogDir = filepath.Join(c.Storage.DataDir, "joblogs")
	}
	c.Storage.JobLogDir = resolvePath(c.Storage.JobLogDir)
}
