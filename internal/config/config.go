package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/qmsforge/riskflow/pkg/utils"
)

// EnvPrefix prefixes every environment override, e.g. RISKFLOW_STORAGE_DATA_DIR
const EnvPrefix = "RISKFLOW"

// Config holds all application configuration
type Config struct {
	Storage     StorageConfig     `mapstructure:"storage"`
	Workflow    WorkflowConfig    `mapstructure:"workflow"`
	Server      ServerConfig      `mapstructure:"server"`
	Logger      LoggerConfig      `mapstructure:"logger"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// StorageConfig holds audit trail storage configuration. The sub-directories
// are relative to DataDir.
type StorageConfig struct {
	DataDir   string `mapstructure:"data_dir"`
	AuditDir  string `mapstructure:"audit_dir"`
	BackupDir string `mapstructure:"backup_dir"`
	ExportDir string `mapstructure:"export_dir"`
	ReportDir string `mapstructure:"report_dir"`
}

// WorkflowConfig holds approval workflow configuration
type WorkflowConfig struct {
	AllowReopen          bool     `mapstructure:"allow_reopen"`
	SubmitterRoles       []string `mapstructure:"submitter_roles"`
	ApproverRoles        []string `mapstructure:"approver_roles"`
	RequiredApproverRole string   `mapstructure:"required_approver_role"`
	SupervisoryRoles     []string `mapstructure:"supervisory_roles"`
	AdminRoles           []string `mapstructure:"admin_roles"`
	RolesFile            string   `mapstructure:"roles_file"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// MaintenanceConfig holds background job settings used by serve.
// A zero interval disables the job.
type MaintenanceConfig struct {
	VerifyInterval time.Duration `mapstructure:"verify_interval"`
	BackupInterval time.Duration `mapstructure:"backup_interval"`
}

// Load loads configuration from file and environment variables.
// A missing or empty configPath yields the defaults plus environment overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	// Override with environment variables
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Storage defaults
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.audit_dir", "audit")
	v.SetDefault("storage.backup_dir", "backups")
	v.SetDefault("storage.export_dir", "exports")
	v.SetDefault("storage.report_dir", "reports")

	// Workflow defaults
	v.SetDefault("workflow.allow_reopen", true)
	v.SetDefault("workflow.submitter_roles", []string{})
	v.SetDefault("workflow.approver_roles", []string{
		"quality_engineer", "quality_manager", "management", "regulatory_affairs", "cmo",
	})
	v.SetDefault("workflow.required_approver_role", "quality_engineer")
	v.SetDefault("workflow.supervisory_roles", []string{"management", "quality_manager"})
	v.SetDefault("workflow.admin_roles", []string{"admin"})
	v.SetDefault("workflow.roles_file", "")

	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stderr")
	v.SetDefault("logger.format", "console")

	// Maintenance defaults
	v.SetDefault("maintenance.verify_interval", time.Hour)
	v.SetDefault("maintenance.backup_interval", time.Duration(0))
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) {
	// Short aliases for the settings operators change most
	_ = v.BindEnv("storage.data_dir", EnvPrefix+"_DATA_DIR", EnvPrefix+"_STORAGE_DATA_DIR")
	_ = v.BindEnv("workflow.roles_file", EnvPrefix+"_ROLES_FILE", EnvPrefix+"_WORKFLOW_ROLES_FILE")
	_ = v.BindEnv("logger.level", EnvPrefix+"_LOG_LEVEL", EnvPrefix+"_LOGGER_LEVEL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate storage layout
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	dirs := map[string]string{
		"storage.audit_dir":  c.Storage.AuditDir,
		"storage.backup_dir": c.Storage.BackupDir,
		"storage.export_dir": c.Storage.ExportDir,
		"storage.report_dir": c.Storage.ReportDir,
	}
	for key, dir := range dirs {
		if err := validateSubdir(key, dir); err != nil {
			return err
		}
	}
	if c.Storage.AuditDir == c.Storage.BackupDir {
		return fmt.Errorf("storage.audit_dir and storage.backup_dir must differ")
	}

	// Validate workflow roles
	if len(c.Workflow.ApproverRoles) == 0 {
		return fmt.Errorf("workflow.approver_roles must not be empty")
	}
	if _, err := c.ToPolicyTable(); err != nil {
		return fmt.Errorf("workflow: %w", err)
	}

	// Validate server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	// Validate maintenance
	if c.Maintenance.VerifyInterval < 0 || c.Maintenance.BackupInterval < 0 {
		return fmt.Errorf("maintenance intervals must not be negative")
	}

	// Validate logger
	switch c.Logger.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logger.format must be json or console")
	}
	if _, err := utils.ParseLevel(c.Logger.Level); err != nil {
		return fmt.Errorf("logger.level: %w", err)
	}

	return nil
}

func validateSubdir(key, dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("%s is required", key)
	}
	if filepath.IsAbs(dir) {
		return fmt.Errorf("%s must be relative to storage.data_dir", key)
	}
	clean := filepath.Clean(dir)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%s must stay inside storage.data_dir", key)
	}
	return nil
}
