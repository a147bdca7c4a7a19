// Package config provides configuration for the driveback CLI.
package config

import (
	"compress/gzip"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/driveback/driveback/internal/backup"
	"github.com/driveback/driveback/internal/storage"
)

// ErrConfig is returned for invalid configuration. It is fatal before a
// run starts.
var ErrConfig = errors.New("invalid configuration")

// StoreKind selects the remote store backend.
type StoreKind string

const (
	// StoreDrive uploads to Google Drive.
	StoreDrive StoreKind = "drive"
	// StoreS3 uploads to an S3-compatible object store.
	StoreS3 StoreKind = "s3"
	// StoreLocal writes to a local directory, mainly for testing.
	StoreLocal StoreKind = "local"
)

// Settings holds driveback configuration loaded from BACKUP_* environment
// variables.
type Settings struct {
	// Prefix is the artifact name prefix, e.g. hostname or project name.
	Prefix string

	// RootFolderName is the remote folder all backups live under.
	RootFolderName string

	// ScratchDir is where artifacts are staged before upload.
	ScratchDir string

	// MinFreeBytes is the preflight free-space floor for ScratchDir.
	MinFreeBytes int64

	// CompressionLevel is the gzip level for dumps and archives.
	CompressionLevel int

	// FileConcurrency bounds parallel file/directory targets.
	FileConcurrency int

	// TargetsFile is the YAML document listing file and directory targets.
	TargetsFile string

	// HistoryPath is the run-history SQLite database path.
	HistoryPath string

	// Store selects the remote backend.
	Store StoreKind

	// LocalStorePath is the root directory for the local store backend.
	LocalStorePath string

	// Databases lists MySQL databases to back up. The single entry "*"
	// backs up all databases in one dump.
	Databases []string

	// MaxDatabaseBackups is the keep-N count for each database target.
	MaxDatabaseBackups int

	// CronExpression drives the start daemon's schedule.
	CronExpression string

	// Debug enables debug-level logging.
	Debug bool

	MySQL backup.MySQLConfig
	Drive storage.DriveConfig
	S3    storage.S3Config
}

// Load reads settings from the environment, applying defaults for unset
// variables.
func Load() Settings {
	home, _ := os.UserHomeDir()
	configDir := filepath.Join(home, ".driveback")

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "backup"
	}

	s := Settings{
		Prefix:             getEnv("BACKUP_PREFIX", hostname),
		RootFolderName:     getEnv("BACKUP_ROOT_FOLDER", "backups"),
		ScratchDir:         getEnv("BACKUP_SCRATCH_DIR", filepath.Join(os.TempDir(), "driveback")),
		MinFreeBytes:       int64(getEnvInt("BACKUP_MIN_FREE_MB", 1024)) * 1024 * 1024,
		CompressionLevel:   getEnvInt("BACKUP_COMPRESSION_LEVEL", gzip.DefaultCompression),
		FileConcurrency:    getEnvInt("BACKUP_FILE_CONCURRENCY", 4),
		TargetsFile:        getEnv("BACKUP_TARGETS_FILE", filepath.Join(configDir, "targets.yml")),
		HistoryPath:        getEnv("BACKUP_HISTORY_PATH", filepath.Join(configDir, "history.db")),
		Store:              StoreKind(getEnv("BACKUP_STORE", string(StoreDrive))),
		LocalStorePath:     getEnv("BACKUP_LOCAL_STORE_PATH", ""),
		Databases:          splitList(os.Getenv("BACKUP_DATABASES")),
		MaxDatabaseBackups: getEnvInt("BACKUP_MAX_DATABASE_BACKUPS", 3),
		CronExpression:     getEnv("BACKUP_CRON", "0 3 * * *"),
		Debug:              getEnvBool("BACKUP_DEBUG", false),
	}

	s.MySQL = backup.MySQLConfig{
		Host:           getEnv("BACKUP_MYSQL_HOST", "localhost"),
		Port:           getEnvInt("BACKUP_MYSQL_PORT", 3306),
		Username:       getEnv("BACKUP_MYSQL_USER", "root"),
		Password:       os.Getenv("BACKUP_MYSQL_PASSWORD"),
		DumpTimeout:    time.Duration(getEnvInt("BACKUP_MYSQL_DUMP_TIMEOUT_MIN", 30)) * time.Minute,
		ConnectTimeout: time.Duration(getEnvInt("BACKUP_MYSQL_CONNECT_TIMEOUT_SEC", 30)) * time.Second,
		MySQLDumpPath:  os.Getenv("BACKUP_MYSQLDUMP_PATH"),
		ExtraArgs:      splitList(os.Getenv("BACKUP_MYSQLDUMP_ARGS")),
	}

	s.Drive = storage.DriveConfig{
		CredentialsFile: getEnv("BACKUP_DRIVE_CREDENTIALS_FILE", filepath.Join(configDir, "credentials.json")),
		TokenFile:       getEnv("BACKUP_DRIVE_TOKEN_FILE", filepath.Join(configDir, "token.json")),
	}

	s.S3 = storage.S3Config{
		Endpoint:        os.Getenv("BACKUP_S3_ENDPOINT"),
		Bucket:          os.Getenv("BACKUP_S3_BUCKET"),
		Region:          getEnv("BACKUP_S3_REGION", "us-east-1"),
		AccessKeyID:     os.Getenv("BACKUP_S3_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("BACKUP_S3_SECRET_ACCESS_KEY"),
		UseSSL:          getEnvBool("BACKUP_S3_USE_SSL", true),
	}

	return s
}

// Validate checks settings that every command depends on. Store-specific
// validation happens when the store is built.
func (s Settings) Validate() error {
	if s.Prefix == "" {
		return fmt.Errorf("%w: prefix must not be empty", ErrConfig)
	}
	if strings.ContainsAny(s.Prefix, "/ ") {
		return fmt.Errorf("%w: prefix %q must not contain '/' or spaces", ErrConfig, s.Prefix)
	}
	if s.RootFolderName == "" {
		return fmt.Errorf("%w: root folder name must not be empty", ErrConfig)
	}
	if s.ScratchDir == "" {
		return fmt.Errorf("%w: scratch directory must not be empty", ErrConfig)
	}
	if s.MaxDatabaseBackups <= 0 {
		return fmt.Errorf("%w: max database backups must be positive", ErrConfig)
	}

	switch s.Store {
	case StoreDrive, StoreS3:
	case StoreLocal:
		if s.LocalStorePath == "" {
			return fmt.Errorf("%w: BACKUP_LOCAL_STORE_PATH is required for the local store", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store %q", ErrConfig, s.Store)
	}

	return nil
}

// getEnv reads a string from an environment variable, returning the default
// if unset.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvBool reads a boolean from an environment variable, returning the
// default if unset or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}

// getEnvInt reads an integer from an environment variable, returning the
// default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// splitList splits a comma-separated list, trimming whitespace and dropping
// empty entries.
func splitList(val string) []string {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
