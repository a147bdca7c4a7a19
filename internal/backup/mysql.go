package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"

	"github.com/driveback/driveback/internal/models"
	"github.com/driveback/driveback/internal/naming"
)

const (
	// Default mysqldump timeout.
	defaultDumpTimeout = 30 * time.Minute

	// Default connection timeout.
	defaultConnectTimeout = 30 * time.Second
)

var (
	// ErrMySQLDumpNotFound is returned when mysqldump is not installed.
	ErrMySQLDumpNotFound = errors.New("mysqldump binary not found")

	// ErrConnectionFailed is returned when unable to connect to MySQL.
	ErrConnectionFailed = errors.New("failed to connect to MySQL server")

	// ErrDumpFailed is returned when mysqldump exits with an error.
	ErrDumpFailed = errors.New("database dump failed")
)

// AllDatabases is the target source selector meaning every database on the
// server.
const AllDatabases = "*"

// MySQLConfig contains MySQL/MariaDB connection configuration.
type MySQLConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	DumpTimeout    time.Duration
	ConnectTimeout time.Duration
	// MySQLDumpPath overrides the default mysqldump binary path.
	MySQLDumpPath string
	// ExtraArgs are additional arguments to pass to mysqldump.
	ExtraArgs []string
}

// DefaultMySQLConfig returns a MySQLConfig with sensible defaults.
func DefaultMySQLConfig() MySQLConfig {
	return MySQLConfig{
		Host:           "localhost",
		Port:           3306,
		DumpTimeout:    defaultDumpTimeout,
		ConnectTimeout: defaultConnectTimeout,
	}
}

// DSN returns the MySQL Data Source Name for database/sql connection.
func (c MySQLConfig) DSN() string {
	var dsn strings.Builder

	if c.Username != "" {
		dsn.WriteString(c.Username)
		if c.Password != "" {
			dsn.WriteString(":")
			dsn.WriteString(c.Password)
		}
		dsn.WriteString("@")
	}

	dsn.WriteString(fmt.Sprintf("tcp(%s:%d)/", c.Host, c.Port))

	timeout := c.ConnectTimeout
	if timeout == 0 {
		timeout = defaultConnectTimeout
	}
	dsn.WriteString(fmt.Sprintf("?timeout=%s", timeout.String()))

	return dsn.String()
}

// MySQLProducer produces gzip-compressed SQL dumps using mysqldump.
type MySQLProducer struct {
	config           MySQLConfig
	prefix           string
	compressionLevel int
	logger           zerolog.Logger
}

// NewMySQLProducer creates a MySQLProducer.
func NewMySQLProducer(config MySQLConfig, prefix string, compressionLevel int, logger zerolog.Logger) *MySQLProducer {
	if config.Port == 0 {
		config.Port = 3306
	}
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.DumpTimeout == 0 {
		config.DumpTimeout = defaultDumpTimeout
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = defaultConnectTimeout
	}
	if compressionLevel < gzip.BestSpeed || compressionLevel > gzip.BestCompression {
		compressionLevel = gzip.DefaultCompression
	}

	return &MySQLProducer{
		config:           config,
		prefix:           prefix,
		compressionLevel: compressionLevel,
		logger:           logger.With().Str("component", "mysql_producer").Logger(),
	}
}

// TestConnection verifies the MySQL server is reachable with the configured
// credentials.
func (m *MySQLProducer) TestConnection(ctx context.Context) error {
	db, err := sql.Open("mysql", m.config.DSN())
	if err != nil {
		return fmt.Errorf("open connection: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	var version string
	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		m.logger.Warn().Err(err).Msg("failed to get MySQL version")
	} else {
		m.logger.Info().Str("version", version).Msg("MySQL connection verified")
	}

	return nil
}

// Produce runs mysqldump for the target's database selector and writes the
// compressed dump into the scratch directory. The output is written to a
// temporary file and renamed only after mysqldump exits cleanly, so a file
// at the artifact path is always complete.
func (m *MySQLProducer) Produce(ctx context.Context, target models.Target, scratchDir string, stamp time.Time) (*Artifact, error) {
	m.logger.Info().
		Str("target", target.Name).
		Str("database", target.Source).
		Str("host", m.config.Host).
		Msg("starting database dump")

	mysqldump, err := m.findMySQLDump()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(scratchDir, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}

	name := naming.Artifact(m.prefix, models.CategoryDatabase, target.Name, stamp, "sql.gz")
	finalPath := filepath.Join(scratchDir, name)
	tmpPath := finalPath + ".partial"

	args := m.buildDumpArgs(target.Source)

	m.logger.Debug().
		Str("mysqldump", mysqldump).
		Strs("args", m.sanitizeArgs(args)).
		Str("output", finalPath).
		Msg("executing mysqldump")

	ctx, cancel := context.WithTimeout(ctx, m.config.DumpTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, mysqldump, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	outFile, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}

	gzWriter, err := gzip.NewWriterLevel(outFile, m.compressionLevel)
	if err != nil {
		outFile.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("create gzip writer: %w", err)
	}
	cmd.Stdout = gzWriter

	if err := cmd.Run(); err != nil {
		gzWriter.Close()
		outFile.Close()
		os.Remove(tmpPath)

		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = err.Error()
		}
		return nil, fmt.Errorf("%w: %s", ErrDumpFailed, errMsg)
	}

	if err := gzWriter.Close(); err != nil {
		outFile.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("flush gzip stream: %w", err)
	}
	if err := outFile.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("close output file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("finalize dump file: %w", err)
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		os.Remove(finalPath)
		return nil, fmt.Errorf("stat dump file: %w", err)
	}

	m.logger.Info().
		Str("target", target.Name).
		Str("artifact", name).
		Int64("size_bytes", info.Size()).
		Msg("database dump completed")

	return &Artifact{
		Category:   models.CategoryDatabase,
		TargetName: target.Name,
		Name:       name,
		LocalPath:  finalPath,
		SizeBytes:  info.Size(),
	}, nil
}

// buildDumpArgs constructs the mysqldump command arguments.
func (m *MySQLProducer) buildDumpArgs(selector string) []string {
	args := []string{
		fmt.Sprintf("--host=%s", m.config.Host),
		fmt.Sprintf("--port=%d", m.config.Port),
		fmt.Sprintf("--user=%s", m.config.Username),
	}

	if m.config.Password != "" {
		args = append(args, fmt.Sprintf("--password=%s", m.config.Password))
	}

	// Consistent snapshot options for InnoDB.
	args = append(args,
		"--single-transaction",
		"--quick",
		"--routines",
		"--triggers",
		"--events",
	)

	args = append(args, m.config.ExtraArgs...)

	if selector == AllDatabases || selector == "" {
		args = append(args, "--all-databases")
	} else {
		args = append(args, selector)
	}

	return args
}

// sanitizeArgs returns args with password masked for logging.
func (m *MySQLProducer) sanitizeArgs(args []string) []string {
	sanitized := make([]string, len(args))
	for i, arg := range args {
		if strings.HasPrefix(arg, "--password=") {
			sanitized[i] = "--password=***"
		} else {
			sanitized[i] = arg
		}
	}
	return sanitized
}

// findMySQLDump finds the mysqldump binary.
func (m *MySQLProducer) findMySQLDump() (string, error) {
	if m.config.MySQLDumpPath != "" {
		if _, err := os.Stat(m.config.MySQLDumpPath); err == nil {
			return m.config.MySQLDumpPath, nil
		}
		return "", fmt.Errorf("%w: not at %s", ErrMySQLDumpNotFound, m.config.MySQLDumpPath)
	}

	if path, err := exec.LookPath("mysqldump"); err == nil {
		return path, nil
	}

	commonPaths := []string{
		"/usr/bin/mysqldump",
		"/usr/local/bin/mysqldump",
		"/usr/local/mysql/bin/mysqldump",
		"/opt/homebrew/bin/mysqldump",
		// MariaDB locations.
		"/usr/bin/mariadb-dump",
		"/usr/local/bin/mariadb-dump",
	}
	for _, p := range commonPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", ErrMySQLDumpNotFound
}
