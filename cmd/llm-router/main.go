// llm-router entry point.
//
// Usage:
//
//	llm-router serve                        # start the router
//	llm-router serve --config config.yaml   # with a config file
//	llm-router migrate up                   # apply database migrations
//	llm-router health                       # probe a running router
//	llm-router version                      # print version info
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/akiojin/llm-router/config"
	"github.com/akiojin/llm-router/internal/logsink"
)

// Version information, injected at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, logDir, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting llm-router",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	server, err := NewServer(cfg, logDir, logger)
	if err != nil {
		logger.Fatal("failed to build server", zap.Error(err))
	}

	if err := server.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	server.WaitForShutdown()

	logger.Info("llm-router stopped")
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Router address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

func printVersion() {
	fmt.Printf("llm-router %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`llm-router - routing and management plane for self-hosted LLM inference nodes

Usage:
  llm-router <command> [options]

Commands:
  serve     Start the router
  migrate   Database migration commands
  version   Show version information
  health    Check a running router's health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Migration subcommands:
  migrate up        Apply all pending migrations
  migrate down      Rollback the last migration
  migrate status    Show migration status
  migrate version   Show current migration version
  migrate goto <v>  Migrate to a specific version
  migrate force <v> Force set migration version
  migrate reset     Rollback all migrations

Examples:
  llm-router serve
  llm-router serve --config /etc/llm-router/config.yaml
  llm-router migrate up
  llm-router health --addr http://localhost:8080`)
}

// initLogger builds the zap logger: JSON to stdout, teed with the
// date-rotated JSONL file sink in the log directory (cfg.Log.Dir, or
// <data dir>/logs when unset). Old log files past retention are swept at
// startup. Returns the resolved log dir for the dashboard's coordinator-logs
// view.
func initLogger(cfg *config.Config) (*zap.Logger, string, error) {
	var level zapcore.Level
	switch cfg.Log.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	stdoutCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		level,
	)

	logDir := cfg.Log.Dir
	if logDir == "" {
		dataDir, err := cfg.DataDir()
		if err != nil {
			return nil, "", err
		}
		logDir = dataDir + "/logs"
	}

	fileCore, err := logsink.NewFileCore(logDir, level, encoderConfig)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open log file sink: %w", err)
	}

	retention := time.Duration(cfg.Log.RetentionDays) * 24 * time.Hour
	if err := logsink.SweepOldFiles(logDir, retention); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to sweep old log files: %v\n", err)
	}

	core := zapcore.NewTee(stdoutCore, fileCore)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logDir, nil
}

// openDatabase opens the relational store backing users, api keys and agent
// tokens. The default is an embedded sqlite file under the data directory.
func openDatabase(cfg *config.Config, logger *zap.Logger) (*gorm.DB, error) {
	dsn, err := cfg.DatabaseDSN()
	if err != nil {
		return nil, err
	}

	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres, mysql)", cfg.Database.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	logger.Info("database connected", zap.String("driver", cfg.Database.Driver))
	return db, nil
}
