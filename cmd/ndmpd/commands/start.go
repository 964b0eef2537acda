package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ndmpd/ndmpd/internal/logger"
	"github.com/ndmpd/ndmpd/pkg/config"
	"github.com/ndmpd/ndmpd/pkg/metrics"

	// Import prometheus metrics to register init() functions
	_ "github.com/ndmpd/ndmpd/pkg/metrics/prometheus"
	"github.com/ndmpd/ndmpd/pkg/server"
	"github.com/spf13/cobra"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start an ndmpd session",
	Long: `Start an ndmpd session for the roles enabled in the configuration
(CONTROL, DATA, TAPE, ROBOT — any subset). Each accepted control connection
gets its own session, whose cooperative event loop runs until that connection
closes. The process keeps accepting connections until SIGINT or SIGTERM.

By default, the session runs in the background (daemon mode). Use --foreground
to run in the foreground for debugging or when managed by a process supervisor.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/ndmpd/config.yaml.

Examples:
  # Start in background (default)
  ndmpd start

  # Start in foreground
  ndmpd start --foreground

  # Start with custom config file
  ndmpd start --config /etc/ndmpd/config.yaml

  # Start with environment variable overrides
  NDMPD_LOGGING_LEVEL=DEBUG ndmpd start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/ndmpd/ndmpd.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/ndmpd/ndmpd.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("ndmpd - NDMP agent framework")
	logger.Info("log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("configuration loaded", "source", getConfigSource(GetConfigFile()))
	logger.Info("roles enabled",
		"control", cfg.Roles.Control, "data", cfg.Roles.Data,
		"tape", cfg.Roles.Tape, "robot", cfg.Roles.Robot)

	metricsResult := metrics.InitFromConfig(cfg.Metrics.Enabled, cfg.Metrics.Port)
	if metricsResult.Server != nil {
		logger.Info("metrics enabled", "port", cfg.Metrics.Port)
		defer func() { _ = metricsResult.Server.Close() }()
	} else {
		logger.Info("metrics collection disabled")
	}

	srv, err := server.New(cfg, metricsResult.Metrics)
	if err != nil {
		return fmt.Errorf("failed to build session: %w", err)
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("session is running, press Ctrl+C to stop")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("session shutdown error", "error", err)
			return err
		}
		logger.Info("session stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("session error", "error", err)
			return err
		}
		logger.Info("session stopped")
	}

	return nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// startDaemon starts the session as a background daemon process.
func startDaemon() error {
	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		stateDir = filepath.Join(homeDir, ".local", "state")
	}
	ndmpdStateDir := filepath.Join(stateDir, "ndmpd")

	if err := os.MkdirAll(ndmpdStateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	pidPath := pidFile
	if pidPath == "" {
		pidPath = filepath.Join(ndmpdStateDir, "ndmpd.pid")
	}

	if _, err := os.Stat(pidPath); err == nil {
		pidData, err := os.ReadFile(pidPath)
		if err == nil {
			var pid int
			if _, err := fmt.Sscanf(string(pidData), "%d", &pid); err == nil {
				if process, err := os.FindProcess(pid); err == nil {
					if err := process.Signal(syscall.Signal(0)); err == nil {
						return fmt.Errorf("ndmpd is already running (PID %d)\nUse 'ndmpd stop' to stop the running instance", pid)
					}
				}
			}
		}
		_ = os.Remove(pidPath)
	}

	logPath := logFile
	if logPath == "" {
		logPath = filepath.Join(ndmpdStateDir, "ndmpd.log")
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	daemonArgs := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	cmd := exec.Command(executable, daemonArgs...)

	logFileHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	cmd.Stdout = logFileHandle
	cmd.Stderr = logFileHandle
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		_ = logFileHandle.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	_ = logFileHandle.Close()

	fmt.Printf("ndmpd started in background (PID %d)\n", cmd.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)
	fmt.Println("\nUse 'ndmpd stop' to stop the session")
	fmt.Println("Use 'ndmpd status' to check session status")

	return nil
}
