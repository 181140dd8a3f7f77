// Command timer is the terminal time tracker.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/MayankBharati/solidtracker/internal/apiclient"
	"github.com/MayankBharati/solidtracker/internal/deviceinfo"
	"github.com/MayankBharati/solidtracker/internal/logging"
	"github.com/MayankBharati/solidtracker/internal/timerui"
)

var (
	flagAPIURL            string
	flagToken             string
	flagCacheDir          string
	flagNoCache           bool
	flagPollInterval      time.Duration
	flagHeartbeatInterval time.Duration
	flagLogFile           string
	flagDebug             bool
)

var rootCmd = &cobra.Command{
	Use:   "timer",
	Short: "Track time against your assigned tasks",
	Long: `timer shows the running timer and your assigned tasks, and starts or stops the timer
through the solidtracker API. The server clock is authoritative; the display is
resynchronised on every poll.`,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&flagAPIURL, "api-url", envOr("SOLIDTRACKER_API_URL", "http://localhost:8080"), "solidtracker API base URL")
	rootCmd.Flags().StringVar(&flagToken, "token", os.Getenv("SOLIDTRACKER_TOKEN"), "bearer token")
	rootCmd.Flags().StringVar(&flagCacheDir, "cache-dir", timerui.DefaultCachePath(), "directory of the local state cache")
	rootCmd.Flags().BoolVar(&flagNoCache, "no-cache", false, "keep the state cache in memory only")
	rootCmd.Flags().DurationVar(&flagPollInterval, "poll-interval", timerui.DefaultPollInterval, "how often to re-fetch server state")
	rootCmd.Flags().DurationVar(&flagHeartbeatInterval, "heartbeat-interval", 5*time.Minute, "how often to report device info, 0 disables")
	rootCmd.Flags().StringVar(&flagLogFile, "log-file", filepath.Join(xdg.StateHome, timerui.AppName, "timer.log"), "log file")
	rootCmd.Flags().BoolVar(&flagDebug, "debug", false, "log at debug level")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(cmd *cobra.Command, args []string) error {
	if flagToken == "" {
		return errors.New("a token is required: pass --token or set SOLIDTRACKER_TOKEN")
	}

	logOut, closeLog, err := openLog(flagLogFile)
	if err != nil {
		return err
	}
	defer closeLog()
	level := "info"
	if flagDebug {
		level = "debug"
	}
	logger := logging.New(logging.Config{Level: logging.ParseLevel(level), Output: logOut}, "timer")

	cacheDir := flagCacheDir
	if flagNoCache {
		cacheDir = ""
	}
	cache, err := timerui.OpenCache(cacheDir)
	if err != nil {
		return err
	}
	defer cache.Close()

	client := apiclient.NewClient(flagAPIURL, flagToken, nil)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if flagHeartbeatInterval > 0 {
		go heartbeat(ctx, client, deviceinfo.NewCollector(), flagHeartbeatInterval, logger)
	}

	model := timerui.NewModel(client,
		timerui.WithCache(cache),
		timerui.WithPollInterval(flagPollInterval),
	)
	logger.Info("timer started", "api_url", flagAPIURL, "cache_dir", cacheDir)
	if _, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run timer: %w", err)
	}
	return nil
}

// openLog opens the log file for appending. The terminal belongs to the UI, so an empty path
// discards logs.
func openLog(path string) (io.Writer, func(), error) {
	if path == "" {
		return io.Discard, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("timer failed", logging.KeyError, err)
		os.Exit(1)
	}
}
