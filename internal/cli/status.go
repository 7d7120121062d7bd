package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/abitur/internal/config"
	"github.com/harun/abitur/internal/daemon"
	"github.com/harun/abitur/pkg/session"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Show whether the abitur daemon is running and how many session records are stored.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	pidFile := getPIDFilePath(cfg)

	if !isRunning(pidFile) {
		fmt.Fprintln(out, "Status: stopped")
	} else {
		pid, err := daemon.ReadPIDFile(pidFile)
		if err != nil {
			return fmt.Errorf("failed to read PID file: %w", err)
		}
		fmt.Fprintln(out, "Status: running")
		fmt.Fprintf(out, "PID: %d\n", pid)
		// The PID file is written at start, so its mtime is the start time.
		if info, err := os.Stat(pidFile); err == nil {
			fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
		}
	}

	store, err := session.NewFileStore(cfg.Session.StorageRoot, cfg.Session.MaxMessages)
	if err != nil {
		return err
	}
	ids, err := store.List()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Session records: %d (%s)\n", len(ids), store.Root())

	return nil
}

func getPIDFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, daemon.PIDFileName)
}

func isRunning(pidFile string) bool {
	pid, err := daemon.ReadPIDFile(pidFile)
	if err != nil {
		return false
	}
	return daemon.ProcessAlive(pid)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
