package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/harun/abitur/internal/config"
	"github.com/harun/abitur/pkg/session"
	"github.com/spf13/cobra"
)

var resetForce bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect durable session records",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users that have a session record",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Print a user's stored conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsResetCmd = &cobra.Command{
	Use:   "reset <user-id>",
	Short: "Clear a user's stored conversation",
	Long: `Clear a user's stored conversation. A running daemon may write the
session back from memory, so reset refuses while it runs unless --force is set.
Use the bot's /reset command for live sessions.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsReset,
}

func init() {
	sessionsResetCmd.Flags().BoolVar(&resetForce, "force", false, "reset even while the daemon is running")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsResetCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func openStore(cmd *cobra.Command) (*config.Config, *session.FileStore, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ValidateSession(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	store, err := session.NewFileStore(cfg.Session.StorageRoot, cfg.Session.MaxMessages)
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	_, store, err := openStore(cmd)
	if err != nil {
		return err
	}

	ids, err := store.List()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(ids) == 0 {
		fmt.Fprintln(out, "No session records.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tTURNS\tLAST MESSAGE")
	for _, id := range ids {
		turns, err := store.Load(cmd.Context(), id)
		if err != nil {
			fmt.Fprintf(w, "%s\t-\t%v\n", id, err)
			continue
		}
		last := "-"
		if n := len(turns); n > 0 && !turns[n-1].At.IsZero() {
			last = turns[n-1].At.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", id, len(turns), last)
	}
	return w.Flush()
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	_, store, err := openStore(cmd)
	if err != nil {
		return err
	}

	turns, err := store.Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(turns) == 0 {
		fmt.Fprintf(out, "No stored conversation for %s.\n", args[0])
		return nil
	}
	for _, turn := range turns {
		at := ""
		if !turn.At.IsZero() {
			at = turn.At.Local().Format(time.DateTime) + " "
		}
		fmt.Fprintf(out, "%s[%s] %s\n", at, turn.Speaker, turn.Text)
	}
	return nil
}

func runSessionsReset(cmd *cobra.Command, args []string) error {
	cfg, store, err := openStore(cmd)
	if err != nil {
		return err
	}
	if !resetForce && isRunning(getPIDFilePath(cfg)) {
		return fmt.Errorf("daemon is running; use /reset in the bot or pass --force")
	}

	if err := store.Save(cmd.Context(), args[0], nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session %s cleared.\n", args[0])
	return nil
}
