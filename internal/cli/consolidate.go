package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-recall/internal/recall"
)

func init() {
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Deactivate near-duplicate memories",
		Long: "Keep the highest ranked of each group of near-identical memories and deactivate the rest. " +
			"Runs once per session; use --all for every session.",
		Run: runConsolidate,
	}

	cmd.Flags().StringP("session", "s", "", "Session id")
	cmd.Flags().Bool("all", false, "Consolidate every session")
	cmd.Flags().Float64("threshold", 0, "Similarity threshold (default: dedupe.consolidate_threshold)")

	RootCmd.AddCommand(cmd)
}

func runConsolidate(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	all, _ := cmd.Flags().GetBool("all")
	threshold, _ := cmd.Flags().GetFloat64("threshold")

	if session == "" && !all {
		exitErr("consolidate", fmt.Errorf("--session or --all is required"))
	}

	a := openApp(cmd.Context())
	defer a.close()

	if all {
		s, err := recall.NewScheduler(a.engine, a.store, a.cfg.Schedule())
		if err != nil {
			exitErr("consolidate", err)
		}
		defer s.Stop()
		n, err := s.RunOnce(cmd.Context())
		if err != nil {
			exitErr("consolidate", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"deactivated":%d}`+"\n", n)
		return
	}

	n, err := a.engine.Consolidate(cmd.Context(), session, threshold)
	if errors.Is(err, recall.ErrConsolidationRunning) {
		fmt.Fprintf(cmd.OutOrStdout(), `{"ok":false,"running":true,"session":%q}`+"\n", session)
		return
	}
	if err != nil {
		exitErr("consolidate", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"session":%q,"deactivated":%d}`+"\n", session, n)
}
