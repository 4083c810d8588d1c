package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-recall/internal/recall"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [query]",
		Short: "Assemble relevant memories for a prompt",
		Long:  "Retrieve and rank memories, then greedily pack them into a token budget.",
		Run:   runContext,
	}

	cmd.Flags().StringP("session", "s", "", "Session id (required)")
	cmd.Flags().IntP("limit", "l", 0, "Max memories considered (default: retrieval.max_k)")
	cmd.Flags().Int("turn", 0, "Current conversation turn")
	cmd.Flags().IntP("budget", "b", 4000, "Max tokens in output")

	cmd.MarkFlagRequired("session")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	limit, _ := cmd.Flags().GetInt("limit")
	turn, _ := cmd.Flags().GetInt("turn")
	budget, _ := cmd.Flags().GetInt("budget")

	a := openApp(cmd.Context())
	defer a.close()

	if limit <= 0 {
		limit = a.engine.Config().MaxK
	}
	results, err := a.engine.RetrieveScored(cmd.Context(), recall.RetrieveParams{
		SessionID:   session,
		Query:       strings.Join(args, " "),
		K:           limit,
		CurrentTurn: turn,
	})
	if err != nil {
		exitErr("context", err)
	}

	block := recall.FormatContext(results, budget)
	if formatFlag == "text" {
		fmt.Fprint(cmd.OutOrStdout(), block.String())
		return
	}
	printValue(cmd.OutOrStdout(), block)
}
