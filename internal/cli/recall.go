package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/recall"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall [query]",
		Short: "Retrieve the most relevant memories for a query",
		Long: "Rank a session's active memories by semantic similarity, keyword overlap, importance, " +
			"recency and access frequency. An empty query ranks by importance and recency.",
		Run: runRecall,
	}

	cmd.Flags().StringP("session", "s", "", "Session id (required)")
	cmd.Flags().IntP("limit", "l", 0, "Max results (default: retrieval.default_k)")
	cmd.Flags().Int("turn", 0, "Current conversation turn")
	cmd.Flags().Float64("min-confidence", -1, "Confidence floor (default: retrieval.min_confidence)")
	cmd.Flags().Bool("scores", false, "Include score breakdowns")

	cmd.MarkFlagRequired("session")

	RootCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	limit, _ := cmd.Flags().GetInt("limit")
	turn, _ := cmd.Flags().GetInt("turn")
	minConf, _ := cmd.Flags().GetFloat64("min-confidence")
	scores, _ := cmd.Flags().GetBool("scores")

	p := recall.RetrieveParams{
		SessionID:   session,
		Query:       strings.Join(args, " "),
		K:           limit,
		CurrentTurn: turn,
	}
	if cmd.Flags().Changed("min-confidence") {
		p.MinConfidence = recall.Float(minConf)
	}

	a := openApp(cmd.Context())
	defer a.close()

	results, err := a.engine.RetrieveScored(cmd.Context(), p)
	if err != nil {
		exitErr("recall", err)
	}

	if scores {
		printValue(cmd.OutOrStdout(), results)
		return
	}
	if formatFlag == "text" {
		for _, r := range results {
			fmt.Fprintf(cmd.OutOrStdout(), "%.3f %s\n", r.Score.Total, r.Memory.Text)
		}
		return
	}
	mems := make([]model.Memory, len(results))
	for i, r := range results {
		mems[i] = r.Memory
	}
	printValue(cmd.OutOrStdout(), mems)
}
