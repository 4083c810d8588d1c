package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a session's memories",
		Run:   runList,
	}

	cmd.Flags().StringP("session", "s", "", "Session id (required)")
	cmd.Flags().String("type", "", "Filter by type (ordered by importance)")
	cmd.Flags().Int("recent", 0, "Only memories from the last N turns (newest first)")
	cmd.Flags().String("search", "", "Substring match on key, value or text (newest first)")
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	cmd.Flags().Bool("inactive", false, "Include superseded and consolidated memories")
	cmd.Flags().Bool("keys-only", false, "Only output id and key")

	cmd.MarkFlagRequired("session")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	typ, _ := cmd.Flags().GetString("type")
	recent, _ := cmd.Flags().GetInt("recent")
	search, _ := cmd.Flags().GetString("search")
	limit, _ := cmd.Flags().GetInt("limit")
	inactive, _ := cmd.Flags().GetBool("inactive")
	keysOnly, _ := cmd.Flags().GetBool("keys-only")

	a := openApp(cmd.Context())
	defer a.close()

	var memories []model.Memory
	var err error
	switch {
	case typ != "":
		t, perr := model.ParseType(typ)
		if perr != nil {
			exitErr("list", perr)
		}
		memories, err = a.engine.RetrieveByType(cmd.Context(), session, t, limit)
	case search != "":
		memories, err = a.store.Search(cmd.Context(), store.SearchParams{
			SessionID:  session,
			Query:      search,
			ActiveOnly: !inactive,
			Limit:      limit,
		})
	case recent > 0:
		memories, err = a.engine.RetrieveRecent(cmd.Context(), session, limit, recent)
	default:
		memories, err = a.engine.AllMemories(cmd.Context(), session, inactive)
		if limit > 0 && len(memories) > limit {
			memories = memories[:limit]
		}
	}
	if err != nil {
		exitErr("list", err)
	}

	if keysOnly {
		for _, m := range memories {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", m.ID, m.Key)
		}
		return
	}
	printMemories(cmd.OutOrStdout(), memories)
}
