package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show the active memory for a key",
		Run:   runGet,
	}

	cmd.Flags().StringP("session", "s", "", "Session id (required)")
	cmd.Flags().StringP("key", "k", "", "Key (required)")
	cmd.Flags().Bool("history", false, "Include superseded values (oldest first)")

	cmd.MarkFlagRequired("session")
	cmd.MarkFlagRequired("key")

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	key, _ := cmd.Flags().GetString("key")
	history, _ := cmd.Flags().GetBool("history")

	a := openApp(cmd.Context())
	defer a.close()

	if history {
		memories, err := a.store.FindByKey(cmd.Context(), session, key, false)
		if err != nil {
			exitErr("get", err)
		}
		printMemories(cmd.OutOrStdout(), memories)
		return
	}

	m, err := a.engine.RetrieveByKey(cmd.Context(), session, key)
	if err != nil {
		exitErr("get", err)
	}
	printValue(cmd.OutOrStdout(), m)
}
