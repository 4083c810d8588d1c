package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions with memory counts",
		Run:   runSessions,
	}

	RootCmd.AddCommand(cmd)
}

func runSessions(cmd *cobra.Command, args []string) {
	a := openApp(cmd.Context())
	defer a.close()

	rows, err := a.store.Sessions(cmd.Context())
	if err != nil {
		exitErr("list sessions", err)
	}
	printValue(cmd.OutOrStdout(), rows)
}
