package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Permanently delete a session's memories",
		Run:   runClear,
	}

	cmd.Flags().StringP("session", "s", "", "Session id (required)")
	cmd.Flags().Bool("yes", false, "Confirm the irreversible delete")

	cmd.MarkFlagRequired("session")

	RootCmd.AddCommand(cmd)
}

func runClear(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		exitErr("clear", fmt.Errorf("refusing to delete session %q without --yes", session))
	}

	a := openApp(cmd.Context())
	defer a.close()

	n, err := a.store.ClearSession(cmd.Context(), session)
	if err != nil {
		exitErr("clear", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"session":%q,"deleted":%d}`+"\n", session, n)
}
