package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "link <from-id> <to-id>",
		Short: "Relate two memories of the same session",
		Long:  "Record a symmetric relation. Related memories fill spare retrieval slots.",
		Args:  cobra.ExactArgs(2),
		Run:   runLink,
	}

	RootCmd.AddCommand(cmd)
}

func runLink(cmd *cobra.Command, args []string) {
	a := openApp(cmd.Context())
	defer a.close()

	if err := a.engine.Link(cmd.Context(), args[0], args[1]); err != nil {
		exitErr("link", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"from":%q,"to":%q}`+"\n", args[0], args[1])
}
