package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories as JSON or YAML",
		Long:  "Export memories, including inactive ones and their links. Filter by session with -s; use -f yaml for YAML.",
		Run:   runExport,
	}

	cmd.Flags().StringP("session", "s", "", "Filter by session")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")

	a := openApp(cmd.Context())
	defer a.close()

	memories, err := a.store.ExportAll(cmd.Context(), session)
	if err != nil {
		exitErr("export", err)
	}
	printValue(cmd.OutOrStdout(), memories)
}
