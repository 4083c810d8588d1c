package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/agent-recall/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import memories from JSON or YAML",
		Long: "Import memories from a file or stdin. Expects the format produced by export; use -f yaml for YAML. " +
			"Existing ids are skipped. Memories without a vector, or with one from another model, are re-embedded in one batch.",
		Args: cobra.MaximumNArgs(1),
		Run:  runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	var data []byte
	var err error
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		exitErr("read input", err)
	}

	var memories []model.Memory
	if formatFlag == "yaml" {
		err = yaml.Unmarshal(data, &memories)
	} else {
		err = json.Unmarshal(data, &memories)
	}
	if err != nil {
		exitErr("parse "+formatFlag, err)
	}

	a := openApp(cmd.Context())
	defer a.close()

	embedded := a.engine.Backfill(cmd.Context(), memories)
	imported, err := a.store.Import(cmd.Context(), memories)
	if err != nil {
		exitErr("import", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"imported":%d,"embedded":%d}`+"\n", imported, embedded)
}
