package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/agent-recall/internal/model"
)

// printValue writes v as indented JSON, or YAML with --format yaml.
func printValue(w io.Writer, v any) {
	if formatFlag == "yaml" {
		b, err := yaml.Marshal(v)
		if err != nil {
			exitErr("encode yaml", err)
		}
		fmt.Fprint(w, string(b))
		return
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(b))
}

// printMemories honors --format text with one line per memory.
func printMemories(w io.Writer, mems []model.Memory) {
	if formatFlag != "text" {
		printValue(w, mems)
		return
	}
	for _, m := range mems {
		state := ""
		if !m.IsActive {
			state = " (inactive)"
		}
		fmt.Fprintf(w, "%s [%s] %s: %s%s\n", m.ID, m.Type, m.Key, strings.TrimSpace(m.Text), state)
	}
}
