package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/recall"
)

func init() {
	cmd := &cobra.Command{
		Use:   "submit [value]",
		Short: "Submit an extracted memory",
		Long: "Screen a memory candidate for duplicates and store it, superseding older values for the same key. " +
			"The value can be a positional arg or piped via stdin.",
		Run: runSubmit,
	}

	cmd.Flags().StringP("session", "s", "", "Session id (required)")
	cmd.Flags().StringP("key", "k", "", "Key (required)")
	cmd.Flags().String("type", "fact", "Type: preference, fact, constraint, habit, goal, reflection, episodic_summary")
	cmd.Flags().Float64("confidence", 0.8, "Extraction confidence in [0,1]")
	cmd.Flags().Int("turn", 0, "Conversation turn the memory came from")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().String("context", "", "Surrounding conversation snippet")
	cmd.Flags().Float64("importance", -1, "Importance override in [0,1] (default: derived from type and confidence)")

	cmd.MarkFlagRequired("session")
	cmd.MarkFlagRequired("key")

	RootCmd.AddCommand(cmd)
}

func runSubmit(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	key, _ := cmd.Flags().GetString("key")
	typ, _ := cmd.Flags().GetString("type")
	confidence, _ := cmd.Flags().GetFloat64("confidence")
	turn, _ := cmd.Flags().GetInt("turn")
	tagsStr, _ := cmd.Flags().GetString("tags")
	snippet, _ := cmd.Flags().GetString("context")
	importance, _ := cmd.Flags().GetFloat64("importance")

	// Get value: positional arg first, then check stdin
	var value string
	if len(args) > 0 {
		value = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			value = string(b)
		}
	}
	if strings.TrimSpace(value) == "" {
		exitErr("submit", fmt.Errorf("value is required (positional arg or stdin)"))
	}

	t, err := model.ParseType(typ)
	if err != nil {
		exitErr("submit", err)
	}
	c := model.Candidate{
		SessionID:  session,
		Type:       t,
		Key:        key,
		Value:      value,
		Confidence: confidence,
		SourceTurn: turn,
		Tags:       splitTags(tagsStr),
		Context:    snippet,
	}
	if cmd.Flags().Changed("importance") {
		c.Importance = recall.Float(importance)
	}

	a := openApp(cmd.Context())
	defer a.close()

	id, err := a.engine.Submit(cmd.Context(), c)
	switch {
	case errors.Is(err, model.ErrDuplicate):
		fmt.Fprintf(cmd.OutOrStdout(), `{"ok":false,"duplicate":true,"session":%q,"key":%q}`+"\n", session, key)
		return
	case err != nil:
		exitErr("submit", err)
	}

	out := map[string]any{"ok": true, "id": id}
	if summary, err := a.engine.MaybeSummarize(cmd.Context(), session, turn); err != nil {
		a.logger.Warn("episodic summary failed", "session", session, "turn", turn, "error", err)
	} else if summary != "" {
		out["summary_id"] = summary
	}
	printValue(cmd.OutOrStdout(), out)
}
