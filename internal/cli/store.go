package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/episodic-memory/internal/engine"
	"github.com/rcliao/episodic-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "store [content]",
		Short: "Store a memory",
		Long:  "Store a memory. Content can be a positional arg or piped via stdin.",
		Run:   runStore,
	}

	cmd.Flags().StringP("kind", "k", "conversation", "Kind: conversation, fact, context, correction, relationship, preference")
	cmd.Flags().Float64("confidence", engine.DefaultConfidence, "Confidence in [0,1]")
	cmd.Flags().String("source", "", "Where the memory came from")
	cmd.Flags().String("meta", "", "JSON metadata object")

	RootCmd.AddCommand(cmd)
}

func runStore(cmd *cobra.Command, args []string) {
	kindStr, _ := cmd.Flags().GetString("kind")
	confidence, _ := cmd.Flags().GetFloat64("confidence")
	source, _ := cmd.Flags().GetString("source")
	meta, _ := cmd.Flags().GetString("meta")

	content := readContent(args)
	if strings.TrimSpace(content) == "" {
		exitErr("store", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	kind, err := model.ParseKind(kindStr)
	if err != nil {
		exitErr("store", err)
	}

	var metadata map[string]any
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &metadata); err != nil {
			exitErr("parse meta", err)
		}
	}

	t := tenant()
	e, done, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open engine", err)
	}
	defer done()

	id, err := e.Store(cmd.Context(), engine.StoreParams{
		Tenant:     t,
		Kind:       kind,
		Content:    content,
		Confidence: confidence,
		Source:     source,
		Metadata:   metadata,
	})
	if err != nil {
		exitErr("store", err)
	}

	printJSON(map[string]any{"ok": true, "memory_id": id})
}

// readContent takes the positional args, or stdin when it is piped.
func readContent(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		return string(b)
	}
	return ""
}
