package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "correct [id] [content]",
		Short: "Replace the content of a memory",
		Long:  "Replace the content of a memory and recompute its vectors. The id is kept. Content can be piped via stdin.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runCorrect,
	}

	cmd.Flags().StringP("reason", "r", "user correction", "Why the memory changed")

	RootCmd.AddCommand(cmd)
}

func runCorrect(cmd *cobra.Command, args []string) {
	reason, _ := cmd.Flags().GetString("reason")
	id := args[0]
	content := readContent(args[1:])
	if strings.TrimSpace(content) == "" {
		exitErr("correct", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	t := tenant()
	e, done, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open engine", err)
	}
	defer done()

	if err := e.Correct(cmd.Context(), t, id, content, reason); err != nil {
		exitErr("correct", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"memory_id":%q}`+"\n", id)
}
