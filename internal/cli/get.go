package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/episodic-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Retrieve a memory by id",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	t := tenant()
	e, done, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open engine", err)
	}
	defer done()

	mem, err := e.Get(cmd.Context(), t, args[0])
	if err != nil {
		exitErr("get", err)
	}

	if formatFlag == "text" {
		printMemories([]model.Memory{mem})
		return
	}
	printJSON(mem)
}
