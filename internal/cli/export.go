package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/episodic-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories as JSON",
		Long:  "Export every memory of the user/agent pair as a JSON array, oldest first. Vectors are not included.",
		Run:   runExport,
	}

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	t := tenant()
	e, done, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open engine", err)
	}
	defer done()

	mems, err := e.Export(cmd.Context(), t)
	if err != nil {
		exitErr("export", err)
	}
	if mems == nil {
		mems = []model.Memory{}
	}
	printJSON(mems)
}
