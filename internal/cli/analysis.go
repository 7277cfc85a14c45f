package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/episodic-memory/internal/contradiction"
)

func init() {
	trajectory := &cobra.Command{
		Use:   "trajectory",
		Short: "Analyze the emotional trajectory of recent conversation",
		Run:   runTrajectory,
	}

	contradictions := &cobra.Command{
		Use:   "contradictions [content]",
		Short: "Check a statement against stored facts",
		Long:  "Check a statement against the stored facts on the same subject. The subject is derived from the content unless --key is set.",
		Run:   runContradictions,
	}
	contradictions.Flags().StringP("key", "k", "", "Semantic key, e.g. pet_name")

	cluster := &cobra.Command{
		Use:   "cluster",
		Short: "Group memories by similarity",
		Run:   runCluster,
	}

	RootCmd.AddCommand(trajectory, contradictions, cluster)
}

func runTrajectory(cmd *cobra.Command, args []string) {
	t := tenant()
	e, done, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open engine", err)
	}
	defer done()

	tr, err := e.GetTrajectory(cmd.Context(), t)
	if err != nil {
		exitErr("trajectory", err)
	}
	printJSON(tr)
}

func runContradictions(cmd *cobra.Command, args []string) {
	key, _ := cmd.Flags().GetString("key")
	content := readContent(args)

	t := tenant()
	e, done, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open engine", err)
	}
	defer done()

	found, err := e.DetectContradiction(cmd.Context(), t, key, content)
	if err != nil {
		exitErr("contradictions", err)
	}
	if found == nil {
		found = []contradiction.Contradiction{}
	}
	printJSON(found)
}

func runCluster(cmd *cobra.Command, args []string) {
	t := tenant()
	e, done, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open engine", err)
	}
	defer done()

	rep, err := e.Cluster(cmd.Context(), t)
	if err != nil {
		exitErr("cluster", err)
	}
	printJSON(rep)
}
