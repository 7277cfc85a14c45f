package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/episodic-memory/internal/tier"
)

func init() {
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Promote, demote and expire memories by age and significance",
		Run:   runSweep,
	}

	decay := &cobra.Command{
		Use:   "decay",
		Short: "Lower the significance of unprotected memories",
		Long:  "Lower the significance of unprotected memories. With --preview, list the memories at or below --threshold without changing anything.",
		Run:   runDecay,
	}
	decay.Flags().Float64("rate", 0.1, "Decay rate in (0,1)")
	decay.Flags().Bool("preview", false, "List decay candidates only")
	decay.Flags().Float64("threshold", 0.3, "Significance threshold for --preview")
	decay.Flags().IntP("limit", "l", 20, "Max candidates for --preview")

	RootCmd.AddCommand(sweep, decay)
}

func runSweep(cmd *cobra.Command, args []string) {
	t := tenant()
	e, done, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open engine", err)
	}
	defer done()

	rep, err := e.RunTierSweep(cmd.Context(), t)
	if err != nil {
		exitErr("sweep", err)
	}
	printJSON(rep)
}

func runDecay(cmd *cobra.Command, args []string) {
	rate, _ := cmd.Flags().GetFloat64("rate")
	preview, _ := cmd.Flags().GetBool("preview")
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	limit, _ := cmd.Flags().GetInt("limit")

	t := tenant()
	e, done, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open engine", err)
	}
	defer done()

	if preview {
		cands, err := e.DecayCandidates(cmd.Context(), t, threshold, limit)
		if err != nil {
			exitErr("decay", err)
		}
		if cands == nil {
			cands = []tier.Candidate{}
		}
		printJSON(cands)
		return
	}

	rep, err := e.RunDecay(cmd.Context(), t, rate)
	if err != nil {
		exitErr("decay", err)
	}
	printJSON(rep)
}
