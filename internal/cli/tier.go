package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/episodic-memory/internal/model"
)

func init() {
	protect := &cobra.Command{
		Use:   "protect [id]",
		Short: "Shield a memory from demotion, expiry and decay",
		Args:  cobra.ExactArgs(1),
		Run:   runProtection(true),
	}
	protect.Flags().StringP("reason", "r", "user request", "Why the memory is protected")

	unprotect := &cobra.Command{
		Use:   "unprotect [id]",
		Short: "Remove decay protection",
		Args:  cobra.ExactArgs(1),
		Run:   runProtection(false),
	}
	unprotect.Flags().StringP("reason", "r", "user request", "Why the protection is lifted")

	promote := &cobra.Command{
		Use:   "promote [id] [tier]",
		Short: "Move a memory to a higher tier",
		Args:  cobra.ExactArgs(2),
		Run:   runMove(true),
	}
	promote.Flags().StringP("reason", "r", "manual promotion", "Why the memory moves")

	demote := &cobra.Command{
		Use:   "demote [id] [tier]",
		Short: "Move a memory to a lower tier",
		Args:  cobra.ExactArgs(2),
		Run:   runMove(false),
	}
	demote.Flags().StringP("reason", "r", "manual demotion", "Why the memory moves")

	tiers := &cobra.Command{
		Use:   "tiers",
		Short: "List memories by tier",
		Long:  "List the memories of one tier, most significant first, or the protected memories with --protected.",
		Run:   runTiers,
	}
	tiers.Flags().StringP("tier", "t", string(model.TierShort), "Tier: short_term, medium_term, long_term")
	tiers.Flags().IntP("limit", "l", 20, "Max results")
	tiers.Flags().Bool("protected", false, "List protected memories instead")

	RootCmd.AddCommand(protect, unprotect, promote, demote, tiers)
}

func runProtection(on bool) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		reason, _ := cmd.Flags().GetString("reason")
		t := tenant()
		e, done, err := openEngine(cmd.Context())
		if err != nil {
			exitErr("open engine", err)
		}
		defer done()

		op := e.Protect
		if !on {
			op = e.Unprotect
		}
		if err := op(cmd.Context(), t, args[0], reason); err != nil {
			exitErr(cmd.Name(), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"memory_id":%q,"decay_protection":%t}`+"\n", args[0], on)
	}
}

func runMove(up bool) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		reason, _ := cmd.Flags().GetString("reason")
		to, err := parseTier(args[1])
		if err != nil {
			exitErr(cmd.Name(), err)
		}
		t := tenant()
		e, done, err := openEngine(cmd.Context())
		if err != nil {
			exitErr("open engine", err)
		}
		defer done()

		op := e.Promote
		if !up {
			op = e.Demote
		}
		if err := op(cmd.Context(), t, args[0], to, reason); err != nil {
			exitErr(cmd.Name(), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"memory_id":%q,"memory_tier":%q}`+"\n", args[0], to)
	}
}

func runTiers(cmd *cobra.Command, args []string) {
	tierStr, _ := cmd.Flags().GetString("tier")
	limit, _ := cmd.Flags().GetInt("limit")
	protected, _ := cmd.Flags().GetBool("protected")

	t := tenant()
	e, done, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open engine", err)
	}
	defer done()

	var mems []model.Memory
	if protected {
		mems, err = e.ListProtected(cmd.Context(), t)
	} else {
		var tr model.Tier
		if tr, err = parseTier(tierStr); err != nil {
			exitErr("tiers", err)
		}
		mems, err = e.ListByTier(cmd.Context(), t, tr, limit)
	}
	if err != nil {
		exitErr("tiers", err)
	}
	if mems == nil {
		mems = []model.Memory{}
	}
	printMemories(mems)
}

// parseTier accepts the stored names and the short forms "short",
// "medium" and "long".
func parseTier(s string) (model.Tier, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasSuffix(s, "_term") {
		s += "_term"
	}
	tr := model.Tier(s)
	if !model.ValidTiers[tr] {
		return "", &model.ValidationError{Field: "memory_tier", Reason: fmt.Sprintf("unknown tier %q", s)}
	}
	return tr, nil
}

