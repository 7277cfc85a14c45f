package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/episodic-memory/internal/model"
	"github.com/rcliao/episodic-memory/internal/retrieval"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Recall memories",
		Long: "Recall memories by similarity. Time-anchored questions (\"what did we just talk about\") " +
			"return recent conversation instead. Use --weights to blend several dimensions.",
		Args: cobra.MinimumNArgs(1),
		Run:  runSearch,
	}

	cmd.Flags().IntP("limit", "l", 0, "Max results (default from config)")
	cmd.Flags().StringP("kind", "k", "", "Filter by kind")
	cmd.Flags().StringP("weights", "w", "", "Dimension weights, e.g. content=1,emotion=0.5")
	cmd.Flags().Bool("fidelity", false, "Favour recent and persona-relevant memories")
	cmd.Flags().Bool("resolve", true, "Keep only the best memory per contradicting fact")
	cmd.Flags().Duration("since", 0, "Only memories newer than this, e.g. 72h")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	kindStr, _ := cmd.Flags().GetString("kind")
	weightsStr, _ := cmd.Flags().GetString("weights")
	fidelity, _ := cmd.Flags().GetBool("fidelity")
	resolve, _ := cmd.Flags().GetBool("resolve")
	since, _ := cmd.Flags().GetDuration("since")

	weights, err := parseWeights(weightsStr)
	if err != nil {
		exitErr("parse weights", err)
	}
	var kind model.Kind
	if kindStr != "" {
		if kind, err = model.ParseKind(kindStr); err != nil {
			exitErr("search", err)
		}
	}
	req := retrieval.Request{
		Tenant:   tenant(),
		Query:    strings.Join(args, " "),
		Weights:  weights,
		Limit:    limit,
		Kind:     kind,
		Fidelity: fidelity,
		Resolve:  resolve,
	}
	if since > 0 {
		req.Since = time.Now().Add(-since)
	}

	e, done, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open engine", err)
	}
	defer done()

	resp, err := e.Search(cmd.Context(), req)
	if err != nil {
		exitErr("search", err)
	}

	if formatFlag == "text" {
		mems := make([]model.Memory, len(resp.Results))
		for i, r := range resp.Results {
			mems[i] = r.Memory
		}
		printMemories(mems)
		return
	}
	printJSON(resp)
}

// parseWeights reads "content=1,emotion=0.5". A bare dimension name
// weighs 1.
func parseWeights(s string) (map[model.Dimension]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	out := map[model.Dimension]float64{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, val, found := strings.Cut(part, "=")
		dim := model.Dimension(strings.ToLower(strings.TrimSpace(name)))
		if !model.ValidDimension(dim) {
			return nil, fmt.Errorf("unknown dimension %q", name)
		}
		w := 1.0
		if found {
			var err error
			if w, err = strconv.ParseFloat(strings.TrimSpace(val), 64); err != nil {
				return nil, fmt.Errorf("weight for %s: %w", dim, err)
			}
		}
		out[dim] = w
	}
	return out, nil
}
