// Package cli implements the episodic-memory CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/episodic-memory/internal/config"
	"github.com/rcliao/episodic-memory/internal/engine"
	"github.com/rcliao/episodic-memory/internal/logging"
	"github.com/rcliao/episodic-memory/internal/model"
)

var (
	dbPath     string
	configPath string
	userID     string
	agentID    string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "episodic-memory",
	Short: "Emotionally aware long-term memory for conversational agents",
	Long: "Stores what a user tells an agent as multi-dimensional vector memories and recalls them " +
		"by content, emotion and time. Every command acts on one user/agent pair.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $EPISODIC_DB_PATH or ~/.episodic-memory/memory.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	RootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "User id (default: $EPISODIC_USER)")
	RootCmd.PersistentFlags().StringVarP(&agentID, "agent", "a", "", "Agent id (default: $EPISODIC_AGENT)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

// openEngine loads config, applies flag overrides and opens the engine.
// The returned func closes the engine and flushes the log sink.
func openEngine(ctx context.Context) (*engine.Engine, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	log, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	e, err := engine.Open(ctx, cfg, log)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	return e, func() {
		if err := e.Close(); err != nil {
			log.Warn().Err(err).Msg("close engine")
		}
		closeLog()
	}, nil
}

func tenant() model.TenantKey {
	user := userID
	if user == "" {
		user = os.Getenv("EPISODIC_USER")
	}
	agent := agentID
	if agent == "" {
		agent = os.Getenv("EPISODIC_AGENT")
	}
	t, err := model.NewTenantKey(user, agent)
	if err != nil {
		exitErr("tenant", err)
	}
	return t
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		exitErr("encode output", err)
	}
	fmt.Println(string(b))
}

func printMemories(mems []model.Memory) {
	if formatFlag != "text" {
		printJSON(mems)
		return
	}
	for _, m := range mems {
		fmt.Printf("%s  %s  %-11s %.2f  %s\n", m.ID, m.Timestamp.Format("2006-01-02 15:04"), m.Tier, m.Overall, oneLine(m.Content))
	}
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 80 {
		return s[:77] + "..."
	}
	return s
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
