package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/valetd/valet/internal/agent"
	"github.com/valetd/valet/internal/autonomy"
	"github.com/valetd/valet/internal/bus"
	"github.com/valetd/valet/internal/config"
	"github.com/valetd/valet/internal/journal"
	"github.com/valetd/valet/internal/provider"
	"github.com/valetd/valet/internal/session"
	"github.com/valetd/valet/internal/taskstore"
	"github.com/valetd/valet/internal/tools"
)

var (
	agentMessage   string
	agentSessionID string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Chat with the agent directly in CLI",
	Run:   runAgent,
}

func init() {
	agentCmd.Flags().StringVarP(&agentMessage, "message", "m", "", "Message to send to the agent")
	agentCmd.Flags().StringVarP(&agentSessionID, "session", "s", "cli:default", "Session ID")
}

// buildRegistry registers the full tool set. The store may be nil, in which
// case the scheduling tools are left out.
func buildRegistry(cfg *config.Config, store *taskstore.Store) *tools.Registry {
	registry := tools.NewRegistry()
	registry.Register(tools.NewExecTool(2*time.Minute, cfg.Paths.Workspace))
	registry.Register(tools.NewReadFileTool())
	registry.Register(tools.NewWriteFileTool(func() string { return cfg.Paths.Workspace }))
	registry.Register(tools.NewListDirTool())
	registry.Register(tools.NewWebFetchTool())
	if store != nil {
		registry.Register(tools.NewScheduleTaskTool(store))
		registry.Register(tools.NewListTasksTool(store))
		registry.Register(tools.NewCancelTaskTool(store))
	}
	return registry
}

func runAgent(cmd *cobra.Command, args []string) {
	if agentMessage == "" {
		fmt.Println("Error: --message is required")
		os.Exit(1)
	}

	printHeader("Valet Agent")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config warning: %v (using defaults)\n", err)
		cfg = &config.Config{}
	}

	store, err := taskstore.Open(cfg.Paths.TaskDB)
	if err != nil {
		fmt.Printf("Task store warning: %v (scheduling tools disabled)\n", err)
		store = nil
	} else {
		defer store.Close()
	}

	level, err := autonomy.ParseLevel(cfg.Autonomy.Level)
	if err != nil {
		level = autonomy.Balanced
	}

	loop := agent.NewLoop(agent.LoopOptions{
		Bus:           bus.NewMessageBus(),
		Provider:      provider.NewOpenAIProvider(cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Model.Name),
		Registry:      buildRegistry(cfg, store),
		Gate:          autonomy.NewGate(level),
		Journal:       journal.New(cfg.Journal.Capacity),
		Sessions:      session.NewManager(cfg.Paths.Sessions),
		TaskStore:     store,
		Model:         cfg.Model.Name,
		MaxIterations: cfg.Model.MaxToolIterations,
		MaxTokens:     cfg.Model.MaxTokens,
		MaxHistory:    cfg.Model.MaxHistory,
	})

	fmt.Printf("Valet (%s)\n", cfg.Model.Name)
	fmt.Println("Thinking...")

	response, err := loop.ProcessDirect(context.Background(), agentMessage, agentSessionID)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n" + response)
}
