package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/valetd/valet/internal/agent"
	"github.com/valetd/valet/internal/approval"
	"github.com/valetd/valet/internal/autonomy"
	"github.com/valetd/valet/internal/bus"
	"github.com/valetd/valet/internal/channels"
	"github.com/valetd/valet/internal/config"
	"github.com/valetd/valet/internal/journal"
	"github.com/valetd/valet/internal/provider"
	"github.com/valetd/valet/internal/scheduler"
	"github.com/valetd/valet/internal/session"
	"github.com/valetd/valet/internal/taskstore"
)

var gatewayConsole bool

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the agent gateway (Telegram, scheduler)",
	Run:   runGateway,
}

func init() {
	gatewayCmd.Flags().BoolVar(&gatewayConsole, "console", false, "Also attach an interactive console channel")
}

func runGateway(cmd *cobra.Command, args []string) {
	printHeader("Valet Gateway")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.Paths.Home, 0755); err != nil {
		fmt.Printf("Cannot create %s: %v\n", cfg.Paths.Home, err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.Paths.Workspace, 0755); err != nil {
		fmt.Printf("Cannot create workspace: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := taskstore.Open(cfg.Paths.TaskDB)
	if err != nil {
		fmt.Printf("Task store error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	msgBus := bus.NewMessageBus()
	jnl := journal.New(cfg.Journal.Capacity)
	approvals := approval.NewManager()

	level, err := autonomy.ParseLevel(cfg.Autonomy.Level)
	if err != nil {
		slog.Warn("invalid autonomy level in config, using balanced", "value", cfg.Autonomy.Level)
		level = autonomy.Balanced
	}
	gate := autonomy.NewGate(level)
	gate.SetTimeout(time.Duration(cfg.Autonomy.ApprovalTimeoutSeconds) * time.Second)

	var channelList []channels.Channel

	if cfg.Channels.Telegram.Enabled {
		if cfg.Channels.Telegram.Token == "" {
			fmt.Println("Telegram enabled but no token configured (set VALET_TELEGRAM_TOKEN)")
			os.Exit(1)
		}
		tg := channels.NewTelegramChannel(cfg.Channels.Telegram.Token,
			cfg.Channels.Telegram.AllowedIDs, msgBus, approvals, jnl)
		gate.SetAskFunc(tg.AskApproval)
		channelList = append(channelList, tg)
	}
	if gatewayConsole || len(channelList) == 0 {
		channelList = append(channelList, channels.NewConsoleChannel(msgBus, jnl))
	}

	loop := agent.NewLoop(agent.LoopOptions{
		Bus:           msgBus,
		Provider:      provider.NewOpenAIProvider(cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Model.Name),
		Registry:      buildRegistry(cfg, store),
		Gate:          gate,
		Journal:       jnl,
		Approvals:     approvals,
		Sessions:      session.NewManager(cfg.Paths.Sessions),
		TaskStore:     store,
		Model:         cfg.Model.Name,
		MaxIterations: cfg.Model.MaxToolIterations,
		MaxTokens:     cfg.Model.MaxTokens,
		MaxHistory:    cfg.Model.MaxHistory,
	})

	go func() {
		if err := msgBus.DispatchOutbound(ctx); err != nil && ctx.Err() == nil {
			slog.Error("outbound dispatcher stopped", "error", err)
		}
	}()
	go func() {
		if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("agent loop stopped", "error", err)
			cancel()
		}
	}()

	if cfg.Scheduler.Enabled {
		lock := scheduler.NewFileLock(cfg.Paths.LockFile)
		acquired, err := lock.TryLock()
		if err != nil {
			fmt.Printf("Scheduler lock error: %v\n", err)
			os.Exit(1)
		}
		if !acquired {
			slog.Warn("scheduler lock held by another process, scheduler disabled here")
		} else {
			defer lock.Unlock()
			sched := scheduler.New(scheduler.Options{
				Store:         store,
				Dispatcher:    loop,
				Journal:       jnl,
				TickInterval:  time.Duration(cfg.Scheduler.TickSeconds) * time.Second,
				BatchSize:     cfg.Scheduler.BatchSize,
				RatePerMinute: cfg.Scheduler.RatePerMinute,
			})
			go func() {
				if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
					slog.Error("scheduler stopped", "error", err)
				}
			}()
		}
	}

	for _, ch := range channelList {
		ch := ch
		go func() {
			if err := ch.Start(ctx); err != nil {
				slog.Error("channel stopped", "channel", ch.Name(), "error", err)
			}
		}()
	}

	fmt.Printf("Gateway running (model %s, autonomy %s). Ctrl-C to stop.\n",
		cfg.Model.Name, gate.Level())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	fmt.Println("\nShutting down...")
	cancel()
	for _, ch := range channelList {
		_ = ch.Stop()
	}
}
