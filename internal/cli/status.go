package cli

import (
	"fmt"
	"os"

	"github.com/valetd/valet/internal/config"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("Valet Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("Valet Status")
		fmt.Printf("Version: %s\n", version)

		configPath := config.ConfigFilePath()
		if _, err := os.Stat(configPath); err == nil {
			fmt.Println("Config:   found (" + configPath + ")")
		} else {
			fmt.Println("Config:   not found (" + configPath + ")")
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("Config error: %v\n", err)
			return
		}
		if cfg.Provider.APIKey != "" {
			fmt.Println("API Key:  found")
		} else {
			fmt.Println("API Key:  not found (set VALET_API_KEY)")
		}
		fmt.Printf("Model:    %s\n", cfg.Model.Name)
		fmt.Printf("Autonomy: %s\n", cfg.Autonomy.Level)
		if cfg.Channels.Telegram.Enabled {
			fmt.Printf("Telegram: enabled (%d allowed ids)\n", len(cfg.Channels.Telegram.AllowedIDs))
		} else {
			fmt.Println("Telegram: disabled")
		}
		if cfg.Scheduler.Enabled {
			fmt.Printf("Scheduler: enabled (tick %ds, batch %d)\n", cfg.Scheduler.TickSeconds, cfg.Scheduler.BatchSize)
		} else {
			fmt.Println("Scheduler: disabled")
		}
		if _, err := os.Stat(cfg.Paths.TaskDB); err == nil {
			fmt.Println("Task DB:  " + cfg.Paths.TaskDB)
		} else {
			fmt.Println("Task DB:  not yet created")
		}
	},
}
