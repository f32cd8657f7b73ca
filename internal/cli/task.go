package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/valetd/valet/internal/config"
	"github.com/valetd/valet/internal/taskstore"
)

var taskUserKey string

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and manage scheduled tasks",
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled tasks",
	Run:   runTaskList,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel an active task",
	Args:  cobra.ExactArgs(1),
	Run:   runTaskCancel,
}

var taskRunsCmd = &cobra.Command{
	Use:   "runs <task-id>",
	Short: "Show run history for a task",
	Args:  cobra.ExactArgs(1),
	Run:   runTaskRuns,
}

func init() {
	taskCmd.PersistentFlags().StringVarP(&taskUserKey, "user", "u", "cli:default", "User key owning the tasks")
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskCancelCmd)
	taskCmd.AddCommand(taskRunsCmd)
}

func openTaskStore() *taskstore.Store {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	store, err := taskstore.Open(cfg.Paths.TaskDB)
	if err != nil {
		fmt.Printf("Task store error: %v\n", err)
		os.Exit(1)
	}
	return store
}

func runTaskList(cmd *cobra.Command, args []string) {
	store := openTaskStore()
	defer store.Close()

	tasks, err := store.ListForUser(context.Background(), taskUserKey, 100)
	if err != nil {
		fmt.Printf("List error: %v\n", err)
		os.Exit(1)
	}
	if len(tasks) == 0 {
		fmt.Println("No scheduled tasks.")
		return
	}
	for _, t := range tasks {
		next := "-"
		if !t.NextRun.IsZero() {
			next = t.NextRun.Local().Format(time.RFC3339)
		}
		status := string(t.Status)
		switch t.Status {
		case taskstore.StatusActive:
			status = color.GreenString(status)
		case taskstore.StatusFailed:
			status = color.RedString(status)
		}
		fmt.Printf("%s  %-18s %-12s runs=%-3d next=%s  %s\n",
			t.ID, t.ToolName, status, t.RunCount, next, t.Schedule.Describe())
	}
}

func runTaskCancel(cmd *cobra.Command, args []string) {
	store := openTaskStore()
	defer store.Close()

	cancelled, err := store.Cancel(context.Background(), args[0], taskUserKey)
	if err != nil {
		fmt.Printf("Cancel error: %v\n", err)
		os.Exit(1)
	}
	if !cancelled {
		fmt.Println("No active task with that id for this user.")
		os.Exit(1)
	}
	fmt.Println("Task cancelled.")
}

func runTaskRuns(cmd *cobra.Command, args []string) {
	store := openTaskStore()
	defer store.Close()

	runs, err := store.ListRuns(context.Background(), args[0], 50)
	if err != nil {
		fmt.Printf("Runs error: %v\n", err)
		os.Exit(1)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return
	}
	for _, r := range runs {
		outcome := color.GreenString("ok")
		if !r.Success {
			outcome = color.RedString("failed: " + r.Error)
		}
		fmt.Printf("%s  %s  %s\n", r.StartedAt.Local().Format(time.RFC3339),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond), outcome)
	}
}
