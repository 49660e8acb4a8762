package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bkose/ocr-relay/pkg/config"
	"github.com/bkose/ocr-relay/pkg/queue"
)

// queueCmd represents the queue command
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the job queue",
	Long:  `Queue commands talk to the queue backend directly using the service configuration, bypassing the receiver API.`,
}

// queueSizeCmd represents the queue size command
var queueSizeCmd = &cobra.Command{
	Use:   "size",
	Short: "Show the number of pending jobs",
	RunE:  runQueueSize,
}

// queueClearCmd represents the queue clear command
var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop all pending jobs",
	Long:  `Drop all pending jobs from the queue. Stored results are kept. This cannot be undone.`,
	RunE:  runQueueClear,
}

var clearConfirmed bool

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueSizeCmd)
	queueCmd.AddCommand(queueClearCmd)

	queueClearCmd.Flags().BoolVar(&clearConfirmed, "yes", false, "skip the confirmation prompt")
}

func openStore() (queue.Store, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	store, err := queue.FromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue store: %w", err)
	}
	return store, nil
}

func runQueueSize(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	size, err := store.Size(ctx)
	if err != nil {
		return fmt.Errorf("failed to read queue size: %w", err)
	}
	fmt.Printf("%d pending job(s)\n", size)
	return nil
}

func runQueueClear(cmd *cobra.Command, args []string) error {
	if !clearConfirmed {
		return fmt.Errorf("refusing to clear the queue without --yes")
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	size, err := store.Size(ctx)
	if err != nil {
		return fmt.Errorf("failed to read queue size: %w", err)
	}
	if err := store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	fmt.Printf("Cleared %d pending job(s)\n", size)
	return nil
}
