package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/archiflow-dev/archiflow/internal/bus/storage"
	"github.com/archiflow-dev/archiflow/internal/config"
)

var brokerDataDir string

func brokerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Inspect and administer broker queues",
	}
	cmd.PersistentFlags().StringVar(&brokerDataDir, "data", "", "broker data directory (default: <dir>/.archiflow/broker)")
	cmd.AddCommand(brokerQueuesCmd())
	cmd.AddCommand(brokerDLQCmd())
	cmd.AddCommand(brokerRequeueCmd())
	cmd.AddCommand(brokerCompactCmd())
	return cmd
}

func openBackend() (*storage.AOLBackend, error) {
	dataDir := brokerDataDir
	if dataDir == "" {
		dataDir = filepath.Join(resolveWorkDir(), config.DirName, "broker")
	}
	backend := storage.NewAOLBackend(dataDir)
	if err := backend.Initialize(); err != nil {
		return nil, err
	}
	return backend, nil
}

func brokerQueuesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "List queues with pending and DLQ depths",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openBackend()
			if err != nil {
				return err
			}
			defer backend.Close()
			for _, queue := range backend.Queues() {
				depth, _ := backend.QueueDepth(queue)
				dlq, _ := backend.DLQDepth(queue)
				fmt.Printf("%-32s pending=%-6d dlq=%d\n", queue, depth, dlq)
			}
			return nil
		},
	}
}

func brokerDLQCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dlq <queue>",
		Short: "List dead-lettered messages of a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openBackend()
			if err != nil {
				return err
			}
			defer backend.Close()
			messages, err := backend.DLQMessages(args[0])
			if err != nil {
				return err
			}
			if len(messages) == 0 {
				fmt.Fprintln(os.Stderr, "dlq is empty")
				return nil
			}
			for _, msg := range messages {
				fmt.Printf("%s  retries=%d  payload=%s\n", msg.ID, msg.RetryCount, msg.Payload.String())
			}
			return nil
		},
	}
}

func brokerRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <queue> <message-id>",
		Short: "Move a dead-lettered message back to pending",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openBackend()
			if err != nil {
				return err
			}
			defer backend.Close()
			if err := backend.RequeueFromDLQ(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("requeued %s\n", args[1])
			return nil
		},
	}
}

func brokerCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact [queue]",
		Short: "Compact one queue's log, or all queues",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openBackend()
			if err != nil {
				return err
			}
			defer backend.Close()
			queues := backend.Queues()
			if len(args) == 1 {
				queues = args
			}
			for _, queue := range queues {
				if err := backend.Compact(queue); err != nil {
					return err
				}
				fmt.Printf("compacted %s\n", queue)
			}
			return nil
		},
	}
}
