// Package cmd wires the archiflow CLI.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/archiflow-dev/archiflow/cmd.Version=v1.0.0"
var Version = "dev"

var (
	workDir string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "archiflow",
	Short: "ArchiFlow — agent orchestration platform",
	Long:  "ArchiFlow: agent orchestration platform with a persistent message broker, token-budgeted conversation history, and sandboxed tool execution.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&workDir, "dir", "", "working directory (default: cwd)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(brokerCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("archiflow %s\n", Version)
		},
	}
}

func resolveWorkDir() string {
	if workDir != "" {
		return workDir
	}
	if v := os.Getenv("ARCHIFLOW_DIR"); v != "" {
		return v
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
