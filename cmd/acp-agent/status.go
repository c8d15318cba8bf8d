package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acp-sdk/acp-core/agent"
	"github.com/acp-sdk/acp-core/internal/logger"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List every AID with material on disk and its state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(logger.InfoLevel)
	if err != nil {
		return fmt.Errorf("resolve config: %w", err)
	}

	cp := agent.GetAgentCP()
	if err := cp.Initialize(cfg); err != nil {
		return err
	}

	aids, err := cp.ListAIDs()
	if err != nil {
		return fmt.Errorf("list aids: %w", err)
	}
	for _, aid := range aids {
		fmt.Fprintln(cmd.OutOrStdout(), aid)
	}
	return nil
}
