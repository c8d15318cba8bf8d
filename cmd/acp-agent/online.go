package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acp-sdk/acp-core/agent"
	"github.com/acp-sdk/acp-core/internal/logger"
)

var onlinePassword string

var onlineCmd = &cobra.Command{
	Use:   "online <aid>",
	Short: "Load an AID and bring it online",
	Args:  cobra.ExactArgs(1),
	RunE:  runOnline,
}

func init() {
	onlineCmd.Flags().StringVar(&onlinePassword, "password", "", "password the AID's private key is encrypted with")
	_ = onlineCmd.MarkFlagRequired("password")
	rootCmd.AddCommand(onlineCmd)
}

func runOnline(cmd *cobra.Command, args []string) error {
	aid := args[0]

	cfg, err := resolveConfig(logger.InfoLevel)
	if err != nil {
		return fmt.Errorf("resolve config: %w", err)
	}

	cp := agent.GetAgentCP()
	if err := cp.Initialize(cfg); err != nil {
		return err
	}

	agentID, err := cp.LoadAID(aid, onlinePassword)
	if err != nil {
		return fmt.Errorf("load aid: %w", err)
	}

	if err := agentID.Online(cmd.Context()); err != nil {
		return fmt.Errorf("online: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", aid, agentID.State())
	return nil
}
