package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acp-sdk/acp-core/agent"
	"github.com/acp-sdk/acp-core/internal/logger"
)

var offlinePassword string

var offlineCmd = &cobra.Command{
	Use:   "offline <aid>",
	Short: "Take a previously loaded AID offline",
	Args:  cobra.ExactArgs(1),
	RunE:  runOffline,
}

func init() {
	offlineCmd.Flags().StringVar(&offlinePassword, "password", "", "password the AID's private key is encrypted with")
	_ = offlineCmd.MarkFlagRequired("password")
	rootCmd.AddCommand(offlineCmd)
}

func runOffline(cmd *cobra.Command, args []string) error {
	aid := args[0]

	cfg, err := resolveConfig(logger.InfoLevel)
	if err != nil {
		return fmt.Errorf("resolve config: %w", err)
	}

	cp := agent.GetAgentCP()
	if err := cp.Initialize(cfg); err != nil {
		return err
	}

	agentID, err := cp.LoadAID(aid, offlinePassword)
	if err != nil {
		return fmt.Errorf("load aid: %w", err)
	}

	agentID.Offline()
	fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", aid, agentID.State())
	return nil
}
