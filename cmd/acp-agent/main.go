package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/acp-sdk/acp-core/agent"
	"github.com/acp-sdk/acp-core/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "acp-agent",
	Short: "ACP agent lifecycle CLI",
	Long: `acp-agent drives an AgentID through the AgentCP façade: create or
load identity material, bring it online against an access point, and
report its live connection state.`,
}

var (
	flagCABase      string
	flagAPBase      string
	flagStoragePath string
	flagConfigFile  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&flagCABase, "ca-base", "", "certificate-issuing service base URL")
	rootCmd.PersistentFlags().StringVar(&flagAPBase, "ap-base", "", "access point base URL")
	rootCmd.PersistentFlags().StringVar(&flagStoragePath, "storage-path", ".", "on-disk root for <aid>/<aid>.key + .crt")
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "YAML config file; overrides --ca-base/--ap-base/--storage-path when set")
}

// resolveConfig builds an agent.Config from --config if given,
// otherwise from the individual base-URL/storage flags.
func resolveConfig(level logger.Level) (agent.Config, error) {
	if flagConfigFile != "" {
		cfg, err := agent.LoadConfigFromFile(flagConfigFile)
		if err != nil {
			return agent.Config{}, err
		}
		return cfg, nil
	}
	return agent.Config{
		CABase:      flagCABase,
		APBase:      flagAPBase,
		StoragePath: flagStoragePath,
		LogLevel:    level,
	}, nil
}
