package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "acp-keygen",
	Short: "ACP key management CLI",
	Long: `acp-keygen generates and inspects the ECDSA P-384 key material and
certificates an ACP AgentID uses to sign in to its access point.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
