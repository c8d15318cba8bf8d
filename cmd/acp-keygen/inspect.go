package main

import (
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/acp-sdk/acp-core/crypto/keys"
)

var inspectPassword string

var inspectCmd = &cobra.Command{
	Use:   "inspect <key-file>",
	Short: "Decrypt and describe an ACP private key file",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectPassword, "password", "", "password the key file was encrypted with (required)")
	_ = inspectCmd.MarkFlagRequired("password")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	encrypted, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read key file: %w", err)
	}
	keyPEM, err := keys.DecryptPrivateKey(encrypted, inspectPassword)
	if err != nil {
		return fmt.Errorf("decrypt key (wrong password?): %w", err)
	}
	kp, err := keys.LoadP384KeyPair(keyPEM)
	if err != nil {
		return fmt.Errorf("parse key: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "key id:   %s\n", kp.ID())
	fmt.Fprintf(out, "key type: %s\n", kp.Type())
	return nil
}

func csrBase64(der []byte) string {
	block := &pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}
	return base64.StdEncoding.EncodeToString(pem.EncodeToMemory(block))
}
