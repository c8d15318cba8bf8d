package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/acp-sdk/acp-core/crypto/keys"
)

var (
	genOutDir   string
	genPassword string
)

var generateCmd = &cobra.Command{
	Use:   "generate <aid>",
	Short: "Generate an ECDSA P-384 keypair and CSR for an AID",
	Long: `Generate a fresh ECDSA P-384 keypair, write the password-encrypted
private key to <out>/<aid>.key, and print the PEM-encoded CSR to
stdout for submission to a certificate-issuing service.`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&genOutDir, "out", ".", "directory to write <aid>.key into")
	generateCmd.Flags().StringVar(&genPassword, "password", "", "password used to encrypt the private key (required)")
	_ = generateCmd.MarkFlagRequired("password")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	aid := args[0]

	kp, err := keys.GenerateP384KeyPair()
	if err != nil {
		return fmt.Errorf("generate keypair: %w", err)
	}
	keyPEM, err := keys.GenerateKeyPEM(kp)
	if err != nil {
		return fmt.Errorf("encode private key: %w", err)
	}
	csrPEM, err := keys.GenerateCSR(aid, keyPEM)
	if err != nil {
		return fmt.Errorf("generate csr: %w", err)
	}

	encryptedKey, err := keys.EncryptPrivateKey(kp, genPassword)
	if err != nil {
		return fmt.Errorf("encrypt private key: %w", err)
	}

	if err := os.MkdirAll(genOutDir, 0o700); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	keyPath := filepath.Join(genOutDir, aid+".key")
	if err := os.WriteFile(keyPath, encryptedKey, 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", keyPath)
	fmt.Fprint(cmd.OutOrStdout(), string(csrPEM))
	return nil
}
