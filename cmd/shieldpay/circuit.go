package main

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/vocdoni/shieldpay/circuits/joinsplit"
)

var circuitCmd = &cobra.Command{
	Use:   "circuit",
	Short: "Spend circuit utilities",
}

var circuitSetupCmd = &cobra.Command{
	Use:   "setup <dir>",
	Short: "Compile the join-split circuit and write development keys",
	Long: `setup compiles the join-split spend circuit and runs a local groth16
setup. The keys come from local randomness and are only fit for development
clusters. Point artifacts.verificationKeyFile to the written joinsplit.vk.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		dir := args[0]
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		keys, err := joinsplit.Setup()
		if err != nil {
			return err
		}
		if err := keys.Store(dir); err != nil {
			return err
		}
		vk, err := os.ReadFile(filepath.Join(dir, joinsplit.VerifyingKeyFile))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "constraints: %d\nverification key: %s\nsha256: %x\n",
			keys.CCS.GetNbConstraints(), filepath.Join(dir, joinsplit.VerifyingKeyFile), sha256.Sum256(vk))
		return nil
	},
}

func init() {
	circuitCmd.AddCommand(circuitSetupCmd)
}
