package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vocdoni/shieldpay/config"
	"github.com/vocdoni/shieldpay/log"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "shieldpay",
	Short: "Shielded payments relayer and splitter for Solana",
	Long: `shieldpay runs the proof relay gateway of a shielded pool on Solana.
It admits spend proofs, guards the nullifier set and pays for the withdrawal
transactions. It can also split plain transfers through temporary wallets.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path of the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error), overrides the config")
	rootCmd.AddCommand(serveCmd, initConfigCmd, stealthCmd, circuitCmd)
}

// loadConfig loads the configuration and initializes the logger with it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	log.Init(cfg.LogLevel, cfg.LogOutput, nil)
	return cfg, nil
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config <path>",
	Short: "Write the default configuration to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(args[0]); err == nil {
			return fmt.Errorf("%s already exists", args[0])
		}
		if err := config.Default().Save(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "default configuration written to %s\n", args[0])
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
