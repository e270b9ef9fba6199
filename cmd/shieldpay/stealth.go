package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
	solanachain "github.com/vocdoni/shieldpay/chain/solana"
	"github.com/vocdoni/shieldpay/crypto/stealth"
)

var stealthCmd = &cobra.Command{
	Use:   "stealth",
	Short: "Stealth address utilities",
}

var stealthKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a recipient spending and viewing key set",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := stealth.GenerateKeys()
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]string{
			"spendingKey":       keys.SpendingKey.String(),
			"viewingKey":        keys.ViewingKey.String(),
			"spendingPublicKey": keys.SpendingPublicKey.String(),
			"viewingPublicKey":  keys.ViewingPublicKey.String(),
		})
	},
}

var stealthAddressCmd = &cobra.Command{
	Use:   "address <spending public key> <viewing public key>",
	Short: "Derive a one-time address for a recipient",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		spending, err := solana.PublicKeyFromBase58(args[0])
		if err != nil {
			return fmt.Errorf("spending public key: %w", err)
		}
		viewing, err := solana.PublicKeyFromBase58(args[1])
		if err != nil {
			return fmt.Errorf("viewing public key: %w", err)
		}
		addr, err := stealth.GenerateStealthAddress(spending, viewing)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]string{
			"stealthAddress":     addr.Address.String(),
			"ephemeralPublicKey": addr.EphemeralPublicKey.String(),
			"viewTag":            hex.EncodeToString(addr.ViewTag[:]),
		})
	},
}

var stealthSweepCmd = &cobra.Command{
	Use:   "sweep <viewing key> <spending key> <ephemeral public key> <view tag> <destination>",
	Short: "Move the funds of a received stealth payment to another account",
	Args:  cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		viewing, err := stealth.PrivateKeyFromBase58(args[0])
		if err != nil {
			return fmt.Errorf("viewing key: %w", err)
		}
		spending, err := stealth.PrivateKeyFromBase58(args[1])
		if err != nil {
			return fmt.Errorf("spending key: %w", err)
		}
		ephemeral, err := solana.PublicKeyFromBase58(args[2])
		if err != nil {
			return fmt.Errorf("ephemeral public key: %w", err)
		}
		var tag stealth.ViewTag
		raw, err := hex.DecodeString(args[3])
		if err != nil || len(raw) != len(tag) {
			return fmt.Errorf("view tag must be %d hex encoded bytes", len(tag))
		}
		copy(tag[:], raw)
		to, err := solana.PublicKeyFromBase58(args[4])
		if err != nil {
			return fmt.Errorf("destination: %w", err)
		}
		matches, err := stealth.ScanForPayments([]solana.PublicKey{ephemeral}, []stealth.ViewTag{tag},
			viewing, spending)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			return fmt.Errorf("payment does not belong to these keys")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		chain, err := solanachain.New(solanachain.Config{
			Endpoint:       cfg.Chain.Endpoint,
			ConfirmTimeout: cfg.Chain.ConfirmTimeout,
			PollInterval:   cfg.Chain.PollInterval,
		})
		if err != nil {
			return err
		}
		sig, lamports, err := chain.SweepStealth(context.Background(), matches[0].PrivateKey, to)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{
			"stealthAddress": matches[0].Address.String(),
			"signature":      sig,
			"lamports":       lamports,
		})
	},
}

func init() {
	stealthCmd.AddCommand(stealthKeygenCmd, stealthAddressCmd, stealthSweepCmd)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
