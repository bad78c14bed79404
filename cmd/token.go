package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/akylbek/payment-system/payment-service/internal/auth"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token [subject]",
	Short: "Issue a bearer token for the payment API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		verifier, err := auth.NewVerifier(cfg.JWTSecretKey, cfg.JWTAlgorithm)
		if err != nil {
			return err
		}
		token, err := verifier.Issue(args[0], tokenTTL)
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
}
