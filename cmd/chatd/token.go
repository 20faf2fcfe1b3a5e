package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/galaxy-chat/internal/auth"
)

var tokenTTL time.Duration

// tokenCmd mints a bearer token for local testing.
var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Print a signed JWT for the given owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := auth.SignJWT(args[0], cfg.JWTSecret, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
