package main

import (
	"fmt"
	"time"

	"meetcore/internal/core/services"

	"github.com/spf13/cobra"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the inspection API",
	RunE:  tokenMain,
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenSubject, "subject", "s", "operator", "token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")

	rootCmd.AddCommand(tokenCmd)
}

func tokenMain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not set")
	}

	token, err := services.NewAuthService(cfg.Auth.JWTSecret, tokenTTL).GenerateToken(tokenSubject, services.ScopeInspect)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
