package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wiresignal-server/internal/auth"
	"github.com/vovakirdan/wiresignal-server/internal/config"
	"github.com/vovakirdan/wiresignal-server/internal/log"
)

func newTokenCmd() *cobra.Command {
	var (
		peerID string
		ttl    time.Duration
		secret string
		issuer string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a peer token for servers that require JWT auth",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if peerID == "" {
				return errors.New("--id is required")
			}

			if secret == "" {
				configPath, _ := cmd.Flags().GetString("config")
				cfg, _, err := config.Load(log.NewWithWriter(cmd.ErrOrStderr(), "warn", "console"), configPath)
				if err != nil {
					return err
				}
				secret = cfg.JWTSecret
				if !cmd.Flags().Changed("issuer") {
					issuer = cfg.JWTIssuer
				}
			}
			if secret == "" {
				return errors.New("no jwt secret: pass --secret or set jwt_secret in config")
			}

			token, err := auth.GenerateToken(&auth.JWTConfig{
				Secret: []byte(secret),
				Issuer: issuer,
				TTL:    ttl,
			}, peerID, time.Now())
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&peerID, "id", "", "peer id the token is issued for")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (defaults to jwt_secret from config)")
	cmd.Flags().StringVar(&issuer, "issuer", "", "token issuer (defaults to jwt_issuer from config)")
	return cmd
}
