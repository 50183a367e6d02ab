package main

import (
	"encoding/json"
	"fmt"

	"github.com/MarcoPoloResearchLab/spotter/internal/auth"
	"github.com/MarcoPoloResearchLab/spotter/internal/config"
	"github.com/MarcoPoloResearchLab/spotter/internal/database"
	"github.com/MarcoPoloResearchLab/spotter/internal/logging"
	"github.com/MarcoPoloResearchLab/spotter/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type issuedUser struct {
	UserID    int64  `json:"userID"`
	Username  string `json:"username"`
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
}

// newAddUserCommand registers a user and prints a session token for it.
func newAddUserCommand() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "add-user",
		Short: "Register a user and print a session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(appConfig.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
			if err != nil {
				return err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			directory, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
			if err != nil {
				return err
			}
			user, err := directory.Create(cmd.Context(), username)
			if err != nil {
				return err
			}

			issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				Issuer:        appConfig.AuthIssuer,
				TokenTTL:      appConfig.TokenTTL,
			})
			token, expiresIn, err := issuer.Issue(user.UserID, user.Username)
			if err != nil {
				return err
			}

			encoded, err := json.MarshalIndent(issuedUser{
				UserID:    user.UserID,
				Username:  user.Username,
				Token:     token,
				ExpiresIn: expiresIn,
			}, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
			return err
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Username to register")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}
