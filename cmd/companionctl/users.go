package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mycelian/mycelian-companion/companionservice"
	"github.com/mycelian/mycelian-companion/internal/api/validate"
	"github.com/mycelian/mycelian-companion/internal/model"
)

func newUsersCmd(a *app) *cobra.Command {
	usersCmd := &cobra.Command{Use: "users", Short: "User operations"}

	// add
	var userID, tz, phone string
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a user with the companion",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validate.UserID(userID); err != nil {
				return err
			}
			if tz != "" {
				if _, err := time.LoadLocation(tz); err != nil {
					return fmt.Errorf("invalid time zone %q: %w", tz, err)
				}
			}
			return a.with(cmd.Context(), func(c *companionservice.Components) error {
				u, err := c.Store.Users().Create(cmd.Context(), &model.User{
					ID:          userID,
					Timezone:    tz,
					PhoneNumber: phone,
					CreatedAt:   c.Clock.Now(),
				})
				if err != nil {
					return err
				}
				return a.printJSON(u)
			})
		},
	}
	addCmd.Flags().StringVarP(&userID, "userId", "u", "", "User ID (required)")
	addCmd.Flags().StringVarP(&tz, "tz", "t", "", "IANA time zone (defaults to the service default)")
	addCmd.Flags().StringVarP(&phone, "phone", "p", "", "Phone number for batched messages")
	_ = addCmd.MarkFlagRequired("userId")
	usersCmd.AddCommand(addCmd)

	// list
	usersCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd.Context(), func(c *companionservice.Components) error {
				us, err := c.Store.Users().List(cmd.Context())
				if err != nil {
					return err
				}
				if us == nil {
					us = []*model.User{}
				}
				return a.printJSON(us)
			})
		},
	})
	return usersCmd
}

func newCredentialCmd(a *app) *cobra.Command {
	var provider, apiKey, baseURL, modelName string
	cmd := &cobra.Command{
		Use:   "credential USER_ID",
		Short: "Store a user's text-generation credential (encrypted when enabled)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				return fmt.Errorf("--key required")
			}
			return a.with(cmd.Context(), func(c *companionservice.Components) error {
				sealed, err := c.Encryptor.Encrypt(args[0], apiKey)
				if err != nil {
					return fmt.Errorf("encrypt credential: %w", err)
				}
				if err := c.Store.Credentials().Put(cmd.Context(), &model.Credential{
					UserID:    args[0],
					Provider:  provider,
					APIKey:    sealed,
					BaseURL:   baseURL,
					Model:     modelName,
					UpdatedAt: c.Clock.Now(),
				}); err != nil {
					return err
				}
				return a.printJSON(map[string]any{"userId": args[0], "provider": provider, "stored": true})
			})
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "openai", "Provider name")
	cmd.Flags().StringVarP(&apiKey, "key", "k", "", "API key (required)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Override the OpenAI-compatible base URL")
	cmd.Flags().StringVar(&modelName, "model", "", "Override the generation model")
	return cmd
}
