package main

import (
	"context"
	"fmt"

	"github.com/ethpandaops/gymdesk/pkg/api/store"
	"github.com/ethpandaops/gymdesk/pkg/auth"
	"github.com/spf13/cobra"
)

var initAdminCmd = &cobra.Command{
	Use:   "init-admin",
	Short: "Create the admin account from auth.bootstrap",
	Long: `Create the single admin account from the auth.bootstrap settings. The
password must satisfy the password policy. Does nothing if an admin
already exists.`,
	RunE: runInitAdmin,
}

func init() {
	rootCmd.AddCommand(initAdminCmd)
}

func runInitAdmin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	boot := cfg.Auth.Bootstrap
	if boot.Username == "" || boot.Password == "" {
		return fmt.Errorf("auth.bootstrap.username and auth.bootstrap.password are required")
	}

	if err := auth.CheckPasswordPolicy(boot.Password); err != nil {
		return fmt.Errorf("auth.bootstrap.password: %w", err)
	}

	ctx := context.Background()

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Failed to close store")
		}
	}()

	created, err := st.EnsureAdmin(ctx, store.AdminSeed{
		Username:    auth.SanitizeUsername(boot.Username),
		Password:    boot.Password,
		RecoveryKey: boot.RecoveryKey,
	})
	if err != nil {
		return fmt.Errorf("creating admin: %w", err)
	}

	if !created {
		log.Info("An admin already exists, nothing to do")

		return nil
	}

	log.WithField("username", boot.Username).
		WithField("recovery_key", boot.RecoveryKey != "").
		Info("Admin created")

	return nil
}
