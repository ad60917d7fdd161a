package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vheikkil/gdrive-go/internal/config"
	"github.com/vheikkil/gdrive-go/internal/drive"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize gdrive-go with your Google account",
		Long: `Authorize gdrive-go using the OAuth2 device flow. A code and URL are
printed; open the URL in any browser, enter the code, and approve access.
The resulting token is saved locally and refreshed automatically.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved credentials",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	creds := drive.ClientCredentials{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
	}

	display := func(da drive.DeviceAuth) {
		fmt.Printf("To authorize, open %s\n", da.VerificationURI)
		fmt.Printf("and enter the code: %s\n", da.UserCode)
	}

	if _, err := drive.Login(cmd.Context(), config.DefaultTokenPath(), creds, display, logger); err != nil {
		return err
	}

	statusf("Logged in.\n")

	return nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	if err := drive.Logout(config.DefaultTokenPath(), logger); err != nil {
		return err
	}

	statusf("Logged out.\n")

	return nil
}
