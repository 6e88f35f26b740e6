package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage the session signing secret",
	}

	cmd.AddCommand(newSecretSetCmd())
	cmd.AddCommand(newSecretRotateCmd())

	return cmd
}

func newSecretSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set the session signing secret",
		Long: `Store the secret used to sign session tokens. The secret is prompted
without echo and written to the settings store. Changing it invalidates all
outstanding session tokens.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSecretSet()
		},
	}
	return cmd
}

func runSecretSet() error {
	fmt.Print("Secret: ")
	secretBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("read secret: %w", err)
	}
	fmt.Println()

	fmt.Print("Confirm secret: ")
	confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("read confirmation: %w", err)
	}
	fmt.Println()

	if string(secretBytes) != string(confirmBytes) {
		return fmt.Errorf("secrets do not match")
	}
	if len(secretBytes) < 16 {
		return fmt.Errorf("secret must be at least 16 characters")
	}

	return storeSecret(string(secretBytes))
}

func newSecretRotateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Replace the session signing secret with a random one",
		Long:  "Generate a new random secret and store it. All outstanding session tokens become invalid.",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := randomSecret()
			if err != nil {
				return err
			}
			if err := storeSecret(secret); err != nil {
				return err
			}
			fmt.Println("Session secret rotated. Outstanding tokens are now invalid.")
			return nil
		},
	}
	return cmd
}

func storeSecret(secret string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.SetSetting(context.Background(), sessionSecretKey, secret); err != nil {
		return fmt.Errorf("store secret: %w", err)
	}
	fmt.Println("Session secret stored.")
	return nil
}
