package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kohaku-project/kohaku/internal/model"
	"github.com/kohaku-project/kohaku/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, and revoke the API keys used to authenticate against the Kohaku API.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		owner  string
		scopes []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key for an owner. The plaintext key is shown once and cannot be retrieved again.",
		Example: `  kohaku key create --owner game1-bot --scopes read,notifications:manage
  kohaku key create --owner ci --scopes read`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(owner, scopes)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner the key is issued to (required)")
	cmd.Flags().StringSliceVar(&scopes, "scopes", nil, "Comma-separated scopes granted to the key")
	cmd.MarkFlagRequired("owner")

	return cmd
}

func runKeyCreate(owner string, scopes []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	logger := newCLILogger()
	ctx := context.Background()

	secret, err := resolveSessionSecret(ctx, cfg, st, logger)
	if err != nil {
		return err
	}
	sessions, err := service.NewSessionService([]byte(secret), logger)
	if err != nil {
		return err
	}
	keys := service.NewAPIKeyService(st, sessions, logger)

	plaintext, record, err := keys.Issue(ctx, owner, model.Scopes(scopes))
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API Key created:")
	fmt.Println()
	fmt.Printf("  Key:    %s\n", plaintext)
	fmt.Printf("  Owner:  %s\n", record.Owner)
	fmt.Printf("  Scopes: %s\n", strings.Join(record.Scopes, ", "))
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	keys, err := st.ListAPIKeys(context.Background())
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Println("No API keys stored. Use 'kohaku key create' to create one.")
		return nil
	}

	fmt.Printf("%-6s %-12s %-20s %-32s %s\n", "ID", "PREFIX", "OWNER", "SCOPES", "CREATED")
	fmt.Printf("%-6s %-12s %-20s %-32s %s\n", "--", "------", "-----", "------", "-------")
	for _, k := range keys {
		fmt.Printf("%-6d %-12s %-20s %-32s %s\n",
			k.ID, k.KeyPrefix, k.Owner, strings.Join(k.Scopes, ","),
			k.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <key>",
		Short: "Revoke an API key",
		Long:  "Delete an API key by its full plaintext value, preventing any further use.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(args[0])
		},
	}

	return cmd
}

func runKeyRevoke(plaintext string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	logger := newCLILogger()
	ctx := context.Background()

	secret, err := resolveSessionSecret(ctx, cfg, st, logger)
	if err != nil {
		return err
	}
	sessions, err := service.NewSessionService([]byte(secret), logger)
	if err != nil {
		return err
	}
	keys := service.NewAPIKeyService(st, sessions, logger)

	if err := keys.Revoke(ctx, plaintext); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	fmt.Println("API key revoked.")
	return nil
}
