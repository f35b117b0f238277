package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spigotd/spigot/internal/auth"
	"github.com/spigotd/spigot/internal/model"
	"github.com/spigotd/spigot/internal/store"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, and revoke API keys used to authenticate against the inference API.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		username string
		label    string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key bound to a user. The raw key is shown once and cannot be retrieved again.",
		Example: `  spigot key create --user alice --label "CI pipeline"
  spigot key create --user admin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(username, label)
		},
	}

	cmd.Flags().StringVar(&username, "user", "", "Username to bind the key to (required)")
	cmd.Flags().StringVar(&label, "label", "", "Human-readable label for the key")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runKeyCreate(username, label string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	user, err := st.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("look up user %q: %w", username, err)
	}

	rawKey, err := auth.NewAPIKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	apiKey := &model.APIKey{
		KeyHash:   store.HashSecret(rawKey),
		KeyPrefix: auth.APIKeyDisplayPrefix(rawKey),
		Label:     label,
		UserID:    user.ID,
		IsActive:  true,
	}

	if err := st.CreateAPIKey(ctx, apiKey); err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API Key created:")
	fmt.Println()
	fmt.Printf("  Key:   %s\n", rawKey)
	fmt.Printf("  User:  %s\n", username)
	if label != "" {
		fmt.Printf("  Label: %s\n", label)
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		username   string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a user's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(username, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&username, "user", "", "Username whose keys to list (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runKeyList(username string, jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	user, err := st.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("look up user %q: %w", username, err)
	}

	keys, err := st.ListAPIKeysByUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Printf("No API keys for %q. Use 'spigot key create' to create one.\n", username)
		return nil
	}

	fmt.Printf("%-6s %-12s %-24s %-8s\n", "ID", "PREFIX", "LABEL", "ACTIVE")
	fmt.Printf("%-6s %-12s %-24s %-8s\n", "--", "------", "-----", "------")
	for i := range keys {
		k := &keys[i]
		active := "yes"
		if !k.IsActive {
			active = "no"
		}
		fmt.Printf("%-6d %-12s %-24s %-8s\n", k.ID, k.KeyPrefix, k.Label, active)
	}

	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "revoke <prefix>",
		Short: "Revoke an API key by its prefix",
		Long:  "Deactivate an API key, preventing any further authenticated requests using that key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(username, args[0])
		},
	}

	cmd.Flags().StringVar(&username, "user", "", "Username who owns the key (required)")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runKeyRevoke(username, prefix string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	user, err := st.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("look up user %q: %w", username, err)
	}

	keys, err := st.ListAPIKeysByUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	// Find key whose prefix starts with the given prefix
	var matched *model.APIKey
	for i := range keys {
		if strings.HasPrefix(keys[i].KeyPrefix, prefix) {
			matched = &keys[i]
			break
		}
	}
	if matched == nil {
		return fmt.Errorf("no API key found with prefix %q", prefix)
	}

	if err := st.RevokeAPIKey(ctx, matched.ID, user.ID); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Printf("Revoked API key with prefix %q\n", matched.KeyPrefix)
	return nil
}
