package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserDeactivateCmd())

	return cmd
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all user accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runUserList(jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	users, err := st.ListUsers(context.Background(), 500, 0)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(users)
	}

	if len(users) == 0 {
		fmt.Println("No accounts yet. Use 'spigot admin create' to create one.")
		return nil
	}

	fmt.Printf("%-6s %-20s %-30s %-8s %-8s\n", "ID", "USERNAME", "EMAIL", "ROLE", "ACTIVE")
	fmt.Printf("%-6s %-20s %-30s %-8s %-8s\n", "--", "--------", "-----", "----", "------")
	for i := range users {
		u := &users[i]
		active := "yes"
		if !u.IsActive {
			active = "no"
		}
		fmt.Printf("%-6d %-20s %-30s %-8s %-8s\n", u.ID, u.Username, u.Email, u.Role(), active)
	}

	return nil
}

// ---------- user deactivate ----------

func newUserDeactivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deactivate <username>",
		Short: "Deactivate a user account",
		Long:  "Deactivate an account so its credentials stop resolving. Usage history is preserved.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserDeactivate(args[0])
		},
	}

	return cmd
}

func runUserDeactivate(username string) error {
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

	user.IsActive = false
	if err := st.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}

	fmt.Printf("Deactivated account %q\n", username)
	return nil
}
