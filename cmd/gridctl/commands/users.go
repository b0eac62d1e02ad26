package commands

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"regionsim.ai/internal/users"
)

func usersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "users", Short: "Manage user accounts"}
	var (
		email string
		level int
	)
	create := &cobra.Command{
		Use:   "create <first> <last>",
		Short: "Create a user account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			store := db.Users()
			if _, err := store.GetUserAccountByName(ctx, a.scope, args[0], args[1]); err == nil {
				return fmt.Errorf("user %s %s already exists", args[0], args[1])
			} else if !errors.Is(err, users.ErrNotFound) {
				return err
			}
			acc := users.UserAccount{
				PrincipalID: uuid.New(),
				ScopeID:     a.scope,
				FirstName:   args[0],
				LastName:    args[1],
				Email:       email,
				UserLevel:   level,
			}
			if err := store.StoreUserAccount(ctx, acc); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "created %s %s\n", acc.Name(), acc.PrincipalID)
			return nil
		},
	}
	create.Flags().StringVar(&email, "email", "", "account email")
	create.Flags().IntVar(&level, "level", 0, "user level (200 and above may edit any terrain)")
	cmd.AddCommand(create)
	return cmd
}
