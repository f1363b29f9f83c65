package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lowaccess/tailgate/internal/server/db"
)

// resolveDBPath returns the database path from the flag or TAILGATE_DB_PATH,
// falling back to the server's default.
func resolveDBPath(cmd *cobra.Command, flagValue string) string {
	if cmd.Flags().Changed("db") {
		return flagValue
	}
	if v := os.Getenv("TAILGATE_DB_PATH"); v != "" {
		return v
	}
	return "tailgate.db"
}

func openStore(cmd *cobra.Command, dbPath string) (*db.Store, error) {
	path := resolveDBPath(cmd, dbPath)
	store, err := db.NewStore(path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return store, nil
}

func newAccountsCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect and manage gateway accounts",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "tailgate.db", "SQLite database path (or TAILGATE_DB_PATH)")

	var asJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all accounts with their approval status",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd, dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			accounts, err := store.ListAccounts()
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(accounts)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "EMAIL\tNAME\tSTATUS\tCREATED\tLAST LOGIN")
			for _, a := range accounts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					a.Email, a.Name, a.Status,
					a.CreatedAt.Format("2006-01-02 15:04"),
					a.LastLogin.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
	listCmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	setStatus := func(use, short string, to db.Status) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <email>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openStore(cmd, dbPath)
				if err != nil {
					return err
				}
				defer store.Close()

				if err := store.SetAccountStatus(args[0], to); err != nil {
					return err
				}
				fmt.Printf("%s is now %s\n", args[0], to)
				return nil
			},
		}
	}

	grantCmd := &cobra.Command{
		Use:   "grant <email> <permission>",
		Short: "Grant an extra permission to an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd, dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.GrantPermission(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("granted %q to %s\n", args[1], args[0])
			return nil
		},
	}

	permissionsCmd := &cobra.Command{
		Use:   "permissions <email>",
		Short: "List the permissions granted to an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd, dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			perms, err := store.ListPermissions(args[0])
			if err != nil {
				return err
			}
			if len(perms) == 0 {
				fmt.Printf("%s has no extra permissions\n", args[0])
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PERMISSION\tGRANTED")
			for _, p := range perms {
				fmt.Fprintf(w, "%s\t%s\n", p.Permission, p.GrantedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(listCmd)
	cmd.AddCommand(setStatus("approve", "Approve a pending account", db.StatusApproved))
	cmd.AddCommand(setStatus("deny", "Deny a pending account", db.StatusDenied))
	cmd.AddCommand(grantCmd)
	cmd.AddCommand(permissionsCmd)
	return cmd
}
