package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meshcore/meshnet/internal/adapter"
	"github.com/meshcore/meshnet/internal/identity"
)

var keygenDataDir string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate and persist a fresh node identity",
	Long: `Generates a new Ed25519/X25519 identity and seals it under
--data-dir, failing if one already exists there. Equivalent to the
teacher's --new-net flag, split into its own subcommand since identity
creation is a one-time, deliberate operation rather than an implicit
branch of every startup.`,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVar(&keygenDataDir, "data-dir", defaultDataDir(), "directory to store the sealed identity in")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	pass, err := identityPassphrase()
	if err != nil {
		return err
	}

	store, err := adapter.NewFileSecretStore(keygenDataDir, pass)
	if err != nil {
		return fmt.Errorf("open secret store: %w", err)
	}
	if _, err := store.Get("node-identity"); err == nil {
		return fmt.Errorf("an identity already exists under %s (delete it first if you mean to replace it)", keygenDataDir)
	}

	id, err := identity.GenerateIdentity()
	if err != nil {
		return fmt.Errorf("generate identity: %w", err)
	}
	if err := identity.Save(store, id); err != nil {
		return fmt.Errorf("seal identity: %w", err)
	}

	fmt.Fprintf(os.Stdout, "generated identity %s, sealed under %s\n", id.ID, keygenDataDir)
	return nil
}
