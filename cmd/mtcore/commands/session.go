package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/mtcore/crypto"
	"github.com/opd-ai/mtcore/storage"
	"github.com/spf13/cobra"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Create, inspect and move session stores",
	}
	cmd.AddCommand(sessionInitCmd(), sessionShowCmd(), sessionExportCmd(), sessionImportCmd())
	return cmd
}

func sessionInitCmd() *cobra.Command {
	var (
		dcID     int
		testMode bool
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a session store pointing at a datacenter",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dcID < 1 || dcID > 5 {
				return fmt.Errorf("dc must be between 1 and 5, got %d", dcID)
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if _, err := store.AuthKey(); err == nil && !force {
				return fmt.Errorf("%s already holds a session (use --force to reset it)", cfg.Session.Path)
			} else if err != nil && !errors.Is(err, storage.ErrNoSession) {
				return err
			}

			for _, step := range []func() error{
				func() error { return store.SetAuthKey(nil) },
				func() error { return store.SetDCID(dcID) },
				func() error { return store.SetTestMode(testMode) },
				store.Save,
			} {
				if err := step(); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Session store %s initialized for dc %d (test=%t).\n", cfg.Session.Path, dcID, testMode)
			return nil
		},
	}

	cmd.Flags().IntVar(&dcID, "dc", 2, "datacenter id")
	cmd.Flags().BoolVar(&testMode, "test", false, "use the test datacenters")
	cmd.Flags().BoolVar(&force, "force", false, "discard an existing auth key")
	return cmd
}

func sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the stored session fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			dcID, err := store.DCID()
			if err != nil {
				return err
			}
			testMode, err := store.TestMode()
			if err != nil {
				return err
			}
			userID, err := store.UserID()
			if err != nil {
				return err
			}
			isBot, err := store.IsBot()
			if err != nil {
				return err
			}
			date, err := store.Date()
			if err != nil {
				return err
			}
			version, err := store.Version()
			if err != nil {
				return err
			}
			peers, err := store.PeerCount()
			if err != nil {
				return err
			}

			authKey := "none"
			key, err := store.AuthKey()
			switch {
			case err == nil:
				authKey = fmt.Sprintf("%d bytes, %s", len(key), crypto.SecureFieldHash(key, "auth_key")["auth_key_preview"])
			case !errors.Is(err, storage.ErrNoSession):
				return err
			}

			saved := "never"
			if date.Unix() > 0 {
				saved = date.UTC().Format(time.RFC3339)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Path:      %s\n", cfg.Session.Path)
			fmt.Fprintf(out, "Version:   %d\n", version)
			fmt.Fprintf(out, "DC:        %d\n", dcID)
			fmt.Fprintf(out, "Test mode: %t\n", testMode)
			fmt.Fprintf(out, "Auth key:  %s\n", authKey)
			fmt.Fprintf(out, "User ID:   %d\n", userID)
			fmt.Fprintf(out, "Bot:       %t\n", isBot)
			fmt.Fprintf(out, "Saved:     %s\n", saved)
			fmt.Fprintf(out, "Peers:     %d\n", peers)
			return nil
		},
	}
}

func sessionExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print the session as a portable string",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			s, err := store.ExportSessionString()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	}
}

func sessionImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <session-string>",
		Short: "Load a session string into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.ImportSessionString(args[0]); err != nil {
				return err
			}
			if err := store.Save(); err != nil {
				return err
			}
			dcID, err := store.DCID()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session imported into %s (dc %d).\n", cfg.Session.Path, dcID)
			return nil
		},
	}
}
