package commands

import (
	"errors"
	"fmt"

	"github.com/opd-ai/mtcore/peer"
	"github.com/opd-ai/mtcore/storage"
	"github.com/spf13/cobra"
)

func peersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Query the cached peers",
	}
	cmd.AddCommand(peersLookupCmd())
	return cmd
}

func peersLookupCmd() *cobra.Command {
	var (
		id       int64
		username string
		phone    string
	)

	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Resolve a peer by id, username or phone number",
		RunE: func(cmd *cobra.Command, args []string) error {
			set := 0
			for _, changed := range []bool{cmd.Flags().Changed("id"), username != "", phone != ""} {
				if changed {
					set++
				}
			}
			if set != 1 {
				return errors.New("exactly one of --id, --username or --phone is required")
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var ref peer.Ref
			switch {
			case username != "":
				ref, err = store.PeerByUsername(username)
			case phone != "":
				ref, err = store.PeerByPhone(phone)
			default:
				ref, err = store.PeerByID(id)
			}
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("lookup failed: %w", err)
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), describeRef(ref))
			return nil
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "peer id (marked for chats and channels)")
	cmd.Flags().StringVar(&username, "username", "", "cached username")
	cmd.Flags().StringVar(&phone, "phone", "", "cached phone number")
	return cmd
}

func describeRef(ref peer.Ref) string {
	switch r := ref.(type) {
	case peer.UserRef:
		return fmt.Sprintf("user id=%d access_hash=%d", r.UserID, r.AccessHash)
	case peer.ChatRef:
		return fmt.Sprintf("chat id=%d peer_id=%d", r.ChatID, r.PeerID())
	case peer.ChannelRef:
		return fmt.Sprintf("channel id=%d peer_id=%d access_hash=%d", r.ChannelID, r.PeerID(), r.AccessHash)
	default:
		return fmt.Sprintf("peer %d", ref.PeerID())
	}
}
