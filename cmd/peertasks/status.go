package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jaakkos/peertasks/internal/domain"
	"github.com/jaakkos/peertasks/internal/identity"
	"github.com/jaakkos/peertasks/internal/repository"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the local peer id and task counts",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

// runStatus implements "peertasks status". It reads the store directly and
// works whether or not a server is running.
func runStatus(cmd *cobra.Command, args []string) error {
	pol, err := loadPolicy()
	if err != nil {
		return err
	}
	store, err := repository.NewDocumentStore(pol.StateFile(), "", nil)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	peerID, err := identity.NewProvider(store).LocalPeerID(ctx)
	if err != nil {
		return err
	}
	batch, err := store.Snapshot(ctx, domain.TaskQuery())
	if err != nil {
		return err
	}

	open, completed := 0, 0
	for _, r := range batch.Records {
		t, err := domain.TaskFromRecord(r)
		if err != nil {
			continue
		}
		if t.Completed {
			completed++
		} else {
			open++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "peer=%s open=%d completed=%d seq=%d\n", peerID, open, completed, batch.Seq)
	return nil
}
