package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cleanupMediaCmd = &cobra.Command{
	Use:   "cleanup-media",
	Short: "Delete attachments that were never linked to a post",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()
		library, err := openMedia(store)
		if err != nil {
			return err
		}
		removed, err := library.Cleanup(ctx, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d orphaned media files\n", removed)
		return nil
	},
}
