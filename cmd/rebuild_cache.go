package cmd

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/backstage/services/changeorder/handlers"
)

var rebuildCacheCmd = &cobra.Command{
	Use:   "rebuild-cache",
	Short: "Replay every case and overwrite its metadata",
	RunE:  runRebuildCache,
}

func init() {
	rootCmd.AddCommand(rebuildCacheCmd)
}

func runRebuildCache(cmd *cobra.Command, args []string) error {
	b, err := openBackends()
	if err != nil {
		return err
	}
	defer b.Close()

	caseHandler := handlers.NewCaseHandler(b.store, b.cache)
	n, err := caseHandler.RebuildCache(context.Background())
	if err != nil {
		log.Error().Err(err).Int("rebuilt", n).Msg("Cache rebuild finished with failures")
		return err
	}

	log.Info().Int("cases", n).Msg("Cache rebuild finished")
	return nil
}
