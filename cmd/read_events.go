package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"example.com/backstage/services/changeorder/domain"
	"example.com/backstage/services/changeorder/utils"
)

var readEventsPretty bool

var readEventsCmd = &cobra.Command{
	Use:   "read-events [case-id]",
	Short: "Print the event log of a case as JSON lines",
	Args:  cobra.ExactArgs(1),
	RunE:  runReadEvents,
}

func init() {
	readEventsCmd.Flags().BoolVar(&readEventsPretty, "pretty", false, "indent each event")
	rootCmd.AddCommand(readEventsCmd)
}

func runReadEvents(cmd *cobra.Command, args []string) error {
	b, err := openBackends()
	if err != nil {
		return err
	}
	defer b.Close()

	events, version, err := b.store.GetEvents(context.Background(), args[0])
	if err != nil {
		return err
	}
	if version == 0 {
		return &domain.NotFoundError{CaseID: args[0]}
	}

	if readEventsPretty {
		for _, event := range events {
			out, err := utils.PrettyPrint(event)
			if err != nil {
				return fmt.Errorf("failed to encode event %d: %w", event.Position, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
		}
		return nil
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, event := range events {
		if err := enc.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event %d: %w", event.Position, err)
		}
	}
	return nil
}
