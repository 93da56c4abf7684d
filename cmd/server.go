package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/changeorder/api"
	"example.com/backstage/services/changeorder/handlers"
	"example.com/backstage/services/changeorder/messaging"
	"example.com/backstage/services/changeorder/metrics"
	"example.com/backstage/services/changeorder/projections"
	"example.com/backstage/services/changeorder/telemetry"
)

var (
	withWorker      bool
	disableNewRelic bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server",
	RunE:  runServer,
}

func init() {
	serverCmd.Flags().BoolVar(&withWorker, "with-worker", false, "also run the outbox worker in this process")
	serverCmd.Flags().BoolVar(&disableNewRelic, "disable-newrelic", false, "Disable New Relic monitoring")
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	log.Info().Msg("Starting server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends()
	if err != nil {
		return err
	}
	defer b.Close()

	m := metrics.New("changeorder")

	opts := []handlers.HandlerOption{handlers.WithMetrics(m)}

	// Keep the search index of case summaries current
	if cfg.Elasticsearch.Enabled {
		esClient, err := projections.NewElasticsearchClient(cfg.Elasticsearch)
		if err != nil {
			return err
		}
		if err := projections.EnsureIndices(ctx, esClient, cfg.Elasticsearch.Prefix); err != nil {
			return err
		}
		opts = append(opts, handlers.WithNotifier(projections.NewCaseIndexer(esClient, cfg.Elasticsearch.Prefix)))
	}

	// Initialize command handler
	caseHandler := handlers.NewCaseHandler(b.store, b.cache, opts...)

	var serverOpts []api.ServerOption
	if !disableNewRelic {
		nrApp, err := telemetry.InitNewRelic(cfg.NewRelic)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize New Relic, continuing without tracing")
		} else if nrApp != nil {
			defer telemetry.Shutdown(nrApp)
			serverOpts = append(serverOpts, api.WithNewRelic(nrApp))
		}
	}

	server := api.NewServer(cfg.Server, caseHandler, m, serverOpts...)

	g, gctx := errgroup.WithContext(ctx)

	var azureClient *messaging.AzureClient
	if cfg.Azure.Enabled {
		azureClient, err = messaging.NewAzureClient(cfg.Azure)
		if err != nil {
			return err
		}
		defer func() {
			if err := azureClient.Close(context.Background()); err != nil {
				log.Error().Err(err).Msg("Failed to close Azure Service Bus client")
			}
		}()

		msgProcessor := messaging.NewProcessor(caseHandler, b.dedup)
		g.Go(func() error {
			log.Info().Str("queue", cfg.Azure.TriggerQueue).Msg("Starting trigger queue consumer")
			return azureClient.StartConsumers(gctx, cfg.Azure.TriggerQueue, msgProcessor)
		})
	}

	if withWorker {
		processor, err := newOutboxProcessor(gctx, b, m, azureClient)
		if err != nil {
			return err
		}
		g.Go(func() error {
			processor.Start(gctx)
			<-gctx.Done()
			processor.Stop()
			return nil
		})
	}

	g.Go(func() error {
		return server.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server error")
		return err
	}

	log.Info().Msg("Server exited properly")
	return nil
}
