package cmd

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/changeorder/handlers"
	"example.com/backstage/services/changeorder/messaging"
	"example.com/backstage/services/changeorder/metrics"
	"example.com/backstage/services/changeorder/projections"
)

var workerMetricsAddr string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the outbox worker",
	Long:  `Start the worker that delivers stored events to the search index and the events queue, and periodically reconciles the metadata cache`,
	RunE:  runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerMetricsAddr, "metrics-addr", "", "serve worker metrics on this address")
	rootCmd.AddCommand(workerCmd)
}

// newOutboxProcessor builds the processor with every enabled sink
func newOutboxProcessor(ctx context.Context, b *backends, m *metrics.Metrics, azureClient *messaging.AzureClient) (*projections.EventProcessor, error) {
	var sinks []projections.EventSink

	if cfg.Elasticsearch.Enabled {
		esClient, err := projections.NewElasticsearchClient(cfg.Elasticsearch)
		if err != nil {
			return nil, err
		}
		if err := projections.EnsureIndices(ctx, esClient, cfg.Elasticsearch.Prefix); err != nil {
			return nil, err
		}
		sinks = append(sinks, projections.NewCaseIndexer(esClient, cfg.Elasticsearch.Prefix))
	}

	if azureClient != nil {
		publisher, err := azureClient.NewPublisher(cfg.Azure.EventsTopic)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, publisher)
	}

	if len(sinks) == 0 {
		log.Warn().Msg("No outbox sinks enabled, events are only marked processed")
	}

	processor := projections.NewEventProcessor(b.store, m, sinks...)
	processor.SetBatchSize(cfg.Outbox.BatchSize)
	processor.SetInterval(cfg.Outbox.Interval)
	return processor, nil
}

// scheduleReconcile rebuilds the metadata cache from the event log on every
// interval, catching entries a failed refresh left behind
func scheduleReconcile(ctx context.Context, caseHandler *handlers.CaseHandler, interval time.Duration) (gocron.Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			log.Info().Msg("Running metadata cache reconciliation")
			n, err := caseHandler.RebuildCache(ctx)
			if err != nil {
				log.Error().Err(err).Int("rebuilt", n).Msg("Failed to reconcile some cases")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}

	return scheduler, nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	log.Info().Msg("Starting worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends()
	if err != nil {
		return err
	}
	defer b.Close()

	m := metrics.New("changeorder_worker")

	var azureClient *messaging.AzureClient
	if cfg.Azure.Enabled {
		azureClient, err = messaging.NewAzureClient(cfg.Azure)
		if err != nil {
			return err
		}
		defer azureClient.Close(context.Background())
	}

	g, gctx := errgroup.WithContext(ctx)

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

	if cfg.Reconcile.Interval > 0 {
		caseHandler := handlers.NewCaseHandler(b.store, b.cache, handlers.WithMetrics(m))
		scheduler, err := scheduleReconcile(gctx, caseHandler, cfg.Reconcile.Interval)
		if err != nil {
			return err
		}
		g.Go(func() error {
			log.Info().Dur("interval", cfg.Reconcile.Interval).Msg("Starting metadata cache reconciliation")
			scheduler.Start()
			<-gctx.Done()
			return scheduler.Shutdown()
		})
	}

	if workerMetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              workerMetricsAddr,
			Handler:           m.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker exited properly")
	return nil
}
