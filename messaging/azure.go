package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"example.com/backstage/services/changeorder/config"
)

// defaultMaxSessions bounds concurrent sessions when none is configured
const defaultMaxSessions = 4

type AzureClient struct {
	client   *azservicebus.Client
	sessions *semaphore.Weighted
}

func NewAzureClient(cfg config.AzureConfig) (*AzureClient, error) {
	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnStr, nil)
	if err != nil {
		return nil, err
	}

	return &AzureClient{client: client, sessions: newSessionLimiter(cfg.MaxConcurrent)}, nil
}

func newSessionLimiter(max int) *semaphore.Weighted {
	if max <= 0 {
		max = defaultMaxSessions
	}
	return semaphore.NewWeighted(int64(max))
}

// NewPublisher creates a publisher sending to queueName
func (a *AzureClient) NewPublisher(queueName string) (*Publisher, error) {
	sender, err := a.client.NewSender(queueName, nil)
	if err != nil {
		return nil, err
	}
	return NewPublisher(sender), nil
}

// StartConsumers accepts sessions on queueName until ctx is done. Triggers
// for one case share a session, so they are handled in order.
func (a *AzureClient) StartConsumers(ctx context.Context, queueName string, processor MessageProcessor) error {
	log.Info().Msgf("Starting consumers for queue %s", queueName)

	// Loop continuously to handle reconnections
	for {
		// Wait for a free slot before taking another session
		if err := a.sessions.Acquire(ctx, 1); err != nil {
			return nil
		}

		sessionReceiver, err := a.client.AcceptNextSessionForQueue(ctx, queueName, nil)
		if err != nil {
			a.sessions.Release(1)
			if ctx.Err() != nil {
				return nil
			}
			var sbErr *azservicebus.Error
			if errors.As(err, &sbErr) && sbErr.Code == azservicebus.CodeTimeout {
				log.Debug().Msg("No session available, waiting...")
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return nil
				}
				continue
			}
			return err
		}

		log.Info().Msgf("Session '%s' received", sessionReceiver.SessionID())

		go func() {
			defer a.sessions.Release(1)
			a.handleSession(ctx, sessionReceiver, processor)
		}()
	}
}

func (a *AzureClient) handleSession(ctx context.Context, receiver *azservicebus.SessionReceiver, processor MessageProcessor) {
	defer func() {
		log.Info().Msgf("Closing session '%s'", receiver.SessionID())
		if err := receiver.Close(context.Background()); err != nil {
			log.Error().Err(err).Msgf("Error closing session '%s'", receiver.SessionID())
		}
	}()

	// Process messages in batches
	for {
		messages, err := receiver.ReceiveMessages(ctx, 10, nil)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msgf("Error receiving messages from session '%s'", receiver.SessionID())
			}
			return
		}

		if len(messages) == 0 {
			// No more messages in this session
			return
		}

		log.Info().Msgf("Received %d messages from session '%s'", len(messages), receiver.SessionID())

		for _, message := range messages {
			settle(ctx, receiver, message, processor.ProcessMessage(ctx, message))
		}
	}
}

// settler is the part of a receiver used to settle messages
type settler interface {
	CompleteMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.CompleteMessageOptions) error
	AbandonMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.AbandonMessageOptions) error
	DeadLetterMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.DeadLetterOptions) error
}

// settle completes handled messages, dead-letters permanent failures and
// returns the rest to the queue for redelivery
func settle(ctx context.Context, receiver settler, message *azservicebus.ReceivedMessage, procErr error) {
	if procErr == nil {
		if err := receiver.CompleteMessage(ctx, message, nil); err != nil {
			log.Error().Err(err).Msgf("(CompleteMessage) err: %v", err)
		}
		return
	}

	log.Error().Err(procErr).Msgf("Error processing message '%s'", message.MessageID)

	if IsPermanent(procErr) {
		reason := "rejected"
		description := procErr.Error()
		if err := receiver.DeadLetterMessage(ctx, message, &azservicebus.DeadLetterOptions{
			Reason:           &reason,
			ErrorDescription: &description,
		}); err != nil {
			log.Error().Err(err).Msgf("(DeadLetterMessage) err: %v", err)
		}
		return
	}

	if err := receiver.AbandonMessage(ctx, message, nil); err != nil {
		log.Error().Err(err).Msgf("(AbandonMessage) err: %v", err)
	}
}

// Close closes the underlying client
func (a *AzureClient) Close(ctx context.Context) error {
	return a.client.Close(ctx)
}
