package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"github.com/rpattn/tracelift/internal/domain"
	"github.com/rpattn/tracelift/internal/ingestion"
	"github.com/rpattn/tracelift/internal/lifecycle"
)

const (
	waitTimeSeconds   = 20
	maxMessages       = 10
	receiveBackoff    = 5 * time.Second
	visibilityTimeout = 60

	defaultProcessTimeout = 2 * time.Minute
)

// PipelineRunner is the pipeline entry point the consumer drives.
type PipelineRunner interface {
	Process(ctx context.Context, req ingestion.ProcessRequest) (ingestion.ProcessResult, error)
}

// sqsAPI is the subset of the SQS client the consumer uses.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// uploadEvent is the upload-completion message published by the storage
// collaborator. Delivery is at-least-once and unordered; the version check in
// the engine is the correctness mechanism, not queue ordering.
type uploadEvent struct {
	TracingID uuid.UUID `json:"tracingId"`
	TenantID  uuid.UUID `json:"tenantId"`
	Date      string    `json:"date"`
	Version   int       `json:"version"`
}

// Consumer polls upload-completion events and runs each through the pipeline.
type Consumer struct {
	client         sqsAPI
	queueURL       string
	pipeline       PipelineRunner
	processTimeout time.Duration
}

// Option customizes the consumer.
type Option func(*Consumer)

// WithProcessTimeout bounds each per-message pipeline run. A run that exceeds
// the budget fails as a retryable timeout and the message is redelivered.
func WithProcessTimeout(timeout time.Duration) Option {
	return func(c *Consumer) {
		if timeout > 0 {
			c.processTimeout = timeout
		}
	}
}

// NewConsumer builds an SQS-backed consumer.
func NewConsumer(ctx context.Context, region, endpoint, queueURL string, pipeline PipelineRunner, opts ...Option) (*Consumer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return newConsumerWithClient(client, queueURL, pipeline, opts...), nil
}

// newConsumerWithClient is used by tests to inject a stub client.
func newConsumerWithClient(client sqsAPI, queueURL string, pipeline PipelineRunner, opts ...Option) *Consumer {
	consumer := &Consumer{
		client:         client,
		queueURL:       queueURL,
		pipeline:       pipeline,
		processTimeout: defaultProcessTimeout,
	}
	for _, opt := range opts {
		opt(consumer)
	}
	return consumer
}

// Run polls until the context is cancelled. Messages are deleted once their
// tracing reached a terminal outcome (including "already resolved" concurrency
// rejections); infrastructure failures leave the message for redelivery.
func (c *Consumer) Run(ctx context.Context) {
	log.Printf("[SQS] consuming %s", c.queueURL)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: maxMessages,
			WaitTimeSeconds:     waitTimeSeconds,
			VisibilityTimeout:   visibilityTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[SQS] receive failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(receiveBackoff):
			}
			continue
		}

		for _, message := range out.Messages {
			if c.handleMessage(ctx, message) {
				c.deleteMessage(ctx, message)
			}
		}
	}
}

// handleMessage reports whether the message is finished and may be deleted.
func (c *Consumer) handleMessage(ctx context.Context, message sqstypes.Message) bool {
	var body string
	if message.Body != nil {
		body = *message.Body
	}

	var event uploadEvent
	if err := json.Unmarshal([]byte(body), &event); err != nil {
		log.Printf("[SQS] dropping malformed message: %v", err)
		return true
	}
	if event.TracingID == uuid.Nil || event.TenantID == uuid.Nil {
		log.Printf("[SQS] dropping message without tracing/tenant id")
		return true
	}

	date, err := time.Parse(domain.DateLayout, event.Date)
	if err != nil {
		log.Printf("[SQS] dropping message with invalid date %q: %v", event.Date, err)
		return true
	}

	// Bound the run so one hung store call never stalls the poll loop.
	processCtx, cancel := context.WithTimeout(ctx, c.processTimeout)
	defer cancel()

	result, err := c.pipeline.Process(processCtx, ingestion.ProcessRequest{
		TracingID:       event.TracingID,
		TenantID:        event.TenantID,
		Date:            date,
		ExpectedVersion: event.Version,
	})
	if err != nil {
		// A lost version race means another delivery (or an operator cancel)
		// already resolved this tracing; do not retry blindly.
		if errors.Is(err, lifecycle.ErrConcurrentModification) || errors.Is(err, lifecycle.ErrInvalidTransition) {
			log.Printf("[SQS] tracing %s already resolved: %v", event.TracingID, err)
			return true
		}
		log.Printf("[SQS] tracing %s retryable failure: %v", event.TracingID, err)
		return false
	}

	log.Printf("[SQS] tracing %s processed -> %s (version %d, replayed=%t)",
		event.TracingID, result.State, result.Version, result.Replayed)
	return true
}

func (c *Consumer) deleteMessage(ctx context.Context, message sqstypes.Message) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: message.ReceiptHandle,
	})
	if err != nil {
		log.Printf("[SQS] delete failed: %v", err)
	}
}
