package queue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-service/internal/interfaces"
	"github.com/akylbek/payment-system/payment-service/internal/models"
	"github.com/akylbek/payment-system/payment-service/internal/telemetry"
)

// SQSQueue uses an SQS queue. A message is deleted only after the handler
// succeeds; otherwise it becomes visible again after the queue's visibility
// timeout.
type SQSQueue struct {
	client   *sqs.Client
	queueURL string
}

func NewSQSQueue(ctx context.Context, region, queueURL string) (*SQSQueue, error) {
	cfg, err := awsConfig.LoadDefaultConfig(ctx, awsConfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &SQSQueue{client: sqs.NewFromConfig(cfg), queueURL: queueURL}, nil
}

func (q *SQSQueue) Enqueue(ctx context.Context, job models.WebhookJob) error {
	data, err := encodeJob(job)
	if err != nil {
		return err
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(data)),
	})
	return err
}

func (q *SQSQueue) Consume(ctx context.Context, handler interfaces.JobHandler) error {
	telemetry.Logger.Info("Started consuming webhook jobs", zap.String("queue_url", q.queueURL))

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		output, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			telemetry.Logger.Error("Error receiving message from SQS", zap.Error(err))
			sleep(ctx, retryBackoff)
			continue
		}

		for _, message := range output.Messages {
			job, err := decodeJob([]byte(aws.ToString(message.Body)))
			if err != nil {
				telemetry.Logger.Error("Dropping malformed job",
					zap.String("message_id", aws.ToString(message.MessageId)),
					zap.Error(err),
				)
			} else if err := handler(ctx, job); err != nil {
				logHandlerError("sqs", job, err)
				continue
			}

			_, err = q.client.DeleteMessage(context.WithoutCancel(ctx), &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(q.queueURL),
				ReceiptHandle: message.ReceiptHandle,
			})
			if err != nil {
				telemetry.Logger.Error("Error deleting message",
					zap.String("message_id", aws.ToString(message.MessageId)),
					zap.Error(err),
				)
			}
		}
	}
}

func (q *SQSQueue) Close() error {
	return nil
}
