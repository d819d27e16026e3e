// Package sqs publishes terminal outbox outcomes for downstream consumers
// (reporting, operator alerting).
package sqs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/autopilot/internal/outbox"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
	Endpoint string // optional, e.g. LocalStack
}

type sendAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// OutcomeProducer sends one message per terminal outbox outcome.
type OutcomeProducer struct {
	client   sendAPI
	queueURL string
	logger   *zap.Logger
}

func NewOutcomeProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*OutcomeProducer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	logger.Info("sqs outcome producer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &OutcomeProducer{
		client:   client,
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// PublishOutcome sends o as JSON with status and type as message attributes
// so consumers can filter without decoding the body.
func (p *OutcomeProducer) PublishOutcome(ctx context.Context, o outbox.Outcome) error {
	body, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	result, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"status": {
				DataType:    aws.String("String"),
				StringValue: aws.String(o.Status.String()),
			},
			"type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(o.Type.String()),
			},
			"tenant_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(o.TenantID.String()),
			},
		},
	})
	if err != nil {
		p.logger.Error("failed to send outcome to sqs",
			zap.Error(err),
			zap.String("item_id", o.ItemID.String()),
		)
		return fmt.Errorf("sqs send failed: %w", err)
	}

	p.logger.Debug("outcome published",
		zap.String("item_id", o.ItemID.String()),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}
