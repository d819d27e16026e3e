package dispatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/autopilot/internal/outbox"
)

type snsAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSMSSender sends send_sms items as direct SNS SMS publishes.
type SNSSMSSender struct {
	client   snsAPI
	senderID string
	logger   *zap.Logger
}

type SNSConfig struct {
	Region   string
	SenderID string // optional alphanumeric sender id
}

func NewSNSSMSSender(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSSMSSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return &SNSSMSSender{
		client:   sns.NewFromConfig(awsCfg),
		senderID: cfg.SenderID,
		logger:   logger,
	}, nil
}

// SendSMS publishes the message to a phone number. Transactional SMS type is
// used so carriers do not throttle it as marketing traffic.
func (s *SNSSMSSender) SendSMS(ctx context.Context, msg outbox.SMSPayload) (*Receipt, error) {
	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if s.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.senderID),
		}
	}

	result, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(msg.To),
		Message:           aws.String(msg.Body),
		MessageAttributes: attrs,
	})
	if err != nil {
		return nil, fmt.Errorf("sns publish failed: %w", err)
	}

	messageID := aws.ToString(result.MessageId)
	s.logger.Info("SMS sent via SNS",
		zap.String("phone_number", msg.To),
		zap.String("message_id", messageID),
	)

	return &Receipt{Provider: "sns", MessageID: messageID}, nil
}
