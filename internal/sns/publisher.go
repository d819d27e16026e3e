// Package sns fans publish_post items out through an SNS topic. Each social
// platform integration subscribes with a filter on the platform attribute.
package sns

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/autopilot/internal/dispatch"
	"github.com/lalithlochan/autopilot/internal/outbox"
)

type publishAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SocialPublisher implements dispatch.SocialPublisher on an SNS topic.
type SocialPublisher struct {
	client   publishAPI
	topicARN string
	logger   *zap.Logger
}

// Message is the body subscribers receive.
type Message struct {
	Platform string `json:"platform"`
	Caption  string `json:"caption"`
	MediaRef string `json:"media_ref,omitempty"`
}

// NewSocialPublisher creates a publisher for topicARN. endpoint may be empty;
// set it for LocalStack.
func NewSocialPublisher(ctx context.Context, topicARN, region, endpoint string, logger *zap.Logger) (*SocialPublisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sns.NewFromConfig(cfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &SocialPublisher{
		client:   client,
		topicARN: topicARN,
		logger:   logger,
	}, nil
}

// Publish sends the post to the topic with the platform as a routing attribute.
func (p *SocialPublisher) Publish(ctx context.Context, post outbox.PublishPostPayload) (*dispatch.Receipt, error) {
	if p.topicARN == "" {
		return nil, fmt.Errorf("%w: social topic arn missing", dispatch.ErrProviderNotConfigured)
	}

	payload, err := json.Marshal(Message{
		Platform: post.Platform,
		Caption:  post.Caption,
		MediaRef: post.MediaRef,
	})
	if err != nil {
		return nil, dispatch.Permanent(fmt.Errorf("failed to marshal message: %w", err))
	}

	result, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"platform": {
				DataType:    aws.String("String"),
				StringValue: aws.String(post.Platform),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to publish to SNS: %w", err)
	}

	messageID := aws.ToString(result.MessageId)
	p.logger.Info("social post published",
		zap.String("platform", post.Platform),
		zap.String("message_id", messageID),
	)

	return &dispatch.Receipt{Provider: "sns-social", MessageID: messageID}, nil
}

var _ dispatch.SocialPublisher = (*SocialPublisher)(nil)
