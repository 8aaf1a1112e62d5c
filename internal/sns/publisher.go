// Package sns fans operator alerts out to an SNS topic.
package sns

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// Severity of an alert
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
	SeveritySummary  Severity = "SUMMARY"
)

type publishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher publishes alerts to one SNS topic
type Publisher struct {
	client   publishAPI
	topicARN string
}

// Alert is the JSON message body published to the topic
type Alert struct {
	Severity  Severity  `json:"severity"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// NewPublisher creates an SNS publisher for the given topic
func NewPublisher(ctx context.Context, topicARN string, optFns ...func(*config.LoadOptions) error) (*Publisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Publisher{
		client:   sns.NewFromConfig(cfg),
		topicARN: topicARN,
	}, nil
}

// NewPublisherWithEndpoint creates a publisher with custom endpoint (for LocalStack)
func NewPublisherWithEndpoint(ctx context.Context, topicARN, endpoint, region string) (*Publisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sns.NewFromConfig(cfg, func(o *sns.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	return &Publisher{
		client:   client,
		topicARN: topicARN,
	}, nil
}

// Publish sends an alert to the topic. Subscribers can filter on the
// severity and source attributes.
func (p *Publisher) Publish(ctx context.Context, alert Alert) (string, error) {
	payload, err := json.Marshal(alert)
	if err != nil {
		return "", fmt.Errorf("failed to marshal alert: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String(truncateSubject(alert.Subject)),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"severity": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(alert.Severity)),
			},
			"source": {
				DataType:    aws.String("String"),
				StringValue: aws.String(alert.Source),
			},
		},
	}

	result, err := p.client.Publish(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to publish to SNS: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}

// SNS rejects subjects of 100 characters or more.
func truncateSubject(s string) string {
	const limit = 99
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
