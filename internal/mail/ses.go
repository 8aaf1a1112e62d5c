package mail

import (
	"context"
	"errors"
	"fmt"
	netmail "net/mail"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESGateway sends through Amazon SES
type SESGateway struct {
	client sesAPI
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region string
	From   Sender
}

func NewSESGateway(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESGateway, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}

	from := (&netmail.Address{Name: cfg.From.Name, Address: cfg.From.Email}).String()
	return &SESGateway{
		client: ses.NewFromConfig(awsCfg),
		from:   from,
		logger: logger,
	}, nil
}

func (g *SESGateway) Send(ctx context.Context, msg Message) error {
	body := &types.Body{
		Html: &types.Content{
			Data:    aws.String(msg.HTML),
			Charset: aws.String("UTF-8"),
		},
	}
	if msg.Text != "" {
		body.Text = &types.Content{
			Data:    aws.String(msg.Text),
			Charset: aws.String("UTF-8"),
		}
	}

	input := &ses.SendEmailInput{
		Source: aws.String(g.from),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: body,
		},
	}

	result, err := g.client.SendEmail(ctx, input)
	if err != nil {
		return classifySES(err)
	}

	g.logger.Info("email sent via SES",
		zap.String("to", msg.To),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

var sesAuthCodes = map[string]bool{
	"InvalidClientTokenId":        true,
	"SignatureDoesNotMatch":       true,
	"UnrecognizedClientException": true,
	"AccessDenied":                true,
	"AccessDeniedException":       true,
	"ExpiredToken":                true,
}

func classifySES(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && sesAuthCodes[apiErr.ErrorCode()] {
		return fmt.Errorf("ses %w: %v", ErrAuth, err)
	}
	return fmt.Errorf("ses send failed: %w", err)
}
