package external

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"roadmap/internal/types"
)

// SESAPI is the subset of the SES v2 client used by SESClient.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESClient implements EmailSender using AWS SES v2. Credentials come from
// the IAM role and the SDK handles retries, so there is no BaseClient.
type SESClient struct {
	api           SESAPI
	configSetName string
}

// NewSESClient creates an SESClient from an AWS config.
func NewSESClient(awsCfg aws.Config, configSetName string) *SESClient {
	return NewSESClientWithAPI(sesv2.NewFromConfig(awsCfg), configSetName)
}

// NewSESClientWithAPI creates an SESClient over an existing SESAPI.
func NewSESClientWithAPI(api SESAPI, configSetName string) *SESClient {
	return &SESClient{api: api, configSetName: configSetName}
}

// Send transmits a simple (non-templated) message.
//
// Error mapping:
//   - MessageRejected, AccountSuspended -> ErrCodeUpstreamEmailRejected
//   - TooManyRequestsException -> ErrCodeUpstreamRateLimited
//   - other -> ErrCodeUpstreamEmailProvider
func (s *SESClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	from := input.From
	if input.FromName != "" {
		from = fmt.Sprintf("%s <%s>", input.FromName, input.From)
	}

	body := &sestypes.Body{}
	if input.BodyHTML != "" {
		body.Html = &sestypes.Content{Data: aws.String(input.BodyHTML), Charset: aws.String("UTF-8")}
	}
	if input.BodyText != "" {
		body.Text = &sestypes.Content{Data: aws.String(input.BodyText), Charset: aws.String("UTF-8")}
	}

	emailInput := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &sestypes.Destination{ToAddresses: []string{input.To}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(input.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	}
	if s.configSetName != "" {
		emailInput.ConfigurationSetName = aws.String(s.configSetName)
	}

	var tags []sestypes.MessageTag
	if input.ReferenceID != "" {
		tags = append(tags, sestypes.MessageTag{Name: aws.String("ReferenceID"), Value: aws.String(input.ReferenceID)})
	}
	if input.Tag != "" {
		tags = append(tags, sestypes.MessageTag{Name: aws.String("Kind"), Value: aws.String(input.Tag)})
	}
	emailInput.EmailTags = tags

	result, err := s.api.SendEmail(ctx, emailInput)
	if err != nil {
		return "", mapSESError(err)
	}
	return aws.ToString(result.MessageId), nil
}

// mapSESError translates AWS SES errors into AppErrors.
func mapSESError(err error) error {
	var msgRejected *sestypes.MessageRejected
	var suspended *sestypes.AccountSuspendedException
	if errors.As(err, &msgRejected) || errors.As(err, &suspended) {
		return types.NewAppError(types.ErrCodeUpstreamEmailRejected, "SES rejected message", err)
	}

	var tooManyReqs *sestypes.TooManyRequestsException
	if errors.As(err, &tooManyReqs) {
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "SES rate limit exceeded", err)
	}

	return types.NewAppError(types.ErrCodeUpstreamEmailProvider, "SES send failed", err)
}

var _ EmailSender = (*SESClient)(nil)
