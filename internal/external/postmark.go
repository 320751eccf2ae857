package external

import (
	"context"
	"fmt"

	"github.com/mrz1836/postmark"

	"roadmap/internal/types"
)

// postmarkAPI is the subset of *postmark.Client used by PostmarkClient.
type postmarkAPI interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// Postmark API error codes that mean the recipient will never accept mail.
// 300 is an invalid address, 406 an inactive (bounced or suppressed) one.
const (
	postmarkInvalidEmail   = 300
	postmarkInactiveTarget = 406
)

// PostmarkClient implements EmailSender with the Postmark transactional API.
type PostmarkClient struct {
	api postmarkAPI
}

// NewPostmarkClient creates a PostmarkClient. The account token may be
// empty; only the server token is used for sending.
func NewPostmarkClient(serverToken, accountToken string) *PostmarkClient {
	return &PostmarkClient{api: postmark.NewClient(serverToken, accountToken)}
}

// Send transmits a message with open tracking and HTML-only link tracking.
func (c *PostmarkClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	from := input.From
	if input.FromName != "" {
		from = fmt.Sprintf("%s <%s>", input.FromName, input.From)
	}

	email := postmark.Email{
		From:       from,
		To:         input.To,
		Subject:    input.Subject,
		Tag:        input.Tag,
		HTMLBody:   input.BodyHTML,
		TextBody:   input.BodyText,
		TrackOpens: true,
		TrackLinks: "HtmlOnly",
	}
	if input.ReferenceID != "" {
		email.Metadata = map[string]string{"reference_id": input.ReferenceID}
	}

	resp, err := c.api.SendEmail(ctx, email)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamEmailProvider, "Postmark send failed", err)
	}

	switch resp.ErrorCode {
	case 0:
		return resp.MessageID, nil
	case postmarkInvalidEmail, postmarkInactiveTarget:
		return "", types.NewAppError(types.ErrCodeUpstreamEmailRejected,
			fmt.Sprintf("Postmark rejected recipient: %d - %s", resp.ErrorCode, resp.Message), nil)
	default:
		return "", types.NewAppError(types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("Postmark error: %d - %s", resp.ErrorCode, resp.Message), nil)
	}
}

var _ EmailSender = (*PostmarkClient)(nil)
