package external

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"roadmap/internal/types"
)

// StubEmailSender logs sends instead of delivering them. It is used when
// EMAIL_ENABLED is false so local runs need no provider credentials.
type StubEmailSender struct {
	logger *slog.Logger
}

// NewStubEmailSender creates a StubEmailSender.
func NewStubEmailSender(logger *slog.Logger) *StubEmailSender {
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(ctx context.Context, input types.SendInput) (string, error) {
	s.logger.InfoContext(ctx, "stub: email not sent",
		"to", input.To,
		"subject", input.Subject,
		"tag", input.Tag,
		"reference_id", input.ReferenceID,
	)
	return "stub-" + uuid.NewString(), nil
}

var _ EmailSender = (*StubEmailSender)(nil)
