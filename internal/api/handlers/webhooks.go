package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v82/webhook"

	"roadmap/internal/core"
	"roadmap/internal/types"
	"roadmap/internal/webhooks"
)

// maxWebhookBodySize caps provider webhook payloads at 64 KB.
const maxWebhookBodySize = 64 * 1024

// StripeProcessor applies a verified payment provider event.
// Satisfied by *webhooks.StripeReconciler.
type StripeProcessor interface {
	Process(ctx context.Context, ev webhooks.StripeEvent) bool
}

// ClerkProcessor applies a verified identity provider event.
// Satisfied by *webhooks.ClerkReconciler.
type ClerkProcessor interface {
	Process(ctx context.Context, messageID string, ev webhooks.ClerkEvent) bool
}

// SignatureVerifier checks svix-signed deliveries and returns the message id.
// Satisfied by *auth.SvixVerifier.
type SignatureVerifier interface {
	Verify(header http.Header, body []byte) (string, error)
}

// webhookAck is the body of every webhook response after the signature
// passed. Processing failures are logged and still acknowledged.
type webhookAck struct {
	Received  bool `json:"received"`
	Processed bool `json:"processed"`
}

// WebhookHandler receives provider callbacks. It is mounted outside the
// authenticated group; each request is authenticated by its signature.
type WebhookHandler struct {
	stripe       StripeProcessor
	stripeSecret string
	clerk        ClerkProcessor
	svix         SignatureVerifier
	logger       *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(
	stripe StripeProcessor,
	stripeSecret string,
	clerk ClerkProcessor,
	svix SignatureVerifier,
	l *slog.Logger,
) *WebhookHandler {
	if l == nil {
		l = slog.Default()
	}
	return &WebhookHandler{
		stripe:       stripe,
		stripeSecret: stripeSecret,
		clerk:        clerk,
		svix:         svix,
		logger:       l,
	}
}

// RegisterRoutes mounts the webhook endpoints under their provider names and
// the provider-neutral aliases.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Stripe)
	r.Post("/webhooks/payment-provider", h.Stripe)
	r.Post("/webhooks/clerk", h.Clerk)
	r.Post("/webhooks/identity-provider", h.Clerk)
}

// Stripe handles payment provider events signed with the Stripe-Signature
// header.
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.readBody(w, r)
	if !ok {
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		h.logger.WarnContext(r.Context(), "missing Stripe-Signature header")
		core.Error(w, r, types.NewAppError(types.ErrCodeSignatureMissingHeaders, "missing Stripe-Signature header", nil))
		return
	}
	if err := webhook.ValidatePayload(payload, sig, h.stripeSecret); err != nil {
		h.logger.WarnContext(r.Context(), "stripe signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeSignatureInvalid, "webhook signature verification failed", err))
		return
	}

	ev, err := webhooks.ParseStripeEvent(payload)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "unreadable stripe event", "error", err)
		core.JSON(w, r, http.StatusOK, webhookAck{Received: true})
		return
	}

	processed := h.stripe.Process(r.Context(), ev)
	core.JSON(w, r, http.StatusOK, webhookAck{Received: true, Processed: processed})
}

// Clerk handles identity provider events signed with svix headers.
func (h *WebhookHandler) Clerk(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.readBody(w, r)
	if !ok {
		return
	}

	messageID, err := h.svix.Verify(r.Header, payload)
	if err != nil {
		h.logger.WarnContext(r.Context(), "clerk signature verification failed", "error", err)
		core.Error(w, r, err)
		return
	}

	ev, err := webhooks.ParseClerkEvent(payload)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "unreadable clerk event",
			"message_id", messageID,
			"error", err,
		)
		core.JSON(w, r, http.StatusOK, webhookAck{Received: true})
		return
	}

	processed := h.clerk.Process(r.Context(), messageID, ev)
	core.JSON(w, r, http.StatusOK, webhookAck{Received: true, Processed: processed})
}

func (h *WebhookHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidInput, "failed to read request body", err))
		return nil, false
	}
	return payload, true
}
