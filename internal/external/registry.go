package external

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"roadmap/internal/config"
	"roadmap/internal/types"
)

// ClientRegistry holds every vendor client the API needs. It is built once
// in main and handed to the handlers and reconcilers.
type ClientRegistry struct {
	Billing  BillingProvider
	Identity IdentityDirectory
	Chat     ChatCompleter
	Gemini   ContentGenerator
	Email    EmailSender
}

// RegistryOption supplies dependencies that config alone cannot provide.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	awsCfg *aws.Config
}

// WithAWSConfig provides the loaded AWS config, required when
// EMAIL_PROVIDER is ses.
func WithAWSConfig(cfg aws.Config) RegistryOption {
	return func(rc *registryConfig) {
		rc.awsCfg = &cfg
	}
}

// Per-vendor timeouts. Generation calls are allowed the longest.
const (
	stripeTimeout = 20 * time.Second
	clerkTimeout  = 10 * time.Second
	emailTimeout  = 10 * time.Second
	llmTimeout    = 80 * time.Second
)

// NewClientRegistry builds the clients from configuration.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger, opts ...RegistryOption) (*ClientRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rc := &registryConfig{}
	for _, opt := range opts {
		opt(rc)
	}

	reg := &ClientRegistry{
		Billing: NewStripeClient(
			NewBaseClient(&http.Client{Timeout: stripeTimeout}, "stripe", types.ErrCodeUpstreamStripe, DefaultRetryPolicy()),
			StripeClientConfig{
				SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
				BaseURL:   cfg.Billing.APIBaseURL,
				Logger:    logger.With("client", "stripe"),
			},
		),
		Identity: NewClerkClient(
			NewBaseClient(&http.Client{Timeout: clerkTimeout}, "clerk", types.ErrCodeUpstreamClerk, DefaultRetryPolicy()),
			cfg.Identity.ClerkSecretKey.Unmask(),
			cfg.Identity.APIBaseURL,
		),
		Chat: NewOpenAIClient(
			NewBaseClient(&http.Client{Timeout: llmTimeout}, "openai", types.ErrCodeUpstreamLLM, NoRetryPolicy()),
			LLMConfig{
				APIKey:      cfg.LLM.OpenAIAPIKey.Unmask(),
				Model:       cfg.LLM.OpenAIModel,
				BaseURL:     cfg.LLM.OpenAIBaseURL,
				Temperature: 0.7,
			},
		),
		Gemini: NewGeminiClient(
			NewBaseClient(&http.Client{Timeout: llmTimeout}, "gemini", types.ErrCodeUpstreamLLM, NoRetryPolicy()),
			LLMConfig{
				APIKey:      cfg.LLM.GeminiAPIKey.Unmask(),
				Model:       cfg.LLM.GeminiModel,
				BaseURL:     cfg.LLM.GeminiBaseURL,
				Temperature: 0.7,
			},
		),
	}

	email, err := NewEmailSender(cfg.Email, rc.awsCfg, logger)
	if err != nil {
		return nil, err
	}
	reg.Email = email

	logger.Info("external clients initialized",
		"email_provider", cfg.Email.Provider,
		"email_enabled", cfg.Email.Enabled,
	)
	return reg, nil
}

// NewEmailSender selects the email provider. The email worker calls it
// directly because it needs no other client.
func NewEmailSender(cfg config.EmailConfig, awsCfg *aws.Config, logger *slog.Logger) (EmailSender, error) {
	if !cfg.Enabled {
		return NewStubEmailSender(logger.With("mode", "stub")), nil
	}

	switch cfg.Provider {
	case config.EmailProviderSendGrid:
		return NewSendGridClient(
			NewBaseClient(&http.Client{Timeout: emailTimeout}, "sendgrid", types.ErrCodeUpstreamEmailProvider, DefaultRetryPolicy()),
			SendGridClientConfig{APIKey: cfg.SendGridAPIKey.Unmask(), Logger: logger.With("client", "sendgrid")},
		), nil
	case config.EmailProviderPostmark:
		return NewPostmarkClient(cfg.PostmarkServerToken.Unmask(), cfg.PostmarkAccountToken.Unmask()), nil
	case config.EmailProviderSES:
		if awsCfg == nil {
			return nil, fmt.Errorf("email provider ses requires an AWS config")
		}
		return NewSESClient(*awsCfg, ""), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}
