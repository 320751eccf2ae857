package external

import (
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadmap/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "dev",
		Billing: config.BillingConfig{
			StripeSecretKey: "sk_test",
			APIBaseURL:      "https://api.stripe.com",
		},
		Identity: config.IdentityConfig{ClerkSecretKey: "sk_clerk", APIBaseURL: "https://api.clerk.com"},
		LLM:      config.LLMConfig{OpenAIModel: "gpt-4o-mini", GeminiModel: "gemini-2.0-flash"},
		Email: config.EmailConfig{
			Enabled:        true,
			Provider:       config.EmailProviderSendGrid,
			SendGridAPIKey: "SG.key",
		},
	}
}

func TestNewClientRegistry_BuildsRealClients(t *testing.T) {
	reg, err := NewClientRegistry(testConfig(), nil)
	require.NoError(t, err)

	assert.IsType(t, &StripeClient{}, reg.Billing)
	assert.IsType(t, &ClerkClient{}, reg.Identity)
	assert.IsType(t, &OpenAIClient{}, reg.Chat)
	assert.IsType(t, &GeminiClient{}, reg.Gemini)
	assert.IsType(t, &SendGridClient{}, reg.Email)
}

func TestNewEmailSender(t *testing.T) {
	logger := slog.Default()
	awsCfg := aws.Config{Region: "eu-west-2"}

	tests := []struct {
		name    string
		cfg     config.EmailConfig
		aws     *aws.Config
		want    EmailSender
		wantErr bool
	}{
		{"disabled uses stub", config.EmailConfig{Enabled: false, Provider: config.EmailProviderSendGrid}, nil, &StubEmailSender{}, false},
		{"sendgrid", config.EmailConfig{Enabled: true, Provider: config.EmailProviderSendGrid}, nil, &SendGridClient{}, false},
		{"postmark", config.EmailConfig{Enabled: true, Provider: config.EmailProviderPostmark, PostmarkServerToken: "pm"}, nil, &PostmarkClient{}, false},
		{"ses", config.EmailConfig{Enabled: true, Provider: config.EmailProviderSES}, &awsCfg, &SESClient{}, false},
		{"ses without aws config", config.EmailConfig{Enabled: true, Provider: config.EmailProviderSES}, nil, nil, true},
		{"unknown", config.EmailConfig{Enabled: true, Provider: "pigeon"}, nil, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewEmailSender(tt.cfg, tt.aws, logger)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, got)
		})
	}
}
