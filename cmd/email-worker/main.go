// Package main is the entrypoint for the email worker Lambda function.
//
// The worker drains the notification queue filled by the API when
// NOTIFY_MODE=queue. Each message is rendered from the embedded templates
// and sent through the configured email provider. Transient failures are
// re-queued with exponential backoff; permanent ones are logged and dropped.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/kelseyhightower/envconfig"

	"roadmap/internal/config"
	"roadmap/internal/external"
	"roadmap/internal/notify"
)

// workerConfig is the slice of configuration the worker reads. It shares
// variable names with the API.
type workerConfig struct {
	Environment string `envconfig:"APP_ENV" default:"local"`
	FrontendURL string `envconfig:"FRONTEND_URL" default:"http://localhost:3000"`
	Email       config.EmailConfig
	AWS         config.AWSConfig
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("email worker initializing (cold start)")

	handler, err := newHandler(context.Background(), logger)
	if err != nil {
		logger.Error("email worker initialization failed", "error", err)
		os.Exit(1)
	}

	// Local mode reads one SQS event from stdin instead of starting the
	// Lambda runtime:
	//   echo '{"Records":[{"messageId":"1","body":"{...}"}]}' | go run ./cmd/email-worker
	if os.Getenv("APP_ENV") == "local" {
		if err := runLocal(handler, os.Stdin, logger); err != nil {
			logger.Error("local run failed", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(handler.Handle)
}

func newHandler(ctx context.Context, logger *slog.Logger) (*Handler, error) {
	provider, err := config.SecretProviderFromEnv()
	if err != nil {
		return nil, fmt.Errorf("selecting secret provider: %w", err)
	}
	if err := config.ResolveSecrets(provider); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}

	var cfg workerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}
	if cfg.AWS.NotificationQueueURL == "" {
		return nil, fmt.Errorf("NOTIFICATION_QUEUE_URL must be set")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	email, err := external.NewEmailSender(cfg.Email, &awsCfg, logger)
	if err != nil {
		return nil, err
	}
	renderer, err := notify.NewRenderer(cfg.FrontendURL)
	if err != nil {
		return nil, fmt.Errorf("loading email templates: %w", err)
	}

	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	metrics := notify.NewCloudWatchMetrics(cwClient, cfg.AWS.MetricNamespace, logger)

	sender := notify.Sender{Address: cfg.Email.FromAddress, Name: cfg.Email.FromName}
	h := &Handler{
		notifier: notify.NewDirectNotifier(renderer, email, sender, metrics, logger),
		requeue:  notify.NewQueuePublisher(sqsClient, cfg.AWS.NotificationQueueURL, logger),
		metrics:  metrics,
		retry:    notify.EmailRetryPolicy,
		now:      time.Now,
		logger:   &slogAdapter{logger: logger},
	}

	logger.Info("email worker initialized",
		"provider", cfg.Email.Provider,
		"notification_queue", cfg.AWS.NotificationQueueURL,
		"metric_namespace", cfg.AWS.MetricNamespace,
	)
	return h, nil
}

// runLocal feeds one JSON SQS event through the handler.
func runLocal(h *Handler, in io.Reader, logger *slog.Logger) error {
	payload, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	if len(payload) == 0 {
		return fmt.Errorf("no input received on stdin")
	}

	var sqsEvent events.SQSEvent
	if err := json.Unmarshal(payload, &sqsEvent); err != nil {
		return fmt.Errorf("parsing stdin as SQS event: %w", err)
	}

	response, err := h.Handle(context.Background(), sqsEvent)
	if err != nil {
		return err
	}
	logger.Info("local run completed",
		"records_processed", len(sqsEvent.Records),
		"failures", len(response.BatchItemFailures),
	)
	return nil
}
