package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/joho/godotenv"

	"roadmap/internal/config"
)

// SSMClient is the subset of the SSM API used by push-secrets.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

const ssmOperationTimeout = 15 * time.Second

// SSMManager writes configuration values under the /{env}/roadmap prefix.
type SSMManager struct {
	client SSMClient
	env    string
	logger *slog.Logger
}

func NewSSMManager(client SSMClient, env string, logger *slog.Logger) *SSMManager {
	return &SSMManager{client: client, env: env, logger: logger}
}

// SSMPath maps an environment variable name to its parameter path.
func (m *SSMManager) SSMPath(key string) string {
	return config.SecretPath(m.env, key)
}

// ParameterExists reports whether a parameter is present at path.
func (m *SSMManager) ParameterExists(ctx context.Context, path string) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	_, err := m.client.GetParameter(opCtx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(false),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("checking SSM parameter %q: %w", path, err)
	}
	return true, nil
}

// PutSecret writes a SecureString parameter. The value is never logged.
func (m *SSMManager) PutSecret(ctx context.Context, path, value string, overwrite bool) error {
	return m.putParameter(ctx, path, value, ssmtypes.ParameterTypeSecureString, overwrite)
}

// PutString writes a plain String parameter.
func (m *SSMManager) PutString(ctx context.Context, path, value string, overwrite bool) error {
	return m.putParameter(ctx, path, value, ssmtypes.ParameterTypeString, overwrite)
}

func (m *SSMManager) putParameter(ctx context.Context, path, value string, paramType ssmtypes.ParameterType, overwrite bool) error {
	if path == "" {
		return fmt.Errorf("SSM parameter path must not be empty")
	}
	if value == "" {
		return fmt.Errorf("SSM parameter value must not be empty for path %q", path)
	}

	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	_, err := m.client.PutParameter(opCtx, &ssm.PutParameterInput{
		Name:      aws.String(path),
		Value:     aws.String(value),
		Type:      paramType,
		Overwrite: aws.Bool(overwrite),
	})
	if err != nil {
		var alreadyExists *ssmtypes.ParameterAlreadyExists
		if errors.As(err, &alreadyExists) {
			return fmt.Errorf("SSM parameter %q already exists: %w", path, err)
		}
		return fmt.Errorf("writing SSM parameter %q: %w", path, err)
	}

	if paramType == ssmtypes.ParameterTypeSecureString {
		m.logger.Info("SSM parameter written", "path", path, "type", string(paramType), "value_length", len(value))
	} else {
		m.logger.Info("SSM parameter written", "path", path, "type", string(paramType), "value", value)
	}
	return nil
}

// PushResult lists what a push wrote and what it left in place.
type PushResult struct {
	Written []string
	Skipped []string
	// Bindings maps each key to the *_SSM_PARAM variable the loader reads.
	Bindings map[string]string
}

// Push writes every non-empty value in values. Keys in secretKeys become
// SecureString parameters. Existing parameters are left untouched unless
// overwrite is set.
func (m *SSMManager) Push(ctx context.Context, values map[string]string, secretKeys map[string]bool, overwrite bool) (*PushResult, error) {
	keys := make([]string, 0, len(values))
	for k, v := range values {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	res := &PushResult{Bindings: make(map[string]string, len(keys))}
	for _, key := range keys {
		path := m.SSMPath(key)
		res.Bindings[key] = path

		if !overwrite {
			exists, err := m.ParameterExists(ctx, path)
			if err != nil {
				return res, err
			}
			if exists {
				m.logger.Info("SSM parameter exists, skipping", "path", path)
				res.Skipped = append(res.Skipped, key)
				continue
			}
		}

		var err error
		if secretKeys[key] {
			err = m.PutSecret(ctx, path, values[key], overwrite)
		} else {
			err = m.PutString(ctx, path, values[key], overwrite)
		}
		if err != nil {
			return res, err
		}
		res.Written = append(res.Written, key)
	}
	return res, nil
}

var secretStringType = reflect.TypeOf(config.SecretString(""))

// secretEnvKeys returns the environment variable names of every
// SecretString field in config.Config.
func secretEnvKeys() map[string]bool {
	keys := make(map[string]bool)
	collectSecretKeys(reflect.TypeOf(config.Config{}), keys)
	return keys
}

func collectSecretKeys(t reflect.Type, keys map[string]bool) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		switch {
		case f.Type == secretStringType:
			if tag := f.Tag.Get("envconfig"); tag != "" {
				keys[tag] = true
			}
		case f.Type.Kind() == reflect.Struct:
			collectSecretKeys(f.Type, keys)
		}
	}
}

func pushSecrets(ctx context.Context, args []string, stdout io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("push-secrets", flag.ContinueOnError)
	env := fs.String("env", "", "target environment (dev, staging, prod)")
	file := fs.String("file", "", "dotenv file to push")
	region := fs.String("region", envOr("AWS_REGION", "eu-west-2"), "AWS region")
	endpoint := fs.String("endpoint", os.Getenv("AWS_ENDPOINT_URL"), "custom SSM endpoint (LocalStack)")
	overwrite := fs.Bool("overwrite", false, "replace existing parameters")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch *env {
	case "dev", "staging", "prod":
	default:
		return fmt.Errorf("--env must be one of dev, staging, prod (got %q)", *env)
	}
	if *file == "" {
		return errors.New("--file is required")
	}

	values, err := godotenv.Read(*file)
	if err != nil {
		return fmt.Errorf("reading %s: %w", *file, err)
	}
	// APP_ENV selects the SSM prefix itself.
	delete(values, "APP_ENV")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(*region))
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}
	client := ssm.NewFromConfig(awsCfg, func(o *ssm.Options) {
		if *endpoint != "" {
			o.BaseEndpoint = aws.String(*endpoint)
		}
	})

	mgr := NewSSMManager(client, *env, logger)
	res, err := mgr.Push(ctx, values, secretEnvKeys(), *overwrite)
	if err != nil {
		return err
	}
	logger.Info("push complete", "written", len(res.Written), "skipped", len(res.Skipped))
	writeBindings(stdout, res.Bindings)
	return nil
}

// writeBindings prints the deployment variables that point the loader at
// each parameter.
func writeBindings(w io.Writer, bindings map[string]string) {
	keys := make([]string, 0, len(bindings))
	for k := range bindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s_SSM_PARAM=%s\n", k, bindings[k])
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
