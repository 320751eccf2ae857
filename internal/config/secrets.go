package config

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/joho/godotenv"
)

// defaultAWSRegion hosts the roadmap parameters when AWS_REGION is unset.
const defaultAWSRegion = "eu-west-2"

// SecretProvider resolves parameter paths named by _SSM_PARAM pointers into
// their plaintext values. Paths it cannot resolve are left out of the map.
type SecretProvider interface {
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}

// SecretPath is the parameter path for an environment variable, e.g.
// STRIPE_SECRET_KEY in prod lives at /prod/roadmap/stripe_secret_key.
func SecretPath(env, key string) string {
	return fmt.Sprintf("/%s/roadmap/%s", env, strings.ToLower(key))
}

// FileProvider answers parameter lookups from a dotenv file in the format
// push-secrets uploads. It lets a deployed environment's pointers be
// resolved offline.
type FileProvider struct {
	values map[string]string
}

// NewFileProvider reads the dotenv file at filename.
func NewFileProvider(filename string) (*FileProvider, error) {
	values, err := godotenv.Read(filename)
	if err != nil {
		return nil, fmt.Errorf("reading secrets file %s: %w", filename, err)
	}
	return &FileProvider{values: values}, nil
}

// GetParametersBatch maps each path's last segment back to its variable name
// and looks it up in the file.
func (p *FileProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		name := strings.ToUpper(path.Base(key))
		if val, ok := p.values[name]; ok {
			result[key] = val
		}
	}
	return result, nil
}

// SecretProviderFromEnv picks the provider for the current process. Local
// runs get nil, SECRETS_FILE selects a FileProvider, anything else reads SSM.
func SecretProviderFromEnv() (SecretProvider, error) {
	return secretProviderWithDeps(defaultDeps())
}

func secretProviderWithDeps(deps loaderDeps) (SecretProvider, error) {
	getenv := func(key string) string {
		v, _ := deps.lookupEnv(key)
		return v
	}

	if getenv("APP_ENV") == localEnv {
		return nil, nil
	}
	if file := getenv("SECRETS_FILE"); file != "" {
		p, err := NewFileProvider(file)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	region := getenv("AWS_REGION")
	if region == "" {
		region = defaultAWSRegion
	}
	return NewSSMProvider(region, getenv("AWS_ENDPOINT_URL")), nil
}
