// Package settings resolves runtime settings from the process environment
// with an SSM Parameter Store fallback.
package settings

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"unitcast/internal/core/apperror"
	"unitcast/pkg/logger"
)

// Setting names resolved by the provider. Environment variables use the
// name as-is; SSM parameters live under the prefix in kebab-case, e.g.
// DESTINATION_TABLE -> /unitcast/destination-table.
const (
	SettingDestinationTable = "DESTINATION_TABLE"
	SettingSourceTable      = "SOURCE_TABLE"
)

// ParameterClient is the subset of the SSM API the provider uses.
type ParameterClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Provider resolves named settings, preferring process environment and
// falling back to SSM. Resolved values are cached for the process lifetime.
// A nil client disables the fallback for env-only deployments.
type Provider struct {
	client ParameterClient
	prefix string

	mu    sync.RWMutex
	cache map[string]string
}

// New creates a provider over an SSM client.
func New(client ParameterClient, prefix string) *Provider {
	if prefix == "" {
		prefix = "/unitcast/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Provider{
		client: client,
		prefix: prefix,
		cache:  make(map[string]string),
	}
}

// NewFromEnv constructs a provider from process environment. The client is
// built lazily enough that no AWS call happens unless a setting misses the
// environment.
//
//	UNITCAST_SSM_PREFIX: parameter path prefix (default /unitcast/)
//	UNITCAST_SSM_DISABLED: true disables the SSM fallback entirely
func NewFromEnv(ctx context.Context) (*Provider, error) {
	prefix := os.Getenv("UNITCAST_SSM_PREFIX")
	if strings.EqualFold(os.Getenv("UNITCAST_SSM_DISABLED"), "true") {
		return New(nil, prefix), nil
	}

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(ssm.NewFromConfig(awsCfg), prefix), nil
}

// Get resolves a setting by name.
func (p *Provider) Get(ctx context.Context, name string) (string, error) {
	p.mu.RLock()
	if v, ok := p.cache[name]; ok {
		p.mu.RUnlock()
		return v, nil
	}
	p.mu.RUnlock()

	if v := os.Getenv(name); v != "" {
		p.store(name, v)
		return v, nil
	}

	if p.client == nil {
		return "", apperror.NewConfig(name, nil)
	}

	paramName := p.parameterName(name)
	out, err := p.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(paramName),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", apperror.NewConfig(name, err).WithDetail("parameter", paramName)
	}
	if out.Parameter == nil || out.Parameter.Value == nil || *out.Parameter.Value == "" {
		return "", apperror.NewConfig(name, nil).WithDetail("parameter", paramName)
	}

	v := *out.Parameter.Value
	logger.Debug(ctx, "setting resolved from parameter store", "setting", name)
	p.store(name, v)
	return v, nil
}

// DestinationTable resolves the keyed destination table name.
func (p *Provider) DestinationTable(ctx context.Context) (string, error) {
	return p.Get(ctx, SettingDestinationTable)
}

// SourceTable resolves the changelog table name.
func (p *Provider) SourceTable(ctx context.Context) (string, error) {
	return p.Get(ctx, SettingSourceTable)
}

func (p *Provider) parameterName(name string) string {
	return p.prefix + strings.ToLower(strings.ReplaceAll(name, "_", "-"))
}

func (p *Provider) store(name, value string) {
	p.mu.Lock()
	p.cache[name] = value
	p.mu.Unlock()
}
