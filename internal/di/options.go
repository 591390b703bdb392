package di

import (
	"context"
)

// Region overrides the region of the default AWS configuration.
type Region string

// Endpoint points every AWS client at a local emulator such as LocalStack.
type Endpoint string

// SkipImageCheck disables the ECR image tag check during synthesis.
type SkipImageCheck bool

// Overrides replaces settings otherwise read from Parameter Store. Empty
// fields keep the stored value.
type Overrides struct {
	TemplateBucket string
	LockTable      string
	AlertTopicArn  string
}

// Option is a function that configures the dependency injection container.
type Option func(*options)

// WithContext sets the context injected into providers. Its logger is used
// for provider logging.
func WithContext(ctx context.Context) Option {
	return func(opts *options) {
		opts.ctx = ctx
	}
}

func WithRegion(region string) Option {
	return func(opts *options) {
		opts.region = Region(region)
	}
}

func WithEndpoint(url string) Option {
	return func(opts *options) {
		opts.endpoint = Endpoint(url)
	}
}

func WithOverrides(overrides Overrides) Option {
	return func(opts *options) {
		opts.overrides = overrides
	}
}

func WithSkipImageCheck(skip bool) Option {
	return func(opts *options) {
		opts.skipImageCheck = SkipImageCheck(skip)
	}
}

// WithProviders adds constructor functions to the dependency injection container.
// Each provider should be a constructor function that returns one or more values.
// Providers can declare dependencies as function parameters, which will be
// automatically resolved by the container.
//
// Example:
//
//	WithProviders(
//	    func() services.CloudFormationAPI { return fake },
//	)
func WithProviders(providers ...any) Option {
	return func(opts *options) {
		opts.providers = append(opts.providers, providers...)
	}
}

type options struct {
	ctx            context.Context
	region         Region
	endpoint       Endpoint
	overrides      Overrides
	skipImageCheck SkipImageCheck
	providers      []any
}
