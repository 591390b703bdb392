// Package di provides a lightweight wrapper around uber's dig dependency injection framework.
// It simplifies container setup and provides type-safe dependency retrieval with generics.
package di

import (
	"context"

	"go.uber.org/dig"
)

// Container defines a dependency injection container based on uber's dig.
// This interface allows for easy testing and mocking of the DI container.
type Container interface {
	// Invoke executes a function, injecting its dependencies from the container.
	Invoke(function any, opts ...dig.InvokeOption) error

	// Provide registers a constructor function in the container.
	Provide(constructor any, opts ...dig.ProvideOption) error

	// Scope creates a scoped sub-container with its own set of values.
	Scope(name string, opts ...dig.ScopeOption) *dig.Scope
}

// MustGet returns an instance constructed via dependency injection or panics.
// This is a convenience function for retrieving a dependency from the container
// when you're certain it exists. If the dependency cannot be resolved, it will panic.
//
// Example:
//
//	stacks := MustGet[*services.StackService](container)
func MustGet[T any](container Container) (want T) {
	callback := func(got T) {
		want = got
	}
	if err := container.Invoke(callback); err != nil {
		panic(err)
	}
	return want
}

// Get is MustGet returning the resolution error instead of panicking.
func Get[T any](container Container) (want T, err error) {
	err = container.Invoke(func(got T) {
		want = got
	})
	return want, err
}

// New creates a new dependency injection container for the given environment.
// The environment string is automatically registered as a string dependency
// that can be injected as a regular string parameter.
//
// Example:
//
//	container, err := New("dev",
//	    WithContext(ctx),
//	    WithRegion("us-west-2"),
//	)
func New(env string, opts ...Option) (Container, error) {
	o := options{
		ctx: context.Background(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	container := dig.New()
	values := []any{
		func() string { return env },
		func() context.Context { return o.ctx },
		func() Region { return o.region },
		func() Endpoint { return o.endpoint },
		func() Overrides { return o.overrides },
		func() SkipImageCheck { return o.skipImageCheck },
	}
	for _, value := range values {
		if err := container.Provide(value); err != nil {
			return nil, err
		}
	}

	// Register all provided constructors
	for _, provider := range core {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}

	// Register all provided constructors
	for _, provider := range o.providers {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}

	return container, nil
}

var core = []any{
	ProvideAWSConfig,
	ProvideSSMClient,
	ProvideParameterStore,
	ProvideAppConfig,
	ProvideCloudFormation,
	ProvideS3Client,
	ProvideECR,
	ProvideECS,
	ProvideCloudWatch,
	ProvideCloudWatchLogs,
	ProvideSecretsManager,
	ProvideSTS,
	ProvideDynamoDB,
	ProvideStackService,
	ProvideImageService,
	ProvideTaskService,
	ProvideIdentityService,
	ProvideSecretsManagerService,
	ProvideValidator,
	ProvideSynthesizer,
	ProvideLockDAO,
	ProvideDeploymentDAO,
}
