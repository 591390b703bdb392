package cfn

import (
	"fmt"
	"slices"

	"github.com/savaki/scheduled-tasks/internal/errors"
)

// Joined is a set of deferred values that a continuation needs together.
type Joined struct {
	values []Value
}

// All joins values. The continuation passed to Apply receives them in the
// same order.
func All(values ...Value) Joined {
	return Joined{values: slices.Clone(values)}
}

// DependsOn returns the sorted union of the joined values' dependencies.
func (j Joined) DependsOn() []string {
	var deps []string
	for _, v := range j.values {
		for _, dep := range v.deps {
			if !slices.Contains(deps, dep) {
				deps = append(deps, dep)
			}
		}
	}
	slices.Sort(deps)
	return deps
}

// Apply runs fn exactly once. Resources fn declares through the Scope wait on
// every joined value: each receives the joined dependencies as DependsOn.
func (j Joined) Apply(stack *Stack, fn func(scope *Scope, values []Value) error) error {
	scope := &Scope{
		stack: stack,
		deps:  j.DependsOn(),
	}
	if err := fn(scope, slices.Clone(j.values)); err != nil {
		return err
	}
	return nil
}

// Scope declares resources on behalf of a join continuation.
type Scope struct {
	stack *Stack
	deps  []string
}

// Declare declares a resource that depends on every joined value.
func (s *Scope) Declare(logicalID, resourceType string, properties any) (*Resource, error) {
	resource, err := s.stack.Declare(logicalID, resourceType, properties)
	if err != nil {
		return nil, err
	}
	s.wait(logicalID, resource)
	return resource, nil
}

// Bind makes an already declared resource wait on the joined values. It is
// used when the continuation extends a resource declared before the join.
func (s *Scope) Bind(logicalID string) (*Resource, error) {
	resource := s.stack.Resource(logicalID)
	if resource == nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrUnknownLogicalID, logicalID)
	}
	s.wait(logicalID, resource)
	return resource, nil
}

func (s *Scope) wait(logicalID string, resource *Resource) {
	for _, dep := range s.deps {
		if dep == logicalID || slices.Contains(resource.DependsOn, dep) {
			continue
		}
		resource.DependsOn = append(resource.DependsOn, dep)
	}
	slices.Sort(resource.DependsOn)
}
