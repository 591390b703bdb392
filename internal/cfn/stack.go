package cfn

import (
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/savaki/scheduled-tasks/internal/errors"
)

// Stack collects resource declarations into a Template. Every logical ID is
// declared exactly once.
type Stack struct {
	template *Template
}

// NewStack returns an empty stack.
func NewStack(description string) *Stack {
	return &Stack{
		template: &Template{
			AWSTemplateFormatVersion: FormatVersion,
			Description:              description,
			Parameters:               map[string]Parameter{},
			Resources:                map[string]*Resource{},
			Outputs:                  map[string]Output{},
		},
	}
}

// Declare adds a resource under logicalID. Declaring the same logical ID
// twice is an error.
func (s *Stack) Declare(logicalID, resourceType string, properties any) (*Resource, error) {
	if logicalID == "" {
		return nil, fmt.Errorf("logical id required for %s", resourceType)
	}
	if _, ok := s.template.Resources[logicalID]; ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrDuplicateLogicalID, logicalID)
	}

	resource := &Resource{
		Type:       resourceType,
		Properties: properties,
	}
	s.template.Resources[logicalID] = resource
	return resource, nil
}

// Resource returns the declaration for logicalID, or nil.
func (s *Stack) Resource(logicalID string) *Resource {
	return s.template.Resources[logicalID]
}

// Parameter declares a template parameter and returns a reference to it.
// Redeclaring a parameter with the same type is allowed.
func (s *Stack) Parameter(name string, p Parameter) (Value, error) {
	if existing, ok := s.template.Parameters[name]; ok && existing.Type != p.Type {
		return Value{}, fmt.Errorf("parameter %s already declared as %s", name, existing.Type)
	}
	s.template.Parameters[name] = p
	return Value{fn: map[string]any{"Ref": name}}, nil
}

// Output adds a stack output. When exportName is non-empty the output is
// exported for use by other stacks.
func (s *Stack) Output(logicalID, description string, value Value, exportName string) {
	output := Output{
		Description: description,
		Value:       value,
	}
	if exportName != "" {
		output.Export = &Export{Name: String(exportName)}
	}
	s.template.Outputs[logicalID] = output
}

// Template returns the accumulated template.
func (s *Stack) Template() *Template {
	return s.template
}

// LogicalIDs returns the declared logical IDs of resourceType in sorted
// order. An empty resourceType matches every resource.
func (s *Stack) LogicalIDs(resourceType string) []string {
	var ids []string
	for id, r := range s.template.Resources {
		if resourceType == "" || r.Type == resourceType {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// LogicalID derives an alphanumeric CloudFormation logical ID from a
// resource name, e.g. "rule-ReScore" becomes "RuleReScore".
func LogicalID(parts ...string) string {
	var b strings.Builder
	for _, part := range parts {
		words := strings.FieldsFunc(part, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, word := range words {
			runes := []rune(word)
			runes[0] = unicode.ToUpper(runes[0])
			b.WriteString(string(runes))
		}
	}
	return b.String()
}
