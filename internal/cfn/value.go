// Package cfn models a CloudFormation template as a graph of typed resource
// declarations whose computed properties are deferred values resolved by
// CloudFormation at deploy time.
package cfn

import (
	"encoding/json"
	"slices"
	"strings"
)

const importPrefix = "import:"

// Value is a property value that is either known at synthesis time (a literal
// string) or computed by CloudFormation when the stack is deployed (an
// intrinsic function such as Ref or Fn::GetAtt).
//
// The zero Value is an empty literal and reports IsZero.
type Value struct {
	literal string
	fn      map[string]any
	deps    []string
}

// String returns a literal value.
func String(s string) Value {
	return Value{literal: s}
}

// Strings converts each string into a literal value.
func Strings(ss ...string) []Value {
	values := make([]Value, 0, len(ss))
	for _, s := range ss {
		values = append(values, String(s))
	}
	return values
}

// Ref resolves to the primary identifier of a resource or the value of a
// parameter. For AWS::ECS::TaskDefinition and AWS::Logs::LogGroup that is the
// ARN and the name respectively.
func Ref(logicalID string) Value {
	return Value{
		fn:   map[string]any{"Ref": logicalID},
		deps: []string{logicalID},
	}
}

// GetAtt resolves to an attribute of a resource in the same template.
func GetAtt(logicalID, attribute string) Value {
	return Value{
		fn:   map[string]any{"Fn::GetAtt": []string{logicalID, attribute}},
		deps: []string{logicalID},
	}
}

// ImportValue resolves to an output exported by another stack.
func ImportValue(exportName string) Value {
	return Value{
		fn: map[string]any{"Fn::ImportValue": exportName},
	}
}

// Sub substitutes ${...} variables in format. Only pseudo parameters and
// template parameters should be referenced; resource references must go
// through Ref or GetAtt so dependencies are tracked.
func Sub(format string) Value {
	return Value{
		fn: map[string]any{"Fn::Sub": format},
	}
}

// Parse converts a configuration string into a Value. Strings of the form
// "import:<ExportName>" become Fn::ImportValue, everything else is a literal.
func Parse(s string) Value {
	if name, ok := strings.CutPrefix(s, importPrefix); ok {
		return ImportValue(strings.TrimSpace(name))
	}
	return String(s)
}

// IsZero reports whether v is the empty literal.
func (v Value) IsZero() bool {
	return v.fn == nil && v.literal == ""
}

// IsLiteral reports whether v is known at synthesis time.
func (v Value) IsLiteral() bool {
	return v.fn == nil
}

// Literal returns the literal string; empty for computed values.
func (v Value) Literal() string {
	return v.literal
}

// DependsOn returns the logical IDs of resources in the same template that
// must exist before v can be resolved.
func (v Value) DependsOn() []string {
	return slices.Clone(v.deps)
}

// ExportName returns the export an Fn::ImportValue reads.
func (v Value) ExportName() (string, bool) {
	name, ok := v.fn["Fn::ImportValue"].(string)
	return name, ok
}

// Intrinsic returns the intrinsic function body, or nil for literals.
func (v Value) Intrinsic() map[string]any {
	return v.fn
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.fn != nil {
		return json.Marshal(v.fn)
	}
	return json.Marshal(v.literal)
}

func (v Value) String() string {
	if v.fn == nil {
		return v.literal
	}
	data, _ := json.Marshal(v.fn)
	return string(data)
}

// Values renders as a single JSON value when it holds one element and as a
// list otherwise, matching how IAM accepts Action and Resource.
type Values []Value

func (vv Values) MarshalJSON() ([]byte, error) {
	if len(vv) == 1 {
		return json.Marshal(vv[0])
	}
	return json.Marshal([]Value(vv))
}
