package cfn

import "encoding/json"

const PolicyVersion = "2012-10-17"

// PolicyDocument is an IAM policy or trust policy.
type PolicyDocument struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

// Statement is a single IAM statement. Action and Resource render as a
// string when they hold one element.
type Statement struct {
	Sid       string     `json:"Sid,omitempty"`
	Effect    string     `json:"Effect"`
	Principal *Principal `json:"Principal,omitempty"`
	Action    Actions    `json:"Action"`
	Resource  Values     `json:"Resource,omitempty"`
}

type Principal struct {
	Service string `json:"Service,omitempty"`
}

type Actions []string

func (a Actions) MarshalJSON() ([]byte, error) {
	if len(a) == 1 {
		return json.Marshal(a[0])
	}
	return json.Marshal([]string(a))
}

// NewPolicy returns a policy document at the current policy version.
func NewPolicy(statements ...Statement) PolicyDocument {
	return PolicyDocument{
		Version:   PolicyVersion,
		Statement: statements,
	}
}

// Allow returns an Allow statement for actions on resources.
func Allow(actions []string, resources ...Value) Statement {
	return Statement{
		Effect:   "Allow",
		Action:   actions,
		Resource: resources,
	}
}

// AssumeRole returns a trust policy with one sts:AssumeRole statement per
// service principal.
func AssumeRole(services ...string) PolicyDocument {
	statements := make([]Statement, 0, len(services))
	for _, service := range services {
		statements = append(statements, Statement{
			Effect:    "Allow",
			Principal: &Principal{Service: service},
			Action:    Actions{"sts:AssumeRole"},
		})
	}
	return NewPolicy(statements...)
}
