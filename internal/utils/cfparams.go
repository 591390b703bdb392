package utils

import (
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
)

// MergeParameters merges multiple parameter maps with later maps having higher precedence
// Returns a CloudFormation parameter list sorted by key
func MergeParameters(pp ...map[string]string) []types.Parameter {
	m := map[string]string{}
	for _, p := range pp {
		maps.Copy(m, p)
	}

	results := make([]types.Parameter, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		results = append(results, types.Parameter{
			ParameterKey:   aws.String(k),
			ParameterValue: aws.String(m[k]),
		})
	}

	return results
}

// ParameterMap converts a CloudFormation parameter list back into a map.
// Parameters without a key are skipped; a repeated key keeps the last value.
func ParameterMap(params []types.Parameter) map[string]string {
	m := make(map[string]string, len(params))
	for _, param := range params {
		if param.ParameterKey == nil {
			continue
		}
		m[*param.ParameterKey] = aws.ToString(param.ParameterValue)
	}
	return m
}

// EnvFilename returns the environment specific sibling of path, e.g.
// deploy/scheduled-tasks.yaml becomes deploy/scheduled-tasks.prod.yaml.
func EnvFilename(path, env string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return base + "." + env + ext
}
