package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/katunilya/surge/pkg/jsonschema"
)

//go:embed schema.json
var schemaJSON string

var configSchema = jsonschema.MustCompile("surge-config.json", schemaJSON)

// LoadConfig loads a run configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ValidationErrors{Errors: []*ValidationError{{
			Field:   "config",
			Message: fmt.Sprintf("failed to read config file: %v", err),
		}}}
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data and checks it against the
// embedded JSON schema. Semantic checks are left to Validate.
//
// The format is determined by the file extension in path, or defaults to
// YAML if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var (
		config TestConfig
		raw    interface{}
	)

	ext := strings.ToLower(filepath.Ext(path))
	format, unmarshal := "YAML", yaml.Unmarshal
	if ext == ".json" {
		format, unmarshal = "JSON", json.Unmarshal
	}

	if err := unmarshal(data, &raw); err != nil {
		return nil, parseError(format, err)
	}
	if err := checkSchema(raw); err != nil {
		return nil, err
	}
	if err := unmarshal(data, &config); err != nil {
		return nil, parseError(format, err)
	}

	return &config, nil
}

func parseError(format string, err error) error {
	return &ValidationErrors{Errors: []*ValidationError{{
		Field:   "config",
		Message: fmt.Sprintf("failed to parse %s config: %v", format, err),
	}}}
}

// checkSchema validates a generically decoded document against the schema.
// YAML documents are re-encoded as JSON first so both formats share one
// schema.
func checkSchema(raw interface{}) error {
	doc, err := json.Marshal(raw)
	if err != nil {
		return &ValidationErrors{Errors: []*ValidationError{{
			Field:   "config",
			Message: fmt.Sprintf("config is not representable as JSON: %v", err),
		}}}
	}

	schemaErrs := configSchema.ValidateJSON(doc)
	if len(schemaErrs) == 0 {
		return nil
	}

	errs := &ValidationErrors{}
	for _, e := range schemaErrs {
		errs.Add("schema", e.Error())
	}
	return errs
}

// ParseStages parses the compact stage syntax used on the command line:
// "30s:10,1m:50,30s:0". Each entry is duration:target.
func ParseStages(s string) ([]StageConfig, error) {
	var stages []StageConfig

	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		durStr, targetStr, ok := strings.Cut(part, ":")
		if !ok {
			return nil, &ValidationError{
				Field:   fmt.Sprintf("stages[%d]", i),
				Message: fmt.Sprintf("invalid stage %q (expected duration:target, e.g. 30s:10)", part),
			}
		}

		dur, err := ParseDurationString(strings.TrimSpace(durStr))
		if err != nil {
			return nil, &ValidationError{Field: fmt.Sprintf("stages[%d].duration", i), Message: err.Error()}
		}

		target, err := strconv.ParseFloat(strings.TrimSpace(targetStr), 64)
		if err != nil {
			return nil, &ValidationError{
				Field:   fmt.Sprintf("stages[%d].target", i),
				Message: fmt.Sprintf("invalid target %q", targetStr),
			}
		}

		stages = append(stages, StageConfig{Duration: Duration(dur), Target: target})
	}

	if len(stages) == 0 {
		return nil, &ValidationError{Field: "stages", Message: "at least one stage is required"}
	}
	return stages, nil
}
