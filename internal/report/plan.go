package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrMalformedPlan = errors.New("malformed terraform plan")
)

// Plan is a Terraform plan as read from disk: either `terraform show -json` output or plain text.
type Plan struct {
	Name string
	Text string
	JSON json.RawMessage // nil for text plans
}

// IsJSON reports whether the plan was parsed as JSON.
func (p Plan) IsJSON() bool { return p.JSON != nil }

// Value returns what is embedded under "terraform_plan": the JSON document or the raw text.
func (p Plan) Value() any {
	if p.IsJSON() {
		return p.JSON
	}
	return p.Text
}

// ReadPlan reads and parses the plan at path.
func ReadPlan(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("failed to read plan %s: %w", path, err)
	}
	return ParsePlan(path, data)
}

// ParsePlan treats data as JSON when name ends in .json or the content starts with '{' or '['.
func ParsePlan(name string, data []byte) (Plan, error) {
	plan := Plan{Name: name, Text: string(data)}

	trimmed := bytes.TrimSpace(data)
	looksJSON := strings.HasSuffix(strings.ToLower(name), ".json") ||
		(len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '['))
	if !looksJSON {
		return plan, nil
	}

	if !json.Valid(trimmed) {
		return Plan{}, fmt.Errorf("%w: %s is not valid JSON", ErrMalformedPlan, name)
	}
	plan.JSON = json.RawMessage(trimmed)
	return plan, nil
}
