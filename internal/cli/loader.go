package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loom-app/loom/internal/device"
	"github.com/loom-app/loom/internal/flow"
	"github.com/loom-app/loom/internal/schema"
)

// FlowIssue is one problem found while loading a flow file.
type FlowIssue struct {
	File    string `json:"file"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// LoadFlows reads every *.json under dir, validates each against the flow
// schema, and decodes the valid ones. Files load in name order so flow
// activation order is stable across runs.
func LoadFlows(dir string) ([]*flow.Flow, []FlowIssue, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read flows dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var flows []*flow.Flow
	var issues []FlowIssue
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", path, err)
		}

		if errs := schema.ValidateFlow(data); len(errs) > 0 {
			for _, ve := range errs {
				issues = append(issues, FlowIssue{
					File:    name,
					Code:    ve.Code,
					Field:   ve.Field,
					Message: ve.Message,
					Line:    ve.Line,
				})
			}
			continue
		}

		f, err := flow.Decode(data)
		if err != nil {
			issues = append(issues, FlowIssue{File: name, Code: schema.ErrCodeSchema, Message: err.Error()})
			continue
		}
		flows = append(flows, f)
	}
	return flows, issues, nil
}

// loadCatalog reads devices.json, validates it against the catalog schema,
// and parses it.
func loadCatalog(path string) (*device.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read device catalog: %w", err)
	}
	if errs := schema.ValidateCatalog(data); len(errs) > 0 {
		return nil, fmt.Errorf("device catalog %s: %w", path, errs[0])
	}
	return device.ParseCatalog(data)
}

// catalogIssues validates devices.json for the validate command. A missing
// file is not an issue; the catalog is optional.
func catalogIssues(path string) ([]FlowIssue, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read device catalog: %w", err)
	}

	var issues []FlowIssue
	name := filepath.Base(path)
	for _, ve := range schema.ValidateCatalog(data) {
		issues = append(issues, FlowIssue{
			File:    name,
			Code:    ve.Code,
			Field:   ve.Field,
			Message: ve.Message,
			Line:    ve.Line,
		})
	}
	return issues, nil
}
