package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a workflow file from path, stamping the result's
// Path field so later stages (checkpoint, resume) can record provenance.
func Load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", path, err)
	}

	var w Workflow
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse workflow %s: %w", path, err)
	}
	w.Path = path

	if w.ID == "" {
		return nil, fmt.Errorf("workflow %s: missing name", path)
	}
	if !w.HasMapReduce() && len(w.Commands) == 0 {
		return nil, fmt.Errorf("workflow %s: no commands and no map/reduce phases", path)
	}
	return &w, nil
}
