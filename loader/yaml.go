// Package loader reads flow definitions from YAML files.
package loader

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/flowforge/flowforge/flow"
)

// Parse unmarshals a single YAML document into a validated definition.
func Parse(data []byte) (*flow.Definition, error) {
	var def flow.Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("error unmarshalling YAML: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Load reads and parses one flow file.
func Load(path string) (*flow.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// LoadDir parses every *.yaml file in a directory. A missing directory is
// not an error, it just yields no flows.
func LoadDir(dir string) ([]*flow.Definition, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("error reading directory: %w", err)
	}

	defs := make([]*flow.Definition, 0, len(files))
	for _, file := range files {
		def, err := Load(file)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}
