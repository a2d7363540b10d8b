// Package config loads the CLI's optional YAML configuration file,
// layered underneath flag overrides in cmd/mcp/main.go.
//
// Grounded on mutablelogic-go-llm's yaml.v3-based config loading idiom.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of the optional --config file.
type File struct {
	ClientName    string   `yaml:"client_name"`
	ClientVersion string   `yaml:"client_version"`
	BearerToken   string   `yaml:"bearer_token"`
	Scopes        []string `yaml:"scopes"`
}

// Load reads and parses path. A missing path is not an error: the
// caller runs with flag-only defaults.
func Load(path string) (File, error) {
	var f File
	if path == "" {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, err
	}
	return f, nil
}
