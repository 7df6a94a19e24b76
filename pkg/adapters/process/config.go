package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProcessConfig represents one allow-listed command.
type ProcessConfig struct {
	Name        string            `yaml:"name" json:"name"`
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args" json:"args"`
	Environment map[string]string `yaml:"env" json:"env"`
	Description string            `yaml:"description" json:"description"`
}

// ModuleConfig is one service module made of processes.
type ModuleConfig struct {
	Name      string          `yaml:"name" json:"name"`
	BaseDir   string          `yaml:"base_dir" json:"base_dir"`
	Processes []ProcessConfig `yaml:"processes" json:"processes"`
}

// ConfigFile represents the structure of services.yaml.
type ConfigFile struct {
	Modules []ModuleConfig `yaml:"modules" json:"modules"`
}

// LoadModules reads a configuration file (YAML or JSON) and builds one Module
// per configured module name. A missing file yields no modules.
func LoadModules(path string) (map[string]*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*Module{}, nil
		}
		return nil, fmt.Errorf("failed to read services config: %w", err)
	}

	cfg, err := ParseConfig(data, strings.ToLower(filepath.Ext(path)) == ".json")
	if err != nil {
		return nil, err
	}

	modules := make(map[string]*Module, len(cfg.Modules))
	for _, mc := range cfg.Modules {
		if mc.Name == "" {
			continue
		}
		procs := make(map[string]ProcessConfig, len(mc.Processes))
		for _, p := range mc.Processes {
			if p.Name == "" {
				continue
			}
			procs[p.Name] = p
		}
		modules[mc.Name] = NewModule(WithProcesses(procs), WithBaseDir(mc.BaseDir))
	}
	return modules, nil
}

// ParseConfig decodes a services configuration document.
func ParseConfig(data []byte, isJSON bool) (*ConfigFile, error) {
	var cfg ConfigFile
	if isJSON {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse services config: %w", err)
		}
		return &cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse services config: %w", err)
	}
	return &cfg, nil
}
