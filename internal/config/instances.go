package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/recast/internal/models"
)

type instancesFile struct {
	Instances []models.Instance `yaml:"instances"`
}

// LoadInstances reads the instance seed file at path.
// Instances without an explicit "active" key are active.
func LoadInstances(path string) ([]models.Instance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instances file: %w", err)
	}
	return ParseInstances(data)
}

// ParseInstances decodes a YAML instances document.
func ParseInstances(data []byte) ([]models.Instance, error) {
	var raw struct {
		Instances []map[string]any `yaml:"instances"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse instances: %w", err)
	}
	var file instancesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse instances: %w", err)
	}

	seen := make(map[string]bool, len(file.Instances))
	for i := range file.Instances {
		inst := &file.Instances[i]
		if inst.ID == "" {
			return nil, fmt.Errorf("instance %d: id is required", i)
		}
		if seen[inst.ID] {
			return nil, fmt.Errorf("instance %q: duplicate id", inst.ID)
		}
		seen[inst.ID] = true

		if _, ok := raw.Instances[i]["active"]; !ok {
			inst.Active = true
		}
		if inst.Name == "" {
			inst.Name = inst.ID
		}
		if inst.PrimaryKey == "" {
			inst.PrimaryKey = "id"
		}
	}
	return file.Instances, nil
}
