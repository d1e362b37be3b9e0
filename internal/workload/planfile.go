package workload

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"goflare.io/tierbench/internal/models"
)

// File is the on-disk form of a generated workload.
type File struct {
	Seed    uint64                `yaml:"seed"`
	Workers int                   `yaml:"workers"`
	Stats   Stats                 `yaml:"stats"`
	Units   []models.WorkloadUnit `yaml:"units"`
}

// WriteFile stores f as YAML at path.
func WriteFile(path string, f File) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode workload: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write workload %s: %w", path, err)
	}
	return nil
}

// ReadFile loads a workload written by WriteFile.
func ReadFile(path string) (File, error) {
	var f File
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("failed to read workload %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("failed to decode workload %s: %w", path, err)
	}
	for i, u := range f.Units {
		if u.CadenceMinutes == 0 {
			f.Units[i].CadenceMinutes = models.CadenceMinutes(u.Timeframe)
		}
	}
	return f, nil
}
