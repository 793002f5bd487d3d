package spec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mpataki/execwatch/internal/models"
	"gopkg.in/yaml.v3"
)

const defaultTimeout = 30 * time.Minute

// Definition is a replica found on disk: either a YAML task list or a Lua
// script that produces tasks while it runs.
type Definition struct {
	Name        string
	Description string
	Path        string
	Spec        *models.ReplicaSpec // nil for Lua definitions
}

func (d *Definition) IsLua() bool {
	return IsLuaSpec(d.Path)
}

func IsLuaSpec(path string) bool {
	return filepath.Ext(path) == ".lua"
}

func Parse(path string) (*models.ReplicaSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read replica file: %w", err)
	}

	var spec models.ReplicaSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse replica YAML: %w", err)
	}

	if spec.Settings == nil {
		spec.Settings = &models.Settings{}
	}
	if spec.Settings.Timeout == 0 {
		spec.Settings.Timeout = defaultTimeout
	}
	if spec.Settings.Shell == "" {
		spec.Settings.Shell = "/bin/sh"
	}

	return &spec, nil
}

// LoadAll collects replica definitions from dirs. Earlier directories win
// when two define the same name.
func LoadAll(dirs []string) (map[string]*Definition, error) {
	defs := make(map[string]*Definition)

	for _, dir := range dirs {
		if err := loadFromDir(dir, defs); err != nil {
			// Skip directories that don't exist
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
	}

	return defs, nil
}

func loadFromDir(dir string, defs map[string]*Definition) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		path := filepath.Join(dir, name)
		ext := filepath.Ext(name)
		base := strings.TrimSuffix(name, ext)

		var def *Definition
		switch ext {
		case ".lua":
			def = &Definition{Name: base, Description: "Lua replica", Path: path}
		case ".yaml", ".yml":
			spec, err := Parse(path)
			if err != nil {
				return fmt.Errorf("failed to parse %s: %w", path, err)
			}
			if err := Validate(spec); err != nil {
				return fmt.Errorf("invalid replica %s: %w", path, err)
			}
			def = &Definition{Name: spec.Name, Description: spec.Description, Path: path, Spec: spec}
		default:
			continue
		}

		if _, exists := defs[def.Name]; !exists {
			defs[def.Name] = def
		}
	}

	return nil
}

func Validate(spec *models.ReplicaSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("replica must have a name")
	}

	if len(spec.Tasks) == 0 {
		return fmt.Errorf("replica must define at least one task")
	}

	seen := make(map[string]bool)
	for i, t := range spec.Tasks {
		if t == nil || t.Name == "" {
			return fmt.Errorf("task %d must have a name", i+1)
		}
		if t.Command == "" {
			return fmt.Errorf("task %q must have a command", t.Name)
		}
		if seen[t.Name] {
			return fmt.Errorf("task %q defined twice", t.Name)
		}
		seen[t.Name] = true
	}

	if spec.Settings != nil && spec.Settings.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}

	return nil
}
