package project

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const ExampleCapabilityFile = "_example.yaml"

// ExampleCapabilityTemplate is written with a leading underscore so Load skips
// it until the user renames it.
const ExampleCapabilityTemplate = `id: stepper
name: Stepper Skill
description: Creates multi-step progress indicators
triggers: [stepper, wizard, steps, progress]
priority: 6
tokens_used: 160
latency_ms: 250
summary: Created a three-step progress indicator with completed, current and upcoming states.
snippet: |
  export function Stepper() {
    const steps = ['Account', 'Profile', 'Confirm']
    return (
      <ol className="flex items-center gap-4">
        {steps.map((step, i) => (
          <li key={step} className="flex items-center gap-2 text-sm font-medium text-gray-700">
            <span className="w-8 h-8 rounded-full bg-blue-600 text-white flex items-center justify-center">{i + 1}</span>
            {step}
          </li>
        ))}
      </ol>
    )
  }
`

func SaveRootConfig(workspace string, root RootConfig) error {
	if root.Version <= 0 {
		root.Version = 1
	}
	b, err := yaml.Marshal(&root)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", RootConfigFile, err)
	}
	rootPath := filepath.Join(workspace, RootConfigFile)
	if err := os.WriteFile(rootPath, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rootPath, err)
	}
	return nil
}

// InitWorkspace writes a default uigen.yaml and an example capability.
// Existing files are kept unless force is set.
func InitWorkspace(workspace string, force bool) error {
	capDir := filepath.Join(workspace, CapabilitiesDir)
	if err := os.MkdirAll(capDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", capDir, err)
	}
	rootPath := filepath.Join(workspace, RootConfigFile)
	if exists, err := fileExists(rootPath); err != nil {
		return err
	} else if !exists || force {
		if err := SaveRootConfig(workspace, DefaultRootConfig()); err != nil {
			return err
		}
	}
	examplePath := filepath.Join(capDir, ExampleCapabilityFile)
	if exists, err := fileExists(examplePath); err != nil {
		return err
	} else if exists && !force {
		return nil
	}
	if err := os.WriteFile(examplePath, []byte(ExampleCapabilityTemplate), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", examplePath, err)
	}
	return nil
}

func fileExists(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return true, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return false, nil
}
