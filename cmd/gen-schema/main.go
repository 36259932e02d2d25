package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"github.com/agentforge/builder/internal/capability"
	"github.com/agentforge/builder/internal/config"
)

func main() {
	if err := generateSchema(); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating schema: %v\n", err)
		os.Exit(1)
	}
}

func generateSchema() error {
	moduleRoot, err := resolveModuleRoot()
	if err != nil {
		return err
	}
	schemaDir := filepath.Join(moduleRoot, "schema")
	if err := os.MkdirAll(schemaDir, 0755); err != nil {
		return fmt.Errorf("failed to create schema directory: %w", err)
	}

	if err := writeSchema(&config.RawConfig{}, "Builder Configuration Schema",
		"JSON Schema for the autonomous test-and-code builder's configuration file",
		filepath.Join(schemaDir, "builder-config-schema.json")); err != nil {
		return err
	}

	return writeSchema(&capability.Decision{}, "Capability Gate Decision Schema",
		"JSON Schema for the CapabilityGate's decision record",
		filepath.Join(schemaDir, "capability-decision-schema.json"))
}

func writeSchema(v any, title, description, path string) error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		RequiredFromJSONSchemaTags: true,
	}
	schema := reflector.Reflect(v)
	schema.Title = title
	schema.Description = description
	schema.Version = "https://json-schema.org/draft/2020-12/schema"

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal schema for %s: %w", title, err)
	}
	if err := os.WriteFile(path, schemaJSON, 0644); err != nil {
		return fmt.Errorf("failed to write schema file %s: %w", path, err)
	}
	fmt.Printf("Generated schema: %s\n", path)
	return nil
}

func resolveModuleRoot() (string, error) {
	if gomod := os.Getenv("GOMOD"); gomod != "" {
		return filepath.Dir(gomod), nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return findModuleRoot(wd), nil
}

func findModuleRoot(start string) string {
	current := start
	for {
		if _, err := os.Stat(filepath.Join(current, "go.mod")); err == nil {
			return current
		}
		parent := filepath.Dir(current)
		if parent == current {
			return current
		}
		current = parent
	}
}
