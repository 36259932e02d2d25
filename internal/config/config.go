// Package config defines the Builder's configuration schema and validation,
// grounded on the teacher's internal/config package: a RawConfig loaded from
// YAML/JSON and checked with github.com/go-playground/validator/v10 struct
// tags, mirrored here with the Builder's own fields instead of the teacher's
// model registry and MCP client config.
package config

//go:generate go run github.com/agentforge/builder/cmd/gen-schema

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ModelSpec names one LM endpoint used by an agent role.
type ModelSpec struct {
	ID         string `yaml:"id" json:"id" validate:"required"`
	Type       string `yaml:"type" json:"type" validate:"required,oneof=anthropic openai"`
	BaseURL    string `yaml:"base_url,omitempty" json:"base_url,omitempty" validate:"omitempty,http_url|https_url"`
	APIKeyEnv  string `yaml:"api_key_env" json:"api_key_env" validate:"required"`
	MaxRetries int    `yaml:"max_retries,omitempty" json:"max_retries,omitempty" validate:"omitempty,gt=0"`
}

// SandboxConfig bounds the Sandbox's harness invocation.
type SandboxConfig struct {
	HarnessCommand       string   `yaml:"harness_command" json:"harness_command" validate:"required"`
	HarnessArgs          []string `yaml:"harness_args,omitempty" json:"harness_args,omitempty"`
	TimeoutSeconds       int      `yaml:"timeout_seconds" json:"timeout_seconds" validate:"gt=0"`
	KeepSandboxOnFailure bool     `yaml:"keep_sandbox_on_failure,omitempty" json:"keep_sandbox_on_failure,omitempty"`
}

// CapabilityGateConfig bounds the CapabilityGate.
type CapabilityGateConfig struct {
	Enabled             bool    `yaml:"enabled" json:"enabled"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" json:"confidence_threshold" validate:"gte=0,lte=1"`
	TestHarnessCommand  string  `yaml:"test_harness_command,omitempty" json:"test_harness_command,omitempty"`
	InterpreterCommand  string  `yaml:"interpreter_command,omitempty" json:"interpreter_command,omitempty"`
}

// PregnancyConfigSpec bounds ChildBuilder.
type PregnancyConfigSpec struct {
	MaxDepth       int    `yaml:"max_depth" json:"max_depth" validate:"gte=0"`
	WorkspaceDir   string `yaml:"workspace_dir" json:"workspace_dir" validate:"required"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds" validate:"gt=0"`
}

// MCPConfig bounds MCPBootstrap and the SidecarManager.
type MCPConfig struct {
	PresetMode               string `yaml:"preset_mode,omitempty" json:"preset_mode,omitempty" validate:"omitempty,oneof=python_plus_node_sidecar python_stdio_only"`
	AllowNodeStdio           bool   `yaml:"allow_node_stdio,omitempty" json:"allow_node_stdio,omitempty"`
	FilesystemEndpointEnvVar string `yaml:"filesystem_endpoint_env_var,omitempty" json:"filesystem_endpoint_env_var,omitempty"`
	BrowserEndpointEnvVar    string `yaml:"browser_endpoint_env_var,omitempty" json:"browser_endpoint_env_var,omitempty"`
	UnavailableBehavior      string `yaml:"unavailable_behavior" json:"unavailable_behavior" validate:"required,oneof=fail_closed warn_and_continue unit_only_fallback"`
	DynamicMaxSidecarsPerRun int    `yaml:"dynamic_max_sidecars_per_run" json:"dynamic_max_sidecars_per_run" validate:"gt=0"`
	SidecarPortRangeStart    int    `yaml:"sidecar_port_range_start" json:"sidecar_port_range_start" validate:"gt=0"`
	SidecarPortRangeEnd      int    `yaml:"sidecar_port_range_end" json:"sidecar_port_range_end" validate:"gtfield=SidecarPortRangeStart"`
}

// LoggingConfig bounds the structured logger sink.
type LoggingConfig struct {
	Level    string `yaml:"level,omitempty" json:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	FilePath string `yaml:"file_path,omitempty" json:"file_path,omitempty"`
	JSON     bool   `yaml:"json,omitempty" json:"json,omitempty"`
}

// RawConfig is the top-level file-format shape, validated once on load.
type RawConfig struct {
	TestDesignerModel  ModelSpec `yaml:"test_designer_model" json:"test_designer_model" validate:"required"`
	CodeGeneratorModel ModelSpec `yaml:"code_generator_model" json:"code_generator_model" validate:"required"`
	CapabilityModel    ModelSpec `yaml:"capability_checker_model" json:"capability_checker_model" validate:"omitempty"`

	MaxFixIterations       int                  `yaml:"max_fix_iterations" json:"max_fix_iterations" validate:"gt=0"`
	CleanOutputBeforeWrite bool                 `yaml:"clean_output_before_write,omitempty" json:"clean_output_before_write,omitempty"`
	Sandbox                SandboxConfig        `yaml:"sandbox" json:"sandbox" validate:"required"`
	CapabilityGate         CapabilityGateConfig `yaml:"capability_gate" json:"capability_gate"`
	Pregnancy              PregnancyConfigSpec  `yaml:"pregnancy" json:"pregnancy" validate:"required"`
	MCP                    MCPConfig            `yaml:"mcp" json:"mcp" validate:"required"`
	Logging                LoggingConfig        `yaml:"logging,omitempty" json:"logging,omitempty"`

	BuilderCommand string   `yaml:"builder_command" json:"builder_command" validate:"required"`
	BuilderArgs    []string `yaml:"builder_args,omitempty" json:"builder_args,omitempty"`
}

// Validate runs struct-tag validation.
func (c *RawConfig) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Default returns a RawConfig populated with the defaults a fresh checkout
// should run against, before any builder.yaml overrides are applied.
func Default() RawConfig {
	return RawConfig{
		TestDesignerModel:  ModelSpec{ID: "claude-sonnet-4-5", Type: "anthropic", APIKeyEnv: "ANTHROPIC_API_KEY", MaxRetries: 3},
		CodeGeneratorModel: ModelSpec{ID: "claude-sonnet-4-5", Type: "anthropic", APIKeyEnv: "ANTHROPIC_API_KEY", MaxRetries: 3},
		CapabilityModel:    ModelSpec{ID: "claude-sonnet-4-5", Type: "anthropic", APIKeyEnv: "ANTHROPIC_API_KEY", MaxRetries: 3},
		MaxFixIterations:   3,
		Sandbox: SandboxConfig{
			HarnessCommand: "pytest",
			HarnessArgs:    []string{"-v"},
			TimeoutSeconds: 120,
		},
		CapabilityGate: CapabilityGateConfig{
			Enabled:             true,
			ConfidenceThreshold: 0.6,
		},
		Pregnancy: PregnancyConfigSpec{
			MaxDepth:       2,
			WorkspaceDir:   ".builder/pregnancy",
			TimeoutSeconds: 900,
		},
		MCP: MCPConfig{
			UnavailableBehavior:      "warn_and_continue",
			DynamicMaxSidecarsPerRun: 4,
			SidecarPortRangeStart:    38100,
			SidecarPortRangeEnd:      38200,
		},
		Logging:        LoggingConfig{Level: "info"},
		BuilderCommand: "builder",
	}
}
