package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/cobra"

	"github.com/agentforge/builder/internal/agents"
	"github.com/agentforge/builder/internal/capability"
	"github.com/agentforge/builder/internal/config"
	"github.com/agentforge/builder/internal/lmclient"
	"github.com/agentforge/builder/internal/logsink"
	"github.com/agentforge/builder/internal/mcpboot"
	"github.com/agentforge/builder/internal/orchestrator"
	"github.com/agentforge/builder/internal/pregnancy"
	"github.com/agentforge/builder/internal/requirements"
	"github.com/agentforge/builder/internal/sandbox"
	"github.com/agentforge/builder/internal/sidecar"
)

const runIDCharset = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

var (
	projectDir             string
	pregnancyDepth         int
	pregnancySignaturesRaw string
)

var runCmd = &cobra.Command{
	Use:   "run <requirements-path>",
	Short: "Run one build: design tests, generate code, iterate to green",
	Args:  cobra.ExactArgs(1),
	RunE:  runBuild,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&projectDir, "project-dir", "", "Directory to write the generated src/ and tests/ trees into (required)")
	runCmd.Flags().IntVar(&pregnancyDepth, "pregnancy-depth", 0, "Current delegation depth, set by a parent ChildBuilder invocation")
	runCmd.Flags().StringVar(&pregnancySignaturesRaw, "pregnancy-signatures", "[]", "JSON array of capability signatures already seen at shallower depths")
	_ = runCmd.MarkFlagRequired("project-dir")
}

func runBuild(cmd *cobra.Command, args []string) error {
	requirementsPath := args[0]

	rawCfg, err := config.LoadRawConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	requirementsBytes, err := os.ReadFile(requirementsPath)
	if err != nil {
		return fmt.Errorf("reading requirements file %s: %w", requirementsPath, err)
	}
	requirementsText := string(requirementsBytes)
	if sigs := requirements.ExtractSignatures(requirementsText); len(sigs) > 0 {
		requirementsText += "\n\nDetected function/method signatures:\n"
		for _, s := range sigs {
			requirementsText += "  " + s + "\n"
		}
	}

	var seenSignatures []string
	if err := json.Unmarshal([]byte(pregnancySignaturesRaw), &seenSignatures); err != nil {
		return fmt.Errorf("parsing --pregnancy-signatures: %w", err)
	}

	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return fmt.Errorf("creating project directory %s: %w", projectDir, err)
	}

	runID := gonanoid.MustGenerate(runIDCharset, 10)

	logDir := filepath.Join(projectDir, ".builder", "logs")
	sink, err := logsink.Open(logDir, runID, logsink.ParseLevel(rawCfg.Logging.Level))
	if err != nil {
		return fmt.Errorf("opening run log: %w", err)
	}
	defer sink.Close()

	ctx := cmd.Context()

	testDesignerClient, err := lmclient.New(ctx, toModelConfig(rawCfg.TestDesignerModel), "")
	if err != nil {
		return fmt.Errorf("constructing test designer model: %w", err)
	}
	codeGeneratorClient, err := lmclient.New(ctx, toModelConfig(rawCfg.CodeGeneratorModel), "")
	if err != nil {
		return fmt.Errorf("constructing code generator model: %w", err)
	}

	testDesigner := &agents.TestDesigner{
		Client:                   testDesignerClient,
		MaxDynamicSidecarsPerRun: rawCfg.MCP.DynamicMaxSidecarsPerRun,
		AllowNodeStdio:           rawCfg.MCP.AllowNodeStdio,
	}
	codeGenerator := &agents.CodeGenerator{Client: codeGeneratorClient}

	var gate *capability.Gate
	if rawCfg.CapabilityGate.Enabled {
		capabilityClient, err := lmclient.New(ctx, toModelConfig(rawCfg.CapabilityModel), "")
		if err != nil {
			return fmt.Errorf("constructing capability checker model: %w", err)
		}
		checker := &agents.CapabilityChecker{Client: capabilityClient}
		gate = capability.New(capability.Config{
			Enabled:             true,
			ConfidenceThreshold: rawCfg.CapabilityGate.ConfidenceThreshold,
			TestHarnessCommand:  rawCfg.CapabilityGate.TestHarnessCommand,
			InterpreterCommand:  rawCfg.CapabilityGate.InterpreterCommand,
		}, checker)
	}

	var sidecars *sidecar.Manager
	mcpEnabled := rawCfg.MCP.PresetMode != string(mcpboot.ModePythonStdioOnly)
	if mcpEnabled {
		sidecars = sidecar.NewManager(sidecar.Config{
			Enabled:           true,
			BasePort:          rawCfg.MCP.SidecarPortRangeStart,
			PortSpan:          rawCfg.MCP.SidecarPortRangeEnd - rawCfg.MCP.SidecarPortRangeStart,
			MaxSidecarsPerRun: rawCfg.MCP.DynamicMaxSidecarsPerRun,
			InstallTimeout:    2 * time.Minute,
			StartupTimeout:    30 * time.Second,
			LogDir:            logDir,
		})
	}

	repoRoot, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving repository root: %w", err)
	}

	o := &orchestrator.Orchestrator{
		Config: orchestrator.Config{
			MaxFixIterations:       rawCfg.MaxFixIterations,
			MCPUnavailableBehavior: orchestrator.MCPUnavailableBehavior(rawCfg.MCP.UnavailableBehavior),
			CleanOutputBeforeWrite: rawCfg.CleanOutputBeforeWrite,
			CapabilityGateEnabled:  rawCfg.CapabilityGate.Enabled,
			MCPBootstrapEnabled:    mcpEnabled,
		},
		CapabilityGate: gate,
		Bootstrap: mcpboot.Config{
			Mode:             mcpboot.PresetMode(rawCfg.MCP.PresetMode),
			AllowNodeStdio:   rawCfg.MCP.AllowNodeStdio,
			FilesystemEnvVar: rawCfg.MCP.FilesystemEndpointEnvVar,
			BrowserEnvVar:    rawCfg.MCP.BrowserEndpointEnvVar,
		},
		TestDesigner:  testDesigner,
		CodeGenerator: codeGenerator,
		SandboxOpts: sandbox.Options{
			Harness:              sandbox.Harness{Command: rawCfg.Sandbox.HarnessCommand, Args: rawCfg.Sandbox.HarnessArgs},
			Timeout:              time.Duration(rawCfg.Sandbox.TimeoutSeconds) * time.Second,
			KeepSandboxOnFailure: rawCfg.Sandbox.KeepSandboxOnFailure,
		},
		Sidecars: sidecars,
		Pregnancy: pregnancy.Config{
			MaxDepth:       rawCfg.Pregnancy.MaxDepth,
			WorkspaceDir:   rawCfg.Pregnancy.WorkspaceDir,
			TimeoutSeconds: rawCfg.Pregnancy.TimeoutSeconds,
			BuilderCommand: rawCfg.BuilderCommand,
			BuilderArgs:    rawCfg.BuilderArgs,
		},
		RepoRoot:   repoRoot,
		RunID:      runID,
		RunLogFile: filepath.Join(logDir, fmt.Sprintf("run_%s.jsonl", runID)),
		Progress: func(e orchestrator.ProgressEvent) {
			sink.Event(logsink.LevelInfo, "orchestrator", e.Label, map[string]any{
				"step":   e.Step,
				"detail": e.Detail,
			})
		},
	}

	result, err := o.Run(ctx, orchestrator.RunInput{
		RequirementsPath: requirementsPath,
		RequirementsText: requirementsText,
		ProjectDir:       projectDir,
		Depth:            pregnancyDepth,
		SeenSignatures:   seenSignatures,
	})
	if err != nil {
		sink.Event(logsink.LevelCritical, "run", "aborted", map[string]any{"error": err.Error()})
		return fmt.Errorf("run %s aborted: %w", runID, err)
	}

	summary := map[string]any{
		"all_passed":      result.AllPassed,
		"total_tests":     result.TotalTests,
		"passed":          result.Passed,
		"failed":          result.Failed,
		"failure_details": result.FailureDetails,
	}
	if result.MCPSummary != nil {
		summary["mcp_summary"] = result.MCPSummary
	}
	for k, v := range result.Extra {
		summary[k] = v
	}
	summaryJSON, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(summaryJSON))

	if !result.AllPassed {
		os.Exit(1)
	}
	return nil
}

func toModelConfig(m config.ModelSpec) lmclient.ModelConfig {
	return lmclient.ModelConfig{
		ID:         m.ID,
		Type:       lmclient.ProviderType(m.Type),
		BaseURL:    m.BaseURL,
		APIKeyEnv:  m.APIKeyEnv,
		MaxRetries: m.MaxRetries,
	}
}
