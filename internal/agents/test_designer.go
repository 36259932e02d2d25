package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/agentforge/builder/internal/fileset"
	"github.com/agentforge/builder/internal/mcpmodel"
)

// TestingNeed is one category of test coverage the analyze phase identified.
type TestingNeed struct {
	Category    string `json:"category"`
	Description string `json:"description"`
}

// Analysis is the analyze phase's parsed output.
type Analysis struct {
	ProductType  string        `json:"product_type"`
	UserConcerns []string      `json:"user_concerns"`
	TestingNeeds []TestingNeed `json:"testing_needs"`
}

var validTestingCategories = map[string]bool{
	"unit": true, "browser": true, "accessibility": true, "api": true, "performance": true,
}

func defaultAnalysis() Analysis {
	return Analysis{
		ProductType: "unknown",
		TestingNeeds: []TestingNeed{
			{Category: "unit", Description: "default unit coverage"},
		},
	}
}

// TestDesigner implements the analyze, tool-selection, test-generation,
// plan, and adapt phases of §4.9.
type TestDesigner struct {
	Client                   Completer
	MaxDynamicSidecarsPerRun int
	AllowNodeStdio           bool
}

const analyzeSystemPrompt = `You analyze software requirements to identify what kind of product is being built and what testing is needed. Respond with a single fenced JSON object: {"product_type": string, "user_concerns": [string], "testing_needs": [{"category": one of "unit"|"browser"|"accessibility"|"api"|"performance", "description": string}]}.`

// Analyze runs the analyze phase, defaulting to a unit-only need on any
// parse failure.
func (d *TestDesigner) Analyze(ctx context.Context, requirementsText string) Analysis {
	text, err := d.Client.Complete(ctx, instructedDialog(analyzeSystemPrompt, "Requirements:\n"+requirementsText))
	if err != nil {
		return defaultAnalysis()
	}

	raw := extractJSON(text)
	if raw == "" {
		return defaultAnalysis()
	}

	var resp struct {
		ProductType  string          `json:"product_type"`
		UserConcerns json.RawMessage `json:"user_concerns"`
		TestingNeeds []struct {
			Category    string `json:"category"`
			Description string `json:"description"`
		} `json:"testing_needs"`
	}
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return defaultAnalysis()
	}

	var needs []TestingNeed
	for _, n := range resp.TestingNeeds {
		if !validTestingCategories[n.Category] {
			continue
		}
		needs = append(needs, TestingNeed{Category: n.Category, Description: n.Description})
	}
	if len(needs) == 0 {
		needs = []TestingNeed{{Category: "unit", Description: "default unit coverage"}}
	}

	return Analysis{
		ProductType:  resp.ProductType,
		UserConcerns: stringifyList(resp.UserConcerns),
		TestingNeeds: needs,
	}
}

const toolSelectionSystemPrompt = `You select MCP servers to exercise a product under test. Respond with a single fenced JSON array of entries: either {"name","command","args","install_cmd"} for static stdio servers, or {"name","transport","package","sidecar_cmd","install_cmd","sidecar_port","tool_hints"} for dynamically-provisioned http_sse sidecars.`

var nodeFamilyCommands = map[string]bool{"node": true, "npx": true, "npm": true}
var nodeFamilyArgMarkers = []string{"@modelcontextprotocol/", "@playwright/mcp"}

func isNodeFamily(command string, args []string) bool {
	if nodeFamilyCommands[path.Base(command)] {
		return true
	}
	for _, a := range args {
		for _, marker := range nodeFamilyArgMarkers {
			if strings.Contains(a, marker) {
				return true
			}
		}
	}
	return false
}

type toolSelectionEntry struct {
	Name        string   `json:"name"`
	Command     string   `json:"command"`
	Args        []string `json:"args"`
	InstallCmd  string   `json:"install_cmd"`
	Transport   string   `json:"transport"`
	Package     string   `json:"package"`
	SidecarCmd  string   `json:"sidecar_cmd"`
	SidecarPort int      `json:"sidecar_port"`
	ToolHints   []string `json:"tool_hints"`
}

// SelectTools runs the tool-selection phase: rejects node-family stdio
// commands unless configured otherwise, normalizes filesystem-server
// arguments to the project-scoped workspace path, deduplicates dynamic
// entries by name and install spec, and caps the dynamic list at
// MaxDynamicSidecarsPerRun.
func (d *TestDesigner) SelectTools(ctx context.Context, analysis Analysis, bootstrap mcpmodel.BootstrapResult, projectDir string) ([]mcpmodel.Server, error) {
	prompt := fmt.Sprintf("Product type: %s\nAvailable preset servers: %v\n\nSelect MCP servers for testing.", analysis.ProductType, bootstrap.Available)
	text, err := d.Client.Complete(ctx, instructedDialog(toolSelectionSystemPrompt, prompt))
	if err != nil {
		return nil, err
	}

	raw := extractJSON(text)
	if raw == "" {
		return nil, nil
	}

	var entries []toolSelectionEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, nil
	}

	seenNames := map[string]bool{}
	seenInstallSpecs := map[string]bool{}
	var servers []mcpmodel.Server
	dynamicCount := 0
	maxDynamic := d.MaxDynamicSidecarsPerRun
	if maxDynamic <= 0 {
		maxDynamic = 4
	}

	for _, e := range entries {
		if e.Name == "" || seenNames[e.Name] {
			continue
		}

		if e.Transport == string(mcpmodel.TransportHTTPSSE) || e.Package != "" {
			installSpec := e.Package + "|" + e.SidecarCmd
			if seenInstallSpecs[installSpec] {
				continue
			}
			if dynamicCount >= maxDynamic {
				continue
			}
			seenNames[e.Name] = true
			seenInstallSpecs[installSpec] = true
			dynamicCount++
			servers = append(servers, mcpmodel.Server{
				Name:           e.Name,
				Transport:      mcpmodel.TransportHTTPSSE,
				DynamicSidecar: true,
				SidecarPackage: e.Package,
				SidecarCommand: e.SidecarCmd,
				SidecarPort:    e.SidecarPort,
				InstallCmd:     e.InstallCmd,
			})
			continue
		}

		args := normalizeFilesystemArgs(e.Name, e.Args, projectDir)
		if !d.AllowNodeStdio && isNodeFamily(e.Command, args) {
			continue
		}
		seenNames[e.Name] = true
		servers = append(servers, mcpmodel.Server{
			Name:       e.Name,
			Transport:  mcpmodel.TransportStdio,
			Command:    e.Command,
			Args:       args,
			InstallCmd: e.InstallCmd,
		})
	}

	return servers, nil
}

// normalizeFilesystemArgs rewrites the last positional argument of a
// filesystem-server entry to the project-scoped workspace path.
func normalizeFilesystemArgs(name string, args []string, projectDir string) []string {
	if !strings.Contains(strings.ToLower(name), "filesystem") || len(args) == 0 {
		return args
	}
	out := append([]string{}, args...)
	out[len(out)-1] = path.Join(projectDir, ".mcp", "filesystem")
	return out
}

const testGenerationSystemPrompt = `Generate the test suite. Respond with one fenced code block per test file. Each block's first line must be a comment naming the file, e.g. "# tests/test_feature.py".`

var assertLineRe = regexp.MustCompile(`(?m)^\s*assert\b.*$`)

// GenerateTests runs the test-generation phase: parses fenced blocks into a
// FileSet, enforces the test_ filename prefix, drops empty blocks, and on an
// entirely empty response falls back to example assertions scraped from the
// requirements.
func (d *TestDesigner) GenerateTests(ctx context.Context, requirementsText string, analysis Analysis) (*fileset.FileSet, error) {
	prompt := fmt.Sprintf("Requirements:\n%s\n\nTesting needs: %+v\n\nGenerate the tests.", requirementsText, analysis.TestingNeeds)
	text, err := d.Client.Complete(ctx, instructedDialog(testGenerationSystemPrompt, prompt))
	if err != nil {
		return nil, err
	}

	fs := fileset.ParseResponse(text)
	fs = enforceTestPrefix(fs)

	if fs.Len() == 0 {
		return fallbackAssertionTests(requirementsText), nil
	}
	return fs, nil
}

func enforceTestPrefix(fs *fileset.FileSet) *fileset.FileSet {
	out := fileset.New()
	for _, p := range fs.Paths() {
		content, _ := fs.Get(p)
		if strings.TrimSpace(content) == "" {
			continue
		}
		dir, base := path.Split(p)
		if !strings.HasPrefix(base, "test_") {
			base = "test_" + base
		}
		out.Set(path.Join(dir, base), content)
	}
	return out
}

func fallbackAssertionTests(requirementsText string) *fileset.FileSet {
	out := fileset.New()
	matches := assertLineRe.FindAllString(requirementsText, -1)
	if len(matches) == 0 {
		return out
	}
	var b strings.Builder
	b.WriteString("def test_from_requirements_examples():\n")
	for _, m := range matches {
		b.WriteString("    " + strings.TrimSpace(m) + "\n")
	}
	out.Set("tests/test_fallback.py", b.String())
	return out
}

const planSystemPrompt = `Produce an MCP test plan. Respond with a single fenced JSON array of step objects: {"description","server","tool","arguments","expected"}.`

// Plan runs the plan phase, filtering steps to the set of installed server
// names.
func (d *TestDesigner) Plan(ctx context.Context, requirementsText string, servers []mcpmodel.Server) (*mcpmodel.Plan, error) {
	names := make([]string, len(servers))
	for i, s := range servers {
		names[i] = s.Name
	}
	sort.Strings(names)

	prompt := fmt.Sprintf("Requirements:\n%s\n\nInstalled servers: %v\n\nProduce the MCP test plan.", requirementsText, names)
	text, err := d.Client.Complete(ctx, instructedDialog(planSystemPrompt, prompt))
	if err != nil {
		return nil, err
	}

	raw := extractJSON(text)
	plan := &mcpmodel.Plan{Servers: servers}
	if raw == "" {
		return plan, nil
	}

	var steps []mcpmodel.Step
	if err := json.Unmarshal([]byte(raw), &steps); err != nil {
		return plan, nil
	}
	plan.Steps = steps
	plan.FilterStepsToKnownServers()
	return plan, nil
}

const adaptSystemPrompt = `Rewrite the given tests so their imports and symbol references match the generated source code. Preserve every non-import line verbatim. Respond with one fenced code block per test file you change, first line naming the file, e.g. "# tests/test_feature.py". Omit files you did not need to change.`

// Adapt runs the adapt phase: rewrites import/symbol references in tests to
// match the generated code, merging by filename and preserving originals
// for files the response did not touch.
func (d *TestDesigner) Adapt(ctx context.Context, tests, code *fileset.FileSet) (*fileset.FileSet, error) {
	prompt := fmt.Sprintf("Tests:\n%s\n\nGenerated code:\n%s\n\nAdapt the tests.", fileset.Serialize(tests), fileset.Serialize(code))
	text, err := d.Client.Complete(ctx, instructedDialog(adaptSystemPrompt, prompt))
	if err != nil {
		return nil, err
	}

	updated := fileset.ParseResponse(text)
	return fileset.MergeFallback(tests, updated), nil
}
