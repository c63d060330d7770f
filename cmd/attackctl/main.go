// Command attackctl drives the orchestrator from the command line: it
// fingerprints a target, dispatches a CAMRO run against it, and can
// inspect what the graph store holds for a given fingerprint.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kestrelsec/attackgraph/graph"
	"github.com/kestrelsec/attackgraph/graph/compile"
	"github.com/kestrelsec/attackgraph/graph/dispatch"
	"github.com/kestrelsec/attackgraph/graph/emit"
	"github.com/kestrelsec/attackgraph/graph/model/anthropic"
	"github.com/kestrelsec/attackgraph/graph/model/google"
	"github.com/kestrelsec/attackgraph/graph/model/openai"
	"github.com/kestrelsec/attackgraph/graph/step"
	"github.com/kestrelsec/attackgraph/graph/step/httpstep"
	"github.com/kestrelsec/attackgraph/graph/step/regexstep"
	"github.com/kestrelsec/attackgraph/graph/step/shellstep"
	"github.com/kestrelsec/attackgraph/graph/store"
	"github.com/kestrelsec/attackgraph/recon"
	"github.com/kestrelsec/attackgraph/recon/generators"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(os.Args[2:])
	case "inspect":
		err = inspectCommand(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "attackctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: attackctl <run|inspect> [flags]")
}

// newReconAgent picks an LLM-backed Recon Agent from the configured
// provider. "anthropic", "openai", and "google" are wired by default;
// additional providers only need a graph/model.ChatModel implementation.
func newReconAgent(provider, apiKey, modelName string) (compile.ReconAgent, compile.Critic, error) {
	switch provider {
	case "anthropic":
		m := anthropic.NewChatModel(apiKey, modelName)
		return &recon.LLMReconAgent{Model: m}, &recon.LLMCritic{Model: m}, nil
	case "openai":
		m := openai.NewChatModel(apiKey, modelName)
		return &recon.LLMReconAgent{Model: m}, &recon.LLMCritic{Model: m}, nil
	case "google":
		m := google.NewChatModel(apiKey, modelName)
		return &recon.LLMReconAgent{Model: m}, &recon.LLMCritic{Model: m}, nil
	default:
		return nil, nil, fmt.Errorf("unknown model provider %q (want anthropic, openai, or google)", provider)
	}
}

// runArgs is runCommand's parsed flag set, split out so parseRunArgs can
// be tested without touching the network or the filesystem.
type runArgs struct {
	target        string
	dbPath        string
	provider      string
	modelName     string
	apiKeyEnv     string
	loginEndpoint string
	authMechanism string
	budgetTokens  int
	allowShell    bool
	configFile    string
}

func parseRunArgs(args []string) (runArgs, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	target := fs.String("target", "", "target base URL (required)")
	dbPath := fs.String("db", "attackgraph.db", "path to the SQLite graph store")
	provider := fs.String("provider", "anthropic", "LLM provider: anthropic, openai, or google")
	modelName := fs.String("model", "claude-sonnet-4-5", "model name passed to the provider")
	apiKeyEnv := fs.String("api-key-env", "ATTACKCTL_API_KEY", "environment variable holding the provider API key")
	loginEndpoint := fs.String("login-endpoint", "/login", "login endpoint for generated steps")
	authMechanism := fs.String("auth-mechanism", "bearer_token", "bearer_token, cookie, or cookie_with_csrf")
	budgetTokens := fs.Int("budget-tokens", 100_000, "cumulative compilation token budget for this run")
	allowShell := fs.Bool("allow-shell", false, "register the SHELL_COMMAND step handler (model-generated commands run locally)")
	configFile := fs.String("config", "", "optional YAML config file providing defaults for the flags above")
	if err := fs.Parse(args); err != nil {
		return runArgs{}, err
	}
	if *target == "" {
		return runArgs{}, fmt.Errorf("-target is required")
	}
	parsed := runArgs{
		target: *target, dbPath: *dbPath, provider: *provider, modelName: *modelName,
		apiKeyEnv: *apiKeyEnv, loginEndpoint: *loginEndpoint, authMechanism: *authMechanism,
		budgetTokens: *budgetTokens, allowShell: *allowShell, configFile: *configFile,
	}
	if parsed.configFile == "" {
		return parsed, nil
	}
	cfg, found, err := loadFileConfig(parsed.configFile)
	if err != nil {
		return runArgs{}, err
	}
	if !found {
		return parsed, nil
	}
	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	return applyFileConfig(parsed, cfg, explicit), nil
}

func runCommand(args []string) error {
	parsed, err := parseRunArgs(args)
	if err != nil {
		return err
	}

	apiKey := os.Getenv(parsed.apiKeyEnv)
	if apiKey == "" {
		return fmt.Errorf("environment variable %s is not set", parsed.apiKeyEnv)
	}

	reconAgent, critic, err := newReconAgent(parsed.provider, apiKey, parsed.modelName)
	if err != nil {
		return err
	}

	st, err := store.NewSQLiteStore(parsed.dbPath)
	if err != nil {
		return fmt.Errorf("open graph store: %w", err)
	}
	defer func() { _ = st.Close() }()

	registry := step.NewRegistry()
	registry.Register(graph.KindHTTPRequest, httpstep.New())
	registry.Register(graph.KindRegexMatch, regexstep.New())
	if parsed.allowShell {
		registry.Register(graph.KindShellCommand, shellstep.New())
	}
	engine := graph.New(registry, emit.NewLogEmitter(os.Stdout, false), graph.Options{AllowShellSteps: parsed.allowShell})

	genRegistry := compile.NewStepGeneratorRegistry()
	generators.Register(genRegistry)

	promMetrics := graph.NewPrometheusMetrics(nil)
	costTracker := graph.NewCostTracker(fmt.Sprintf("attackctl-%d", time.Now().UnixNano()), "USD")
	budget := graph.NewBudgetTracker(parsed.budgetTokens, costTracker)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	fingerprinter := recon.NewFingerprinter()
	fp, err := fingerprinter.QuickFingerprint(ctx, parsed.target)
	if err != nil {
		return fmt.Errorf("fingerprint target: %w", err)
	}

	d := &dispatch.Dispatcher{
		Store:    st,
		Engine:   engine,
		Recon:    reconAgent,
		Critic:   critic,
		Registry: genRegistry,
		Budget:   budget,
		Metrics:  promMetrics,
	}

	profile := compile.TargetProfile{AuthMechanism: parsed.authMechanism, LoginEndpoint: parsed.loginEndpoint}
	reconContext := fmt.Sprintf("target %s fingerprint: tech_stack=%s auth_model=%s endpoint_pattern=%s observation=%s",
		parsed.target, fp.TechStack, fp.AuthModel, fp.EndpointPattern, fp.ObservationText)

	result, err := d.Run(ctx, fp, profile, parsed.target, reconContext)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	fmt.Printf("path=%s compiled=%v repaired=%v success=%v steps=%d findings=%d\n",
		result.Path, result.Compiled, result.Repaired, result.Success, result.StepCount, len(result.Findings))
	if result.Reason != "" {
		fmt.Printf("reason: %s\n", result.Reason)
	}
	for _, id := range result.Findings {
		fmt.Printf("finding: %s\n", id)
	}
	return nil
}

// inspectArgs is inspectCommand's parsed flag set.
type inspectArgs struct {
	dbPath string
	hash   string
}

func parseInspectArgs(args []string) (inspectArgs, error) {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	dbPath := fs.String("db", "attackgraph.db", "path to the SQLite graph store")
	hash := fs.String("fingerprint", "", "fingerprint hash to inspect (required)")
	if err := fs.Parse(args); err != nil {
		return inspectArgs{}, err
	}
	if *hash == "" {
		return inspectArgs{}, fmt.Errorf("-fingerprint is required")
	}
	return inspectArgs{dbPath: *dbPath, hash: *hash}, nil
}

// inspectCommand prints the graph and findings the store holds for a
// fingerprint hash, per SPEC_FULL.md's inspection subcommand.
func inspectCommand(args []string) error {
	parsed, err := parseInspectArgs(args)
	if err != nil {
		return err
	}

	st, err := store.NewSQLiteStore(parsed.dbPath)
	if err != nil {
		return fmt.Errorf("open graph store: %w", err)
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	fp, err := st.FingerprintByHash(ctx, parsed.hash)
	if err != nil {
		return fmt.Errorf("lookup fingerprint: %w", err)
	}
	fmt.Printf("fingerprint %s: tech_stack=%s auth_model=%s endpoint_pattern=%s\n", fp.Hash, fp.TechStack, fp.AuthModel, fp.EndpointPattern)

	g, err := st.MostRecentGraph(ctx, parsed.hash)
	if err != nil {
		return fmt.Errorf("lookup graph: %w", err)
	}
	fmt.Printf("graph %s: vulnerability_type=%s confidence=%.2f times_executed=%d times_succeeded=%d steps=%d\n",
		g.ID, g.VulnerabilityType, g.Confidence, g.TimesExecuted, g.TimesSucceeded, len(g.Steps))
	for _, s := range g.Steps {
		fmt.Printf("  step %d [%s/%s]: %s\n", s.Order, s.Phase, s.Kind, s.Command)
	}

	findings, err := st.FindingsByGraph(ctx, g.ID)
	if err != nil {
		return fmt.Errorf("lookup findings: %w", err)
	}
	for _, f := range findings {
		fmt.Printf("  finding %s at %s: %s\n", f.ID, f.DiscoveredAt.Format(time.RFC3339), f.Observation)
	}

	lineage, err := st.RepairLineage(ctx, g.ID)
	if err != nil {
		return fmt.Errorf("lookup repair lineage: %w", err)
	}
	for _, e := range lineage {
		fmt.Printf("  repaired %s -> %s at %s\n", e.OldStepID, e.NewStepID, e.RepairedAt.Format(time.RFC3339))
	}
	return nil
}
