// Package main provides the runtime shared by the assistant's commands.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vinayprograms/agentkit/credentials"
	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/agentkit/policy"
	"github.com/vinayprograms/agentkit/telemetry"
	"github.com/vinayprograms/agentkit/tools"
	"github.com/vinayprograms/biohacker/internal/agent"
	"github.com/vinayprograms/biohacker/internal/capture"
	"github.com/vinayprograms/biohacker/internal/config"
	"github.com/vinayprograms/biohacker/internal/kb"
	"github.com/vinayprograms/biohacker/internal/roles"
	"github.com/vinayprograms/biohacker/internal/sandbox"
	"github.com/vinayprograms/biohacker/internal/session"
	"github.com/vinayprograms/biohacker/internal/uploads"
)

// runtime holds the components a command needs. Commands call only the
// setup stages they use, so history and kb work without an LLM.
type runtime struct {
	cfg   *config.Config
	pol   *policy.Policy
	creds *credentials.Credentials
	paths config.Paths

	// Components
	provider       llm.Provider
	smallLLM       llm.Provider
	profiles       map[string]llm.Provider
	registry       *tools.Registry
	bashLLMChecker *policy.SmallLLMChecker
	telem          telemetry.Exporter
	roles          *roles.Set
	orch           *agent.Orchestrator
	logger         *logging.Logger

	// Storage
	sessions  *session.Manager
	fileStore *session.FileStore // nil with the sqlite backend
	uploads   *uploads.Store
	guard     *sandbox.Guard
	kb        *kb.Store

	// Streams
	tracker   *capture.Tracker
	publisher capture.Publisher

	// progress receives the sub-agent and tool lines printed by callbacks.
	progress io.Writer

	// Cleanup
	closers []func()
}

// newRuntime loads config and policy for the workspace named by g.
func newRuntime(g *Globals, creds *credentials.Credentials) (*runtime, error) {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return nil, err
	}
	if g.Workspace != "" {
		cfg.Agent.Workspace = g.Workspace
	}
	if cfg.Agent.Workspace == "" {
		cfg.Agent.Workspace, _ = os.Getwd()
	}
	if !filepath.IsAbs(cfg.Agent.Workspace) {
		cfg.Agent.Workspace, _ = filepath.Abs(cfg.Agent.Workspace)
	}

	pol, err := loadPolicy(g.Policy, cfg.Agent.Workspace)
	if err != nil {
		return nil, err
	}
	pol.Workspace = cfg.Agent.Workspace

	rt := &runtime{
		cfg:      cfg,
		pol:      pol,
		creds:    creds,
		paths:    cfg.Paths(),
		profiles: make(map[string]llm.Provider),
		logger:   logging.New().WithComponent("biohacker"),
		progress: os.Stderr,
	}
	if g.Quiet {
		rt.progress = io.Discard
	}
	return rt, nil
}

// loadConfig reads path, or biohacker.toml from the working directory.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.LoadDefault()
}

// loadPolicy reads path, or policy.toml from the workspace. A missing
// default policy falls back to policy.New().
func loadPolicy(path, workspace string) (*policy.Policy, error) {
	if path != "" {
		pol, err := policy.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading policy %s: %w", path, err)
		}
		return pol, nil
	}
	pol, err := policy.LoadFile(filepath.Join(workspace, "policy.toml"))
	if err != nil {
		pol = policy.New()
	}
	return pol, nil
}

// setupStorage opens the session store and the upload directory.
func (rt *runtime) setupStorage() error {
	if err := os.MkdirAll(rt.paths.Storage, 0755); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}

	var store session.Store
	switch rt.cfg.Storage.Backend {
	case "sqlite":
		s, err := session.NewSQLiteStore(rt.paths.Sessions() + ".db")
		if err != nil {
			return fmt.Errorf("opening session database: %w", err)
		}
		rt.addCloser(func() { s.Close() })
		store = s
	case "file", "":
		s, err := session.NewFileStore(rt.paths.Sessions())
		if err != nil {
			return fmt.Errorf("creating session directory: %w", err)
		}
		rt.fileStore = s
		store = s
	default:
		return fmt.Errorf("unsupported storage backend: %s (supported: file, sqlite)", rt.cfg.Storage.Backend)
	}
	rt.sessions = session.NewManager(store)

	var err error
	rt.uploads, err = uploads.NewStore(rt.paths.Uploads, uploads.Options{
		PreviewChars: rt.cfg.Uploads.PreviewChars,
		MaxSendBytes: rt.cfg.Uploads.MaxSendBytes,
		AllowSource:  rt.cfg.Uploads.AllowSource,
	})
	if err != nil {
		return err
	}
	rt.tracker = capture.NewTracker()
	return nil
}

// setupAgent builds everything needed to answer questions.
func (rt *runtime) setupAgent() error {
	if err := rt.createProvider(); err != nil {
		return err
	}
	rt.createSmallLLM()
	rt.setupRegistry()
	if err := rt.setupTelemetry(); err != nil {
		return err
	}
	if err := rt.setupGuard(); err != nil {
		return err
	}
	if rt.cfg.KB.Enabled {
		if err := rt.openKB(); err != nil {
			return err
		}
	}
	if err := rt.setupPublisher(); err != nil {
		return err
	}
	return rt.createOrchestrator()
}

// createProvider creates the main LLM provider.
func (rt *runtime) createProvider() error {
	var err error
	rt.provider, err = newProvider(rt.cfg.LLM, rt.creds)
	if err != nil {
		return err
	}
	return nil
}

// newProvider builds an agentkit provider from an LLM config section.
func newProvider(c config.LLMConfig, creds *credentials.Credentials) (llm.Provider, error) {
	providerName := c.Provider
	if providerName == "" {
		providerName = llm.InferProviderFromModel(c.Model)
	}
	if providerName == "" && c.Model == "" {
		return nil, fmt.Errorf("LLM model not configured")
	}

	apiKey := creds.GetAPIKey(providerName)
	if c.APIKeyEnv != "" {
		if v := os.Getenv(c.APIKeyEnv); v != "" {
			apiKey = v
		}
	}

	p, err := llm.NewProvider(llm.ProviderConfig{
		Provider:    providerName,
		Model:       c.Model,
		APIKey:      apiKey,
		MaxTokens:   c.MaxTokens,
		BaseURL:     c.BaseURL,
		Thinking:    llm.ThinkingConfig{Level: llm.ThinkingLevel(c.Thinking)},
		RetryConfig: parseRetryConfig(c.MaxRetries, c.RetryBackoff),
	})
	if err != nil {
		return nil, fmt.Errorf("creating LLM provider: %w", err)
	}
	return p, nil
}

// createSmallLLM creates the small LLM for summarization and bash triage.
func (rt *runtime) createSmallLLM() {
	if rt.cfg.SmallLLM.Model == "" {
		return
	}
	smallProvider := rt.cfg.SmallLLM.Provider
	if smallProvider == "" {
		smallProvider = llm.InferProviderFromModel(rt.cfg.SmallLLM.Model)
	}
	var err error
	rt.smallLLM, err = llm.NewProvider(llm.ProviderConfig{
		Provider:  smallProvider,
		Model:     rt.cfg.SmallLLM.Model,
		APIKey:    rt.creds.GetAPIKey(smallProvider),
		MaxTokens: rt.cfg.SmallLLM.MaxTokens,
	})
	if err != nil {
		rt.logger.Warn("small LLM disabled", map[string]interface{}{"error": err.Error()})
		rt.smallLLM = nil
	}
}

// profileProvider resolves a role's LLM profile. Unknown profiles use the
// main provider, as config.GetProfile does.
func (rt *runtime) profileProvider(name string) (agent.ChatProvider, error) {
	if p, ok := rt.profiles[name]; ok {
		return p, nil
	}
	if _, ok := rt.cfg.Profiles[name]; !ok {
		return rt.provider, nil
	}
	p, err := newProvider(rt.cfg.GetProfile(name), rt.creds)
	if err != nil {
		return nil, err
	}
	rt.profiles[name] = p
	return p, nil
}

// setupRegistry creates and configures the tool registry.
func (rt *runtime) setupRegistry() {
	rt.registry = tools.NewRegistry(rt.pol)
	rt.setupBashChecker()
	if rt.smallLLM != nil {
		rt.registry.SetSummarizer(llm.NewSummarizer(rt.smallLLM))
		rt.bashLLMChecker = policy.NewSmallLLMChecker(&llmGenerateAdapter{rt.smallLLM})
		rt.registry.SetBashLLMChecker(rt.bashLLMChecker)
	}
	rt.registry.SetCredentials(rt.creds)
	rt.registry.SetScratchpad(tools.NewFileMemoryStore(filepath.Join(rt.paths.Storage, "kv.json")), true)
}

// setupBashChecker configures bash security with fail-close defaults.
func (rt *runtime) setupBashChecker() {
	bashPolicy := rt.pol.GetToolPolicy("bash")
	allowedDirs := bashPolicy.AllowedDirs
	if len(allowedDirs) == 0 {
		allowedDirs = defaultAllowedDirs(rt.pol.Workspace)
		rt.logger.Warn("no allowed_dirs configured for bash, using the workspace (fail-close)", map[string]interface{}{
			"allowed_dirs": allowedDirs,
		})
	}
	rt.registry.SetBashChecker(policy.NewBashChecker(rt.pol.Workspace, allowedDirs, bashPolicy.Denylist))
}

func defaultAllowedDirs(workspace string) []string {
	if workspace != "" {
		return []string{workspace}
	}
	if cwd, err := os.Getwd(); err == nil {
		return []string{cwd}
	}
	return []string{"."}
}

// setupTelemetry creates the telemetry exporter.
func (rt *runtime) setupTelemetry() error {
	var err error
	if rt.cfg.Telemetry.Enabled {
		rt.telem, err = telemetry.NewExporter(rt.cfg.Telemetry.Protocol, rt.cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("creating telemetry exporter: %w", err)
		}
	} else {
		rt.telem = telemetry.NewNoopExporter()
	}
	rt.addCloser(func() { rt.telem.Close() })
	return nil
}

// setupGuard confines the upload tools. With restrict_uploads they see only
// the upload directory; otherwise the whole workspace.
func (rt *runtime) setupGuard() error {
	root := rt.paths.Workspace
	if rt.cfg.Security.RestrictUploads {
		root = rt.paths.Uploads
	}
	var err error
	rt.guard, err = sandbox.NewWithBase(root, rt.paths.Uploads)
	if err != nil {
		return fmt.Errorf("creating upload guard: %w", err)
	}
	return nil
}

// openKB opens the knowledge base index under the storage directory.
func (rt *runtime) openKB() error {
	if err := os.MkdirAll(rt.paths.Storage, 0755); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}
	store, err := kb.Open(rt.paths.KnowledgeBase(), kb.RetrieveOpts{
		MinScore:   rt.cfg.KB.MinScore,
		MaxResults: rt.cfg.KB.MaxResults,
	})
	if err != nil {
		return fmt.Errorf("opening knowledge base: %w", err)
	}
	rt.kb = store
	rt.addCloser(func() { store.Close() })
	return nil
}

// setupPublisher connects to NATS when a URL is configured.
func (rt *runtime) setupPublisher() error {
	if rt.cfg.Stream.NATSURL == "" {
		return nil
	}
	nc, err := capture.ConnectNATS(rt.cfg.Stream.NATSURL)
	if err != nil {
		return err
	}
	rt.publisher = nc
	rt.addCloser(func() { nc.Drain() })
	rt.logger.Info("publishing invocation streams", map[string]interface{}{
		"url":     rt.cfg.Stream.NATSURL,
		"subject": rt.cfg.Stream.NATSSubject,
	})
	return nil
}

// extraTools are the non-builtin tools roles may name.
func (rt *runtime) extraTools() []agent.Tool {
	extra := agent.UploadTools(rt.guard, rt.cfg.Uploads.MaxSendBytes)
	if rt.kb != nil {
		extra = append(extra, &kb.StoreTool{Store: rt.kb}, &kb.RetrieveTool{Store: rt.kb})
	}
	return extra
}

// createOrchestrator loads the roles and builds the agent tree.
func (rt *runtime) createOrchestrator() error {
	var err error
	rt.roles, err = roles.Load(rt.rolesDir())
	if err != nil {
		return fmt.Errorf("loading roles: %w", err)
	}

	var summarizer agent.ChatProvider
	if rt.smallLLM != nil {
		summarizer = rt.smallLLM
	}

	rt.orch, err = agent.New(agent.Options{
		Roles:      rt.roles,
		Provider:   rt.provider,
		Profiles:   rt.profileProvider,
		Registry:   rt.registry,
		Extra:      rt.extraTools(),
		Summarizer: summarizer,
		History: agent.HistoryOptions{
			MaxMessages: rt.cfg.History.MaxMessages,
			KeepRecent:  rt.cfg.History.KeepRecent,
		},
		StreamDir: rt.paths.Streams,
		Publisher: rt.publisher,
		Subject:   rt.cfg.Stream.NATSSubject,
		Tracker:   rt.tracker,
		Timeouts: agent.Timeouts{
			WebSearch: rt.cfg.Timeouts.WebSearch,
			WebFetch:  rt.cfg.Timeouts.WebFetch,
			SubAgent:  rt.cfg.Timeouts.SubAgent,
		},
		Callbacks: rt.callbacks(),
		Logger:    rt.logger.WithComponent("agent"),
	})
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}
	return nil
}

// rolesDir resolves the role override directory against the workspace.
func (rt *runtime) rolesDir() string {
	dir := rt.cfg.Roles.Dir
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(rt.paths.Workspace, dir)
}

// callbacks wires up telemetry and progress lines.
func (rt *runtime) callbacks() agent.Callbacks {
	top := rt.roles.Orchestrator().Name
	return agent.Callbacks{
		OnSubAgentStart: func(name, query string) {
			fmt.Fprintf(rt.progress, "  ⊕ Spawning sub-agent: %s\n", name)
			rt.telem.LogEvent("subagent_start", map[string]interface{}{"role": name})
		},
		OnSubAgentComplete: func(name string, result agent.Result) {
			if result.OK() {
				fmt.Fprintf(rt.progress, "  ⊖ Sub-agent complete: %s\n", name)
			} else {
				fmt.Fprintf(rt.progress, "  ✗ Sub-agent failed [%s]: %s\n", name, result.Kind)
			}
			rt.telem.LogEvent("subagent_complete", map[string]interface{}{"role": name, "kind": string(result.Kind)})
		},
		OnToolCall: func(name string, args map[string]interface{}, result interface{}, agentName string) {
			if agentName != "" && agentName != top {
				fmt.Fprintf(rt.progress, "  → [%s] Tool: %s\n", agentName, name)
			} else {
				fmt.Fprintf(rt.progress, "  → Tool: %s\n", name)
			}
			rt.telem.LogEvent("tool_call", map[string]interface{}{"tool": name, "args": args, "agent": agentName})
		},
		OnToolError: func(name string, args map[string]interface{}, err error, agentName string) {
			if agentName != "" && agentName != top {
				fmt.Fprintf(rt.progress, "  ✗ [%s] Tool error [%s]: %v\n", agentName, name, err)
			} else {
				fmt.Fprintf(rt.progress, "  ✗ Tool error [%s]: %v\n", name, err)
			}
			rt.telem.LogEvent("tool_error", map[string]interface{}{"tool": name, "error": err.Error(), "agent": agentName})
		},
	}
}

// cleanup runs all registered cleanup functions.
func (rt *runtime) cleanup() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// addCloser registers a cleanup function.
func (rt *runtime) addCloser(fn func()) {
	rt.closers = append(rt.closers, fn)
}
