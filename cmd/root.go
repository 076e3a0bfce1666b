package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rodcar/agentic-software-factory/internal/devops"
	"github.com/rodcar/agentic-software-factory/internal/jobs"
	"github.com/rodcar/agentic-software-factory/internal/llm"
	"github.com/rodcar/agentic-software-factory/internal/output"
	"github.com/rodcar/agentic-software-factory/internal/spec"
	"github.com/rodcar/agentic-software-factory/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "asf",
	Short: "Agentic software factory - from idea to implemented project",
	Long: `asf turns a project idea into a functional specification, a test plan,
work tracker artifacts, and a containerized coding-agent run.
It also watches tracker bugs tagged for the agent and researches fixes.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/asf/config.yaml)")
}

func initConfig() {
	// Local .env files are a convenient place for API keys during development.
	_ = godotenv.Load()

	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "asf")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("ASF")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "asf")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "asf.db"))
	viper.SetDefault("serve.addr", ":8080")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("openai.api_key", "")
	viper.SetDefault("devops.org_url", "")
	viper.SetDefault("devops.pat", "")
	viper.SetDefault("azure.tenant_id", "")
	viper.SetDefault("azure.client_id", "")
	viper.SetDefault("azure.client_secret", "")
	viper.SetDefault("azure.subscription_id", "")
	viper.SetDefault("azure.resource_group", "")
	viper.SetDefault("azure.location", "eastus")
	viper.SetDefault("registry.server", "")
	viper.SetDefault("registry.user", "")
	viper.SetDefault("registry.password", "")
	viper.SetDefault("jobs.claude_image", "")
	viper.SetDefault("jobs.codex_image", "")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	// The store is initialized lazily so config/version commands run
	// without a db.
}

// logger returns a structured logger honoring the --verbose flag.
func logger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// newAgents builds the chat persona set, failing when no API key is set.
func newAgents() (*llm.Agents, error) {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic.api_key is not configured (set ASF_ANTHROPIC_API_KEY)")
	}
	client := llm.NewClient(apiKey, viper.GetString("anthropic.model"))
	return llm.NewAgents(client), nil
}

// newInvoker builds a bare LLM invoker for non-chat flows.
func newInvoker() (llm.Invoker, error) {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic.api_key is not configured (set ASF_ANTHROPIC_API_KEY)")
	}
	return llm.NewClient(apiKey, viper.GetString("anthropic.model")), nil
}

// newTracker builds a work tracker client, or nil when not configured.
func newTracker() *devops.Client {
	orgURL := viper.GetString("devops.org_url")
	pat := viper.GetString("devops.pat")
	if orgURL == "" || pat == "" {
		return nil
	}
	return devops.NewClient(orgURL, pat)
}

// newLauncher builds a container job launcher, or nil when not configured.
func newLauncher() jobs.Launcher {
	cfg := jobs.Config{
		TenantID:         viper.GetString("azure.tenant_id"),
		ClientID:         viper.GetString("azure.client_id"),
		ClientSecret:     viper.GetString("azure.client_secret"),
		SubscriptionID:   viper.GetString("azure.subscription_id"),
		ResourceGroup:    viper.GetString("azure.resource_group"),
		Location:         viper.GetString("azure.location"),
		RegistryServer:   viper.GetString("registry.server"),
		RegistryUser:     viper.GetString("registry.user"),
		RegistryPassword: viper.GetString("registry.password"),
		ClaudeImage:      viper.GetString("jobs.claude_image"),
		CodexImage:       viper.GetString("jobs.codex_image"),
		AnthropicAPIKey:  viper.GetString("anthropic.api_key"),
		OpenAIAPIKey:     viper.GetString("openai.api_key"),
	}
	if cfg.SubscriptionID == "" || cfg.ClaudeImage == "" {
		return nil
	}
	return jobs.NewContainerLauncher(cfg, logger())
}

// repositoryURL builds the tracker clone URL for a project.
func repositoryURL(projectName string) string {
	orgURL := viper.GetString("devops.org_url")
	if orgURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/_git/%s", orgURL, projectName, projectName)
}

// engineOptions assembles the engine collaborators from configuration.
func engineOptions(st store.Store) spec.Options {
	opts := spec.Options{
		Store:         st,
		Launcher:      newLauncher(),
		Logger:        logger(),
		RepositoryURL: repositoryURL,
	}
	if tracker := newTracker(); tracker != nil {
		opts.Tracker = tracker
	}
	return opts
}
