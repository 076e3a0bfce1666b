package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "asf"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage asf configuration.

Running bare 'asf config' is the same as 'asf config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# asf configuration
# See: asf config show (for effective values and sources)

# State/data directory (default: ~/.config/asf)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/asf/asf.db)
# db_path: {{ .DBPath }}

# HTTP server
serve:
  # Listen address (default: ":8080")
  addr: "{{ .ServeAddr }}"

# Anthropic API (specification chat, research agents)
anthropic:
  api_key: "{{ .AnthropicAPIKey }}"
  model: "{{ .AnthropicModel }}"

# OpenAI API (codex coding agent)
openai:
  api_key: "{{ .OpenAIAPIKey }}"

# Work tracker (Azure DevOps organization)
devops:
  # Organization URL, e.g. https://dev.azure.com/myorg
  org_url: "{{ .DevOpsOrgURL }}"
  # Personal access token
  pat: "{{ .DevOpsPAT }}"

# Container job infrastructure (Azure Container Instances)
azure:
  tenant_id: "{{ .AzureTenantID }}"
  client_id: "{{ .AzureClientID }}"
  client_secret: "{{ .AzureClientSecret }}"
  subscription_id: "{{ .AzureSubscriptionID }}"
  resource_group: "{{ .AzureResourceGroup }}"
  location: "{{ .AzureLocation }}"

# Private container registry for agent images
registry:
  server: "{{ .RegistryServer }}"
  user: "{{ .RegistryUser }}"
  password: "{{ .RegistryPassword }}"

# Coding agent images
jobs:
  claude_image: "{{ .ClaudeImage }}"
  codex_image: "{{ .CodexImage }}"
`

type configTemplateData struct {
	StateDir            string
	DBPath              string
	ServeAddr           string
	AnthropicAPIKey     string
	AnthropicModel      string
	OpenAIAPIKey        string
	DevOpsOrgURL        string
	DevOpsPAT           string
	AzureTenantID       string
	AzureClientID       string
	AzureClientSecret   string
	AzureSubscriptionID string
	AzureResourceGroup  string
	AzureLocation       string
	RegistryServer      string
	RegistryUser        string
	RegistryPassword    string
	ClaudeImage         string
	CodexImage          string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:            viper.GetString("state_dir"),
		DBPath:              viper.GetString("db_path"),
		ServeAddr:           viper.GetString("serve.addr"),
		AnthropicAPIKey:     viper.GetString("anthropic.api_key"),
		AnthropicModel:      viper.GetString("anthropic.model"),
		OpenAIAPIKey:        viper.GetString("openai.api_key"),
		DevOpsOrgURL:        viper.GetString("devops.org_url"),
		DevOpsPAT:           viper.GetString("devops.pat"),
		AzureTenantID:       viper.GetString("azure.tenant_id"),
		AzureClientID:       viper.GetString("azure.client_id"),
		AzureClientSecret:   viper.GetString("azure.client_secret"),
		AzureSubscriptionID: viper.GetString("azure.subscription_id"),
		AzureResourceGroup:  viper.GetString("azure.resource_group"),
		AzureLocation:       viper.GetString("azure.location"),
		RegistryServer:      viper.GetString("registry.server"),
		RegistryUser:        viper.GetString("registry.user"),
		RegistryPassword:    viper.GetString("registry.password"),
		ClaudeImage:         viper.GetString("jobs.claude_image"),
		CodexImage:          viper.GetString("jobs.codex_image"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
	Secret bool
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "ASF_STATE_DIR"},
	{Key: "db_path", EnvVar: "ASF_DB_PATH"},
	{Key: "serve.addr", EnvVar: "ASF_SERVE_ADDR"},
	{Key: "anthropic.api_key", EnvVar: "ASF_ANTHROPIC_API_KEY", Secret: true},
	{Key: "anthropic.model", EnvVar: "ASF_ANTHROPIC_MODEL"},
	{Key: "openai.api_key", EnvVar: "ASF_OPENAI_API_KEY", Secret: true},
	{Key: "devops.org_url", EnvVar: "ASF_DEVOPS_ORG_URL"},
	{Key: "devops.pat", EnvVar: "ASF_DEVOPS_PAT", Secret: true},
	{Key: "azure.tenant_id", EnvVar: "ASF_AZURE_TENANT_ID"},
	{Key: "azure.client_id", EnvVar: "ASF_AZURE_CLIENT_ID"},
	{Key: "azure.client_secret", EnvVar: "ASF_AZURE_CLIENT_SECRET", Secret: true},
	{Key: "azure.subscription_id", EnvVar: "ASF_AZURE_SUBSCRIPTION_ID"},
	{Key: "azure.resource_group", EnvVar: "ASF_AZURE_RESOURCE_GROUP"},
	{Key: "azure.location", EnvVar: "ASF_AZURE_LOCATION"},
	{Key: "registry.server", EnvVar: "ASF_REGISTRY_SERVER"},
	{Key: "registry.user", EnvVar: "ASF_REGISTRY_USER"},
	{Key: "registry.password", EnvVar: "ASF_REGISTRY_PASSWORD", Secret: true},
	{Key: "jobs.claude_image", EnvVar: "ASF_JOBS_CLAUDE_IMAGE"},
	{Key: "jobs.codex_image", EnvVar: "ASF_JOBS_CODEX_IMAGE"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Secret {
			if s, ok := val.(string); ok && s != "" {
				val = "********"
			}
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-24s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set, set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'asf config init' first)", cfgPath)
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
