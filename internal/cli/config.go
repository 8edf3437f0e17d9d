/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/acronis/go-appkit/config"
	"github.com/subosito/gotenv"

	"github.com/acronis/go-dbops"
	"github.com/acronis/go-dbops/aigen"
	"github.com/acronis/go-dbops/commerce"
	"github.com/acronis/go-dbops/internal/restclient"
	"github.com/acronis/go-dbops/migrate"
	"github.com/acronis/go-dbops/voice"
)

// EnvPrefix is the prefix of environment variables overriding config keys ("rpc.url" -> DBOPS_RPC_URL).
const EnvPrefix = "DBOPS"

// DefaultConfigFile is read when it exists and no config file is given explicitly.
const DefaultConfigFile = "dbops.yaml"

// Environment variables honored when the corresponding config value is empty.
const (
	EnvDatabaseURL      = "DATABASE_URL"
	EnvServiceURL       = "SUPABASE_URL"
	EnvServiceKey       = "SUPABASE_SERVICE_ROLE_KEY"
	EnvStoreDomain      = "SHOPIFY_STORE_DOMAIN"
	EnvStoreAccessToken = "SHOPIFY_ACCESS_TOKEN" //nolint: gosec
	EnvGenerativeAPIKey = "GEMINI_API_KEY"
	EnvVoiceAPIKey      = "VAPI_API_KEY"
	EnvPushgatewayURL   = "PUSHGATEWAY_URL"
)

// RPCConfig configures the database service API used by the RPC transport and the REST probe.
type RPCConfig struct {
	URL       string              `mapstructure:"url" yaml:"url" json:"url"`
	APIKey    string              `mapstructure:"apiKey" yaml:"apiKey" json:"apiKey"`
	Schema    string              `mapstructure:"schema" yaml:"schema" json:"schema"`
	Functions []string            `mapstructure:"functions" yaml:"functions" json:"functions"`
	Params    []string            `mapstructure:"params" yaml:"params" json:"params"`
	Timeout   config.TimeDuration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// KeyPrefix implements config.KeyPrefixProvider.
func (c *RPCConfig) KeyPrefix() string { return "rpc" }

// SetProviderDefaults implements config.Config.
func (c *RPCConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault("url", "")
	dp.SetDefault("apiKey", "")
	dp.SetDefault("schema", "")
	dp.SetDefault("functions", migrate.DefaultRPCFunctions)
	dp.SetDefault("params", migrate.DefaultRPCParams)
	dp.SetDefault("timeout", restclient.DefaultTimeout)
}

// Set implements config.Config.
func (c *RPCConfig) Set(dp config.DataProvider) error {
	var err error
	if c.URL, err = dp.GetString("url"); err != nil {
		return err
	}
	if c.APIKey, err = dp.GetString("apiKey"); err != nil {
		return err
	}
	if c.Schema, err = dp.GetString("schema"); err != nil {
		return err
	}
	var list []string
	if list, err = dp.GetStringSlice("functions"); err != nil {
		return err
	}
	c.Functions = splitList(list)
	if list, err = dp.GetStringSlice("params"); err != nil {
		return err
	}
	c.Params = splitList(list)
	var timeout time.Duration
	if timeout, err = dp.GetDuration("timeout"); err != nil {
		return err
	}
	if timeout <= 0 {
		return dp.WrapKeyErr("timeout", fmt.Errorf("must be positive"))
	}
	c.Timeout = config.TimeDuration(timeout)
	return nil
}

// Configured reports whether both the service URL and the key are set.
func (c *RPCConfig) Configured() bool {
	return c.URL != "" && c.APIKey != ""
}

// CommerceConfig configures the store Admin API client.
type CommerceConfig struct {
	Shop        string `mapstructure:"shop" yaml:"shop" json:"shop"`
	AccessToken string `mapstructure:"accessToken" yaml:"accessToken" json:"accessToken"`
	APIVersion  string `mapstructure:"apiVersion" yaml:"apiVersion" json:"apiVersion"`
}

// KeyPrefix implements config.KeyPrefixProvider.
func (c *CommerceConfig) KeyPrefix() string { return "commerce" }

// SetProviderDefaults implements config.Config.
func (c *CommerceConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault("shop", "")
	dp.SetDefault("accessToken", "")
	dp.SetDefault("apiVersion", commerce.DefaultAPIVersion)
}

// Set implements config.Config.
func (c *CommerceConfig) Set(dp config.DataProvider) error {
	var err error
	if c.Shop, err = dp.GetString("shop"); err != nil {
		return err
	}
	if c.AccessToken, err = dp.GetString("accessToken"); err != nil {
		return err
	}
	c.APIVersion, err = dp.GetString("apiVersion")
	return err
}

// AIConfig configures the generative AI client.
type AIConfig struct {
	APIKey string `mapstructure:"apiKey" yaml:"apiKey" json:"apiKey"`
	Model  string `mapstructure:"model" yaml:"model" json:"model"`
}

// KeyPrefix implements config.KeyPrefixProvider.
func (c *AIConfig) KeyPrefix() string { return "ai" }

// SetProviderDefaults implements config.Config.
func (c *AIConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault("apiKey", "")
	dp.SetDefault("model", aigen.DefaultModel)
}

// Set implements config.Config.
func (c *AIConfig) Set(dp config.DataProvider) error {
	var err error
	if c.APIKey, err = dp.GetString("apiKey"); err != nil {
		return err
	}
	c.Model, err = dp.GetString("model")
	return err
}

// VoiceConfig configures the voice API client.
type VoiceConfig struct {
	BaseURL string `mapstructure:"baseURL" yaml:"baseURL" json:"baseURL"`
	APIKey  string `mapstructure:"apiKey" yaml:"apiKey" json:"apiKey"`
}

// KeyPrefix implements config.KeyPrefixProvider.
func (c *VoiceConfig) KeyPrefix() string { return "voice" }

// SetProviderDefaults implements config.Config.
func (c *VoiceConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault("baseURL", voice.DefaultBaseURL)
	dp.SetDefault("apiKey", "")
}

// Set implements config.Config.
func (c *VoiceConfig) Set(dp config.DataProvider) error {
	var err error
	if c.BaseURL, err = dp.GetString("baseURL"); err != nil {
		return err
	}
	c.APIKey, err = dp.GetString("apiKey")
	return err
}

// MetricsConfig configures pushing apply metrics at the end of a run.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgatewayURL" yaml:"pushgatewayURL" json:"pushgatewayURL"`
	Job            string `mapstructure:"job" yaml:"job" json:"job"`
}

// KeyPrefix implements config.KeyPrefixProvider.
func (c *MetricsConfig) KeyPrefix() string { return "metrics" }

// SetProviderDefaults implements config.Config.
func (c *MetricsConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault("pushgatewayURL", "")
	dp.SetDefault("job", "dbops")
}

// Set implements config.Config.
func (c *MetricsConfig) Set(dp config.DataProvider) error {
	var err error
	if c.PushgatewayURL, err = dp.GetString("pushgatewayURL"); err != nil {
		return err
	}
	if c.Job, err = dp.GetString("job"); err != nil {
		return err
	}
	if c.Job == "" {
		return dp.WrapKeyErr("job", fmt.Errorf("cannot be empty"))
	}
	return nil
}

// AppConfig is the whole dbops configuration.
type AppConfig struct {
	DB       *dbops.Config   `yaml:"db" json:"db"`
	RPC      *RPCConfig      `yaml:"rpc" json:"rpc"`
	Commerce *CommerceConfig `yaml:"commerce" json:"commerce"`
	AI       *AIConfig       `yaml:"ai" json:"ai"`
	Voice    *VoiceConfig    `yaml:"voice" json:"voice"`
	Metrics  *MetricsConfig  `yaml:"metrics" json:"metrics"`
}

// NewAppConfig creates an AppConfig with every section allocated.
func NewAppConfig() *AppConfig {
	return &AppConfig{
		DB:       dbops.NewDefaultConfig(nil),
		RPC:      &RPCConfig{},
		Commerce: &CommerceConfig{},
		AI:       &AIConfig{},
		Voice:    &VoiceConfig{},
		Metrics:  &MetricsConfig{},
	}
}

// sections returns the first config section and the rest, as the loader expects them.
func (c *AppConfig) sections() (config.Config, []config.Config) {
	return c.DB, []config.Config{c.RPC, c.Commerce, c.AI, c.Voice, c.Metrics}
}

// LoadConfig loads the configuration from path (YAML or JSON by extension) and the environment.
// An empty path means DefaultConfigFile if it exists, and environment and defaults only otherwise.
// It returns the path of the file actually read.
func LoadConfig(path string, lookupEnv func(string) (string, bool)) (*AppConfig, string, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	var data []byte
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
	case !explicit && errors.Is(err, fs.ErrNotExist):
		path, data = "", nil
	default:
		return nil, "", fmt.Errorf("read config file: %w", err)
	}

	dataType := config.DataTypeYAML
	if strings.EqualFold(filepath.Ext(path), ".json") {
		dataType = config.DataTypeJSON
	}
	if len(bytes.TrimSpace(data)) == 0 {
		dataType, data = config.DataTypeJSON, []byte("{}")
	}

	cfg := NewAppConfig()
	first, rest := cfg.sections()
	if err = config.NewDefaultLoader(EnvPrefix).LoadFromReader(bytes.NewReader(data), dataType, first, rest...); err != nil {
		return nil, path, err
	}
	if lookupEnv != nil {
		applyEnvFallbacks(cfg, lookupEnv)
	}
	return cfg, path, nil
}

func applyEnvFallbacks(cfg *AppConfig, lookupEnv func(string) (string, bool)) {
	fallback := func(dst *string, key string) {
		if *dst != "" {
			return
		}
		if v, ok := lookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	fallback(&cfg.DB.URL, EnvDatabaseURL)
	fallback(&cfg.RPC.URL, EnvServiceURL)
	fallback(&cfg.RPC.APIKey, EnvServiceKey)
	fallback(&cfg.Commerce.Shop, EnvStoreDomain)
	fallback(&cfg.Commerce.AccessToken, EnvStoreAccessToken)
	fallback(&cfg.AI.APIKey, EnvGenerativeAPIKey)
	fallback(&cfg.Voice.APIKey, EnvVoiceAPIKey)
	fallback(&cfg.Metrics.PushgatewayURL, EnvPushgatewayURL)
}

// LoadEnvFile loads variables from a dotenv file without overriding the ones already set.
// A missing file is an error only when required is true.
func LoadEnvFile(path string, required bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("env file: %w", err)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func splitList(items []string) []string {
	var res []string
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				res = append(res, part)
			}
		}
	}
	return res
}
