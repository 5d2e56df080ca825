package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/fivetwenty-io/docbridge/internal/constants"
	"github.com/fivetwenty-io/docbridge/pkg/bridge"
	"github.com/fivetwenty-io/docbridge/pkg/docbridge"
)

// Viper keys that are not part of docbridge.Config.
const (
	keyOutput     = "output"
	keyVerbose    = "verbose"
	keyDocument   = "document"
	keyStoreType  = "token_store.type"
	keyStorePath  = "token_store.path"
	keyNATSURL    = "token_store.nats.url"
	keyNATSBucket = "token_store.nats.bucket"
)

// SetDefaults registers every configuration key so that DOCBRIDGE_* variables
// are picked up even when no config file or flag mentions the key.
func SetDefaults() {
	defaults := docbridge.DefaultConfig()

	viper.SetDefault("base_url", defaults.BaseURL)
	viper.SetDefault("auth_token", defaults.AuthToken)
	viper.SetDefault("resource", defaults.Resource)
	viper.SetDefault("resource_prefix", defaults.ResourcePrefix)
	viper.SetDefault("fallback_resources", []string{})
	viper.SetDefault("optional_resources", []string{})
	viper.SetDefault("fields", []string{})
	viper.SetDefault("timeout", defaults.Timeout)
	viper.SetDefault("max_retries", defaults.RetryLimit())
	viper.SetDefault("include_cookies", defaults.IncludeCookies)
	viper.SetDefault("custom_cookies", defaults.CustomCookies)
	viper.SetDefault("force_cookies", defaults.ForceCookies)
	viper.SetDefault("skip_security_token", defaults.SkipSecurityToken)
	viper.SetDefault("validate_schemas", defaults.ValidateSchemas)
	viper.SetDefault("fallback_mode", defaults.FallbackMode)
	viper.SetDefault("origin", defaults.Origin)
	viper.SetDefault("token_path", defaults.TokenPath)
	viper.SetDefault("transport_retries", defaults.TransportRetries)
	viper.SetDefault("retry_wait_min", defaults.RetryWaitMin)
	viper.SetDefault("retry_wait_max", defaults.RetryWaitMax)
	viper.SetDefault("user_agent", defaults.UserAgent)
	viper.SetDefault("debug", defaults.Debug)
	viper.SetDefault(keyOutput, constants.FormatTable)
	viper.SetDefault(keyStoreType, string(bridge.StoreTypeFile))

	_ = viper.BindEnv("auth_token", constants.EnvPrefix+"_AUTH_TOKEN", constants.EnvPrefix+"_TOKEN")
}

// LoadClientConfig builds the client configuration from flags, environment and
// the config file.
func LoadClientConfig() (*docbridge.Config, error) {
	config := docbridge.DefaultConfig()

	err := viper.Unmarshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if config.BaseURL == "" {
		return nil, constants.ErrNoBaseURL
	}

	if config.Resource == "" {
		return nil, constants.ErrNoResource
	}

	return config, nil
}

// storeConfig returns the token store selected by configuration.
func storeConfig() (*bridge.StoreConfig, error) {
	storeType := bridge.StoreType(strings.ToLower(viper.GetString(keyStoreType)))

	switch storeType {
	case bridge.StoreTypeFile, bridge.StoreTypeMemory, bridge.StoreTypeNone:
		return &bridge.StoreConfig{Type: storeType, Path: viper.GetString(keyStorePath)}, nil
	case bridge.StoreTypeNATS:
		return &bridge.StoreConfig{
			Type: storeType,
			NATS: &bridge.NATSConfig{
				URL:    viper.GetString(keyNATSURL),
				Bucket: viper.GetString(keyNATSBucket),
			},
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", constants.ErrUnknownStoreType, storeType)
	}
}

// NewLogger builds the CLI logger. Logs go to stderr so they never mix with
// command output.
func NewLogger(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)

	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

// createClient builds a client from the effective configuration.
func createClient(ctx context.Context) (docbridge.Client, *zap.Logger, error) {
	config, err := LoadClientConfig()
	if err != nil {
		return nil, nil, err
	}

	logger, err := NewLogger(viper.GetBool(keyVerbose))
	if err != nil {
		return nil, nil, err
	}

	store, err := storeConfig()
	if err != nil {
		return nil, nil, err
	}

	opts := []bridge.Option{
		bridge.WithZapLogger(logger),
		bridge.WithStore(store),
	}

	if document := viper.GetString(keyDocument); document != "" {
		opts = append(opts, bridge.WithDocumentFile(document))
	}

	client, err := bridge.New(ctx, config, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create client: %w", err)
	}

	return client, logger, nil
}

// render writes value in the configured output format; table formats call
// table instead.
func render(w io.Writer, value interface{}, table func(w io.Writer) error) error {
	switch viper.GetString(keyOutput) {
	case constants.FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", strings.Repeat(" ", constants.JSONIndentSize))

		return encoder.Encode(value)
	case constants.FormatYAML:
		encoder := yaml.NewEncoder(w)
		defer func() { _ = encoder.Close() }()

		return encoder.Encode(value)
	case constants.FormatTable, "":
		return table(w)
	default:
		return fmt.Errorf("%w: %q", constants.ErrUnknownFormat, viper.GetString(keyOutput))
	}
}

// renderTable writes a two-or-more column table.
func renderTable(w io.Writer, header []string, rows [][]string) error {
	columns := make([]any, len(header))
	for i, column := range header {
		columns[i] = column
	}

	table := tablewriter.NewWriter(w)
	table.Header(columns...)

	for _, row := range rows {
		_ = table.Append(row)
	}

	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	return nil
}

// title turns identifiers such as "server-fetch" into display text.
func title(value string) string {
	if value == "" {
		return constants.NotAvailable
	}

	return cases.Title(language.English).String(strings.ReplaceAll(value, "_", " "))
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}

	return "no"
}

func orNotAvailable(value string) string {
	if value == "" {
		return constants.NotAvailable
	}

	return value
}

// configFilePath returns the config file in use or the default location.
func configFilePath() (string, error) {
	if used := viper.ConfigFileUsed(); used != "" {
		return used, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(home, ".docbridge", "config.yml"), nil
}
