package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fivetwenty-io/docbridge/internal/constants"
	"github.com/fivetwenty-io/docbridge/pkg/docbridge"
)

// ConfigKeys lists the keys accepted by "config set" and "config unset".
var ConfigKeys = []string{
	"base_url", "auth_token", "resource", "resource_prefix", "fallback_resources",
	"optional_resources", "fields", "timeout", "max_retries", "include_cookies",
	"custom_cookies", "force_cookies", "skip_security_token", "validate_schemas",
	"fallback_mode", "origin", "token_path", "transport_retries", "retry_wait_min",
	"retry_wait_max", "user_agent", "debug", keyOutput, keyDocument, keyStoreType,
	keyStorePath, keyNATSURL, keyNATSBucket,
}

var listKeys = []string{"fallback_resources", "optional_resources", "fields"}

// NewConfigCommand creates the config command group.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
		Long:  "Show and change the docbridge configuration file",
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigSetCommand())
	cmd.AddCommand(newConfigUnsetCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long:  "Display the effective configuration from flags, environment and config file, with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			config := docbridge.DefaultConfig()

			err := viper.Unmarshal(config)
			if err != nil {
				return fmt.Errorf("failed to parse configuration: %w", err)
			}

			config.AuthToken = docbridge.MaskSecret(config.AuthToken)
			if config.CustomCookies != "" {
				config.CustomCookies = constants.MaskedSecret
			}

			return render(cmd.OutOrStdout(), config, func(w io.Writer) error {
				return displayConfigTable(w, config)
			})
		},
	}
}

func displayConfigTable(w io.Writer, config *docbridge.Config) error {
	return renderTable(w, []string{"Setting", "Value"}, [][]string{
		{"Base URL", orNotAvailable(config.BaseURL)},
		{"Auth Token", orNotAvailable(config.AuthToken)},
		{"Resource", orNotAvailable(config.Resource)},
		{"Fallback Resources", orNotAvailable(strings.Join(config.FallbackResources, ", "))},
		{"Optional Resources", orNotAvailable(strings.Join(config.OptionalResources, ", "))},
		{"Fields", orNotAvailable(strings.Join(config.Fields, ", "))},
		{"Timeout", config.Timeout.String()},
		{"Max Retries", strconv.Itoa(config.RetryLimit())},
		{"Include Cookies", yesNo(config.IncludeCookies)},
		{"Force Cookies", yesNo(config.ForceCookies)},
		{"Skip Security Token", yesNo(config.SkipSecurityToken)},
		{"Validate Schemas", yesNo(config.ValidateSchemas)},
		{"Fallback Mode", yesNo(config.FallbackMode)},
		{"Origin", orNotAvailable(config.Origin)},
		{"Token Store", title(viper.GetString(keyStoreType))},
		{"Config File", orNotAvailable(viper.ConfigFileUsed())},
	})
}

func newConfigSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a configuration value",
		Long:  "Set a value in the configuration file. List values are comma separated.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configFilePath()
			if err != nil {
				return err
			}

			err = UpdateConfigFile(path, args[0], args[1])
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Set %s in %s\n", args[0], path)

			return nil
		},
	}
}

func newConfigUnsetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unset KEY",
		Short: "Remove a configuration value",
		Long:  "Remove a value from the configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configFilePath()
			if err != nil {
				return err
			}

			err = UpdateConfigFile(path, args[0], "")
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Unset %s in %s\n", args[0], path)

			return nil
		},
	}
}

// UpdateConfigFile sets key to value in the YAML file at path. An empty value
// removes the key. Dotted keys address nested maps.
func UpdateConfigFile(path, key, value string) error {
	if !slices.Contains(ConfigKeys, key) {
		return fmt.Errorf("%w: %q", constants.ErrUnknownConfigKey, key)
	}

	settings, err := readConfigFile(path)
	if err != nil {
		return err
	}

	parts := strings.Split(key, ".")
	parent := settings

	for _, part := range parts[:len(parts)-1] {
		child, ok := parent[part].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			parent[part] = child
		}

		parent = child
	}

	leaf := parts[len(parts)-1]

	switch {
	case value == "":
		delete(parent, leaf)
	case slices.Contains(listKeys, key):
		items := strings.Split(value, ",")
		for i := range items {
			items[i] = strings.TrimSpace(items[i])
		}

		parent[leaf] = items
	default:
		parent[leaf] = parseScalar(value)
	}

	return writeConfigFile(path, settings)
}

func parseScalar(value string) interface{} {
	if parsed, err := strconv.ParseBool(value); err == nil {
		return parsed
	}

	if parsed, err := strconv.Atoi(value); err == nil {
		return parsed
	}

	return value
}

func readConfigFile(path string) (map[string]interface{}, error) {
	settings := make(map[string]interface{})

	data, err := os.ReadFile(path) //nolint:gosec
	if errors.Is(err, os.ErrNotExist) {
		return settings, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	err = yaml.Unmarshal(data, &settings)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if settings == nil {
		settings = make(map[string]interface{})
	}

	return settings, nil
}

func writeConfigFile(path string, settings map[string]interface{}) error {
	err := os.MkdirAll(filepath.Dir(path), constants.ConfigDirPerm)
	if err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = os.WriteFile(path, data, constants.ConfigFilePerm)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
