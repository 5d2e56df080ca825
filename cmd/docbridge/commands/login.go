package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/fivetwenty-io/docbridge/internal/constants"
	"github.com/fivetwenty-io/docbridge/pkg/bridge"
	"github.com/fivetwenty-io/docbridge/pkg/docbridge"
)

// NewLoginCommand creates the login command.
func NewLoginCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Save server credentials",
		Long: `Ask for the base URL, the primary resource and the auth token when they are
not configured yet, check that the resource server accepts them and save them
to the configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(cmd.InOrStdin())
			out := cmd.OutOrStdout()

			config := docbridge.DefaultConfig()

			err := viper.Unmarshal(config)
			if err != nil {
				return fmt.Errorf("failed to parse configuration: %w", err)
			}

			if config.BaseURL == "" {
				_, _ = fmt.Fprint(out, "Base URL: ")
				config.BaseURL = readLine(reader)
			}

			if config.Resource == "" {
				_, _ = fmt.Fprint(out, "Resource: ")
				config.Resource = readLine(reader)
			}

			if config.AuthToken == "" {
				_, _ = fmt.Fprint(out, "Auth token (api_key:api_secret): ")

				config.AuthToken, err = readSecret(reader)
				if err != nil {
					return fmt.Errorf("failed to read auth token: %w", err)
				}

				_, _ = fmt.Fprintln(out)
			}

			if config.AuthToken == "" {
				return constants.ErrNoAuthToken
			}

			client, err := bridge.New(cmd.Context(), config)
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			defer func() { _ = client.Close() }()

			info := client.ProbeResource(cmd.Context(), config.Resource, false)
			if !info.Accessible {
				return fmt.Errorf("failed to reach %s: %s", config.Resource, info.Error)
			}

			path, err := configFilePath()
			if err != nil {
				return err
			}

			normalized := client.Config()

			for key, value := range map[string]string{
				"base_url":   normalized.BaseURL,
				"resource":   normalized.Resource,
				"auth_token": normalized.AuthToken,
			} {
				err = UpdateConfigFile(path, key, value)
				if err != nil {
					return err
				}
			}

			_, _ = fmt.Fprintf(out, "Logged in to %s, saved to %s\n", normalized.BaseURL, path)

			return nil
		},
	}
}

func readLine(reader *bufio.Reader) string {
	line, _ := reader.ReadString('\n')

	return strings.TrimSpace(line)
}

// readSecret reads without echo from a terminal and falls back to a plain line
// when stdin is piped.
func readSecret(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd()) //nolint:gosec
	if !term.IsTerminal(fd) {
		return readLine(reader), nil
	}

	secret, err := term.ReadPassword(fd)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(secret)), nil
}
