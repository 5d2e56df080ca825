package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fivetwenty-io/docbridge/cmd/docbridge/commands"
	"github.com/fivetwenty-io/docbridge/internal/constants"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "docbridge",
	Short: "Resilient client for document resource servers",
	Long: `A command-line interface for exchanging records with a document-oriented
resource server whose resources and credentials are not known in advance.

It discovers which resources exist, falls back to alternative resources,
finds the anti-forgery security token and imports records in batches with
retries and progress reporting.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.docbridge/config.yml)")
	rootCmd.PersistentFlags().StringP("base-url", "u", "", "resource server URL")
	rootCmd.PersistentFlags().StringP("token", "t", "", "auth token (api_key:api_secret or a full Authorization value)")
	rootCmd.PersistentFlags().StringP("resource", "r", "", "primary resource name")
	rootCmd.PersistentFlags().StringSlice("fallback", nil, "fallback resource names in preference order")
	rootCmd.PersistentFlags().Bool("fallback-mode", false, "write to a fallback resource when the primary is missing")
	rootCmd.PersistentFlags().Bool("skip-security-token", false, "never look for or send the security token")
	rootCmd.PersistentFlags().StringP("output", "o", constants.FormatTable, "output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")

	// Bind flags to viper
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("base_url", rootCmd.PersistentFlags().Lookup("base-url"))
	_ = viper.BindPFlag("auth_token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("resource", rootCmd.PersistentFlags().Lookup("resource"))
	_ = viper.BindPFlag("fallback_resources", rootCmd.PersistentFlags().Lookup("fallback"))
	_ = viper.BindPFlag("fallback_mode", rootCmd.PersistentFlags().Lookup("fallback-mode"))
	_ = viper.BindPFlag("skip_security_token", rootCmd.PersistentFlags().Lookup("skip-security-token"))
	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	// Add commands
	rootCmd.AddCommand(commands.NewVersionCommand(version, commit, date))
	rootCmd.AddCommand(commands.NewLoginCommand())
	rootCmd.AddCommand(commands.NewConfigCommand())
	rootCmd.AddCommand(commands.NewProbeCommand())
	rootCmd.AddCommand(commands.NewTokenCommand())
	rootCmd.AddCommand(commands.NewRecordsCommand())
	rootCmd.AddCommand(commands.NewImportCommand())
	rootCmd.AddCommand(commands.NewDebugCommand())
}

func initConfig() {
	commands.SetDefaults()

	cfgFile := viper.GetString("config")

	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		// Search config in ~/.docbridge/config.yml
		viper.AddConfigPath(filepath.Join(home, ".docbridge"))
		viper.SetConfigType("yml")
		viper.SetConfigName("config")
	}

	// Read in environment variables that match
	viper.SetEnvPrefix(constants.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
