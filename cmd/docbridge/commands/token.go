package commands

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/fivetwenty-io/docbridge/internal/auth"
	"github.com/fivetwenty-io/docbridge/internal/constants"
	"github.com/fivetwenty-io/docbridge/internal/origin"
	"github.com/fivetwenty-io/docbridge/pkg/docbridge"
)

// NewTokenCommand creates the token command group.
func NewTokenCommand() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Resolve the security token",
		Long: `Resolve the anti-forgery security token the way a mutating request would:
host document, environment, cookies, token store and finally the token endpoint.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			client, logger, err := createClient(ctx)
			if err != nil {
				return err
			}

			defer func() {
				_ = client.Close()
				_ = logger.Sync()
			}()

			token, err := client.ResolveSecurityToken(ctx)
			if err != nil {
				return fmt.Errorf("failed to resolve security token: %w", err)
			}

			if token == nil {
				return constants.ErrNoTokenFound
			}

			view := *token
			if !reveal {
				view.Value = docbridge.MaskSecret(token.Value)
			}

			return render(cmd.OutOrStdout(), view, func(w io.Writer) error {
				return renderTable(w, []string{"Property", "Value"}, [][]string{
					{"Token", view.Value},
					{"Source", title(string(view.Source))},
					{"Resolved At", view.ResolvedAt.Format(time.RFC3339)},
				})
			})
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "print the token unmasked")

	cmd.AddCommand(newTokenClearCommand())

	return cmd
}

func newTokenClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget the stored security token",
		Long:  "Remove the security token persisted for the configured server from the token store",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := LoadClientConfig()
			if err != nil {
				return err
			}

			storeCfg, err := storeConfig()
			if err != nil {
				return err
			}

			key, ok := origin.Of(config.Normalize().BaseURL)
			if !ok {
				key = config.BaseURL
			}

			storeCfg.Key = key

			store, err := auth.NewStoreFromConfig(storeCfg)
			if err != nil {
				return fmt.Errorf("failed to open token store: %w", err)
			}

			if closer, ok := store.(io.Closer); ok {
				defer func() { _ = closer.Close() }()
			}

			err = store.Clear(cmd.Context())
			if err != nil && !errors.Is(err, docbridge.ErrTokenNotFound) {
				return fmt.Errorf("failed to clear token: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cleared stored token for %s\n", key)

			return nil
		},
	}
}
