package commands

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fivetwenty-io/docbridge/pkg/docbridge"
)

// NewDebugCommand creates the debug command.
func NewDebugCommand() *cobra.Command {
	var skipProbe bool

	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Show client state",
		Long: `Probe the configured resources, resolve the security token and display the
resulting client state with every secret masked.`,
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

			if !skipProbe {
				_, err = client.SystemInfo(ctx)
				if err != nil {
					return fmt.Errorf("failed to probe resources: %w", err)
				}

				_, err = client.ResolveSecurityToken(ctx)
				if err != nil {
					return fmt.Errorf("failed to resolve security token: %w", err)
				}
			}

			snapshot := client.Snapshot()

			return render(cmd.OutOrStdout(), snapshot, func(w io.Writer) error {
				return renderSnapshot(w, snapshot)
			})
		},
	}

	cmd.Flags().BoolVar(&skipProbe, "no-probe", false, "show cached state only, without network access")

	return cmd
}

func renderSnapshot(w io.Writer, snapshot docbridge.DebugSnapshot) error {
	err := renderTable(w, []string{"Property", "Value"}, [][]string{
		{"Base URL", snapshot.BaseURL},
		{"Resource", snapshot.Resource},
		{"Cross Origin", yesNo(snapshot.CrossOrigin)},
		{"Auth Token", orNotAvailable(snapshot.AuthToken)},
		{"Security Token", orNotAvailable(snapshot.Token)},
		{"Token Source", title(string(snapshot.TokenSource))},
		{"Fallback Mode", yesNo(snapshot.FallbackMode)},
		{"Skip Security Token", yesNo(snapshot.SkipToken)},
		{"Session", strconv.FormatUint(snapshot.SessionNumber, 10)},
	})
	if err != nil {
		return err
	}

	if snapshot.SystemInfo == nil {
		return nil
	}

	_, _ = fmt.Fprintln(w)

	return renderSystemInfo(w, snapshot.SystemInfo, nil)
}
