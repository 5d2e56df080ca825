package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fivetwenty-io/docbridge/pkg/docbridge"
)

// NewProbeCommand creates the probe command.
func NewProbeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "probe [RESOURCE...]",
		Short: "Check which resources are available",
		Long: `Check the primary resource, the fallback resources and the optional resources
of the current configuration. Extra resource names are probed as optional.`,
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

			system, err := client.SystemInfo(ctx)
			if err != nil {
				return fmt.Errorf("failed to probe resources: %w", err)
			}

			extra := make([]docbridge.ResourceInfo, 0, len(args))

			for _, name := range args {
				if _, known := system.Lookup(name); known {
					continue
				}

				extra = append(extra, client.ProbeResource(ctx, name, true))
			}

			report := struct {
				docbridge.SystemInfo `yaml:",inline"`

				Extra []docbridge.ResourceInfo `json:"extra,omitempty" yaml:"extra,omitempty"`
			}{SystemInfo: *system, Extra: extra}

			return render(cmd.OutOrStdout(), report, func(w io.Writer) error {
				return renderSystemInfo(w, system, extra)
			})
		},
	}
}

func renderSystemInfo(w io.Writer, system *docbridge.SystemInfo, extra []docbridge.ResourceInfo) error {
	rows := make([][]string, 0, len(system.Required)+len(system.Optional)+len(extra))

	appendRows := func(kind string, infos []docbridge.ResourceInfo) {
		for _, info := range infos {
			rows = append(rows, []string{
				info.Name,
				kind,
				yesNo(info.Exists),
				yesNo(info.Accessible),
				orNotAvailable(info.Error),
			})
		}
	}

	appendRows("required", system.Required)
	appendRows("optional", system.Optional)
	appendRows("extra", extra)

	err := renderTable(w, []string{"Resource", "Kind", "Exists", "Accessible", "Error"}, rows)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(w, "\nWrite target: %s\n", orNotAvailable(system.WriteTarget))

	if len(system.FallbacksAvailable) > 0 {
		_, _ = fmt.Fprintf(w, "Fallbacks: %s\n", strings.Join(system.FallbacksAvailable, "; "))
	}

	for _, recommendation := range system.Recommendations {
		_, _ = fmt.Fprintf(w, "Recommendation: %s\n", recommendation)
	}

	return nil
}
