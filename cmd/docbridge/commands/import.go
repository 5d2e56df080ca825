package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fivetwenty-io/docbridge/internal/constants"
	"github.com/fivetwenty-io/docbridge/pkg/docbridge"
)

type importOptions struct {
	batchSize   int
	maxRetries  int
	delay       time.Duration
	batchDelay  time.Duration
	stopOnError bool
	quiet       bool
}

// NewImportCommand creates the import command.
func NewImportCommand() *cobra.Command {
	opts := &importOptions{}

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Create records in bulk",
		Long: `Create every record of a JSON or YAML list in the configured resource, in
batches, retrying transient failures with exponential backoff. A FILE of "-"
reads the list from stdin. Interrupting the command stops it before the next
record and reports what was created.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := readRecordsArg(cmd, args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			return runImport(ctx, cmd, records, opts)
		},
	}

	cmd.Flags().IntVar(&opts.batchSize, "batch-size", constants.DefaultBatchSize, "records per batch")
	cmd.Flags().IntVar(&opts.maxRetries, "max-retries", -1, "additional attempts per record (default from configuration)")
	cmd.Flags().DurationVar(&opts.delay, "delay", 0, "pause between records of a batch")
	cmd.Flags().DurationVar(&opts.batchDelay, "batch-delay", 0, "pause between batches")
	cmd.Flags().BoolVar(&opts.stopOnError, "stop-on-error", false, "stop at the first record that fails")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "do not print progress")

	return cmd
}

func runImport(ctx context.Context, cmd *cobra.Command, records []docbridge.Record, opts *importOptions) error {
	client, logger, err := createClient(ctx)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
		_ = logger.Sync()
	}()

	bulkOpts := docbridge.BulkOptions{
		BatchSize:            opts.batchSize,
		DelayBetweenRequests: opts.delay,
		DelayBetweenBatches:  opts.batchDelay,
		StopOnError:          opts.stopOnError,
	}

	if opts.maxRetries >= 0 {
		bulkOpts.MaxRetries = docbridge.Retries(opts.maxRetries)
	}

	var reported chan struct{}

	if !opts.quiet && viper.GetString(keyOutput) == constants.FormatTable {
		events := make(chan docbridge.Event, constants.EventBufferSize)
		bulkOpts.Events = events
		reported = make(chan struct{})

		go func() {
			defer close(reported)
			ReportProgress(cmd.ErrOrStderr(), events)
		}()
	}

	result, runErr := client.BulkCreate(ctx, records, bulkOpts)

	if reported != nil {
		close(bulkOpts.Events)
		<-reported
	}

	if result == nil {
		return fmt.Errorf("bulk create failed: %w", runErr)
	}

	err = render(cmd.OutOrStdout(), result, func(w io.Writer) error {
		return renderBulkResult(w, result)
	})
	if err != nil {
		return err
	}

	if runErr != nil {
		return fmt.Errorf("bulk create interrupted: %w", runErr)
	}

	if !result.Success {
		return fmt.Errorf("%w: %d of %d failed", constants.ErrImportIncomplete, result.Failed, result.Requested)
	}

	return nil
}

// ReportProgress writes a progress line per event until events is closed.
func ReportProgress(w io.Writer, events <-chan docbridge.Event) {
	printed := false

	for event := range events {
		switch event.Type {
		case docbridge.EventProgress:
			snapshot := event.Progress
			_, _ = fmt.Fprintf(w, "\rProcessing %d/%d (created %d, failed %d, retries %d)%s",
				snapshot.CurrentIndex+1, snapshot.Total, snapshot.Completed, snapshot.Failed, snapshot.Retries, eta(*snapshot))
			printed = true
		case docbridge.EventBatchComplete:
			batch := event.Batch
			_, _ = fmt.Fprintf(w, "\rBatch %d done: %d created, %d failed\n", batch.Number, batch.Completed, batch.Failed)
			printed = false
		}
	}

	if printed {
		_, _ = fmt.Fprintln(w)
	}
}

func eta(snapshot docbridge.ProgressSnapshot) string {
	if snapshot.ETA == nil {
		return ""
	}

	return ", about " + snapshot.ETA.Round(time.Second).String() + " left"
}

func renderBulkResult(w io.Writer, result *docbridge.BulkCreateResult) error {
	err := renderTable(w, []string{"Property", "Value"}, [][]string{
		{"Target", result.Target},
		{"Requested", strconv.Itoa(result.Requested)},
		{"Processed", strconv.Itoa(result.Total)},
		{"Created", strconv.Itoa(result.Completed)},
		{"Failed", strconv.Itoa(result.Failed)},
		{"Retries", strconv.Itoa(result.Retries)},
		{"Halted", yesNo(result.Halted)},
		{"Canceled", yesNo(result.Canceled)},
		{"Duration", result.Duration.Round(time.Millisecond).String()},
	})
	if err != nil {
		return err
	}

	if result.Failed == 0 {
		return nil
	}

	rows := make([][]string, 0, result.Failed)

	for _, item := range result.Results {
		if item.Success {
			continue
		}

		rows = append(rows, []string{
			strconv.Itoa(item.Index),
			strconv.Itoa(item.Attempts),
			title(string(docbridge.KindOf(item.Error))),
			item.ErrorMessage(),
		})
	}

	_, _ = fmt.Fprintln(w)

	return renderTable(w, []string{"Index", "Attempts", "Kind", "Error"}, rows)
}

// ReadRecords loads a JSON or YAML list of objects.
func ReadRecords(path string) ([]docbridge.Record, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}

	return DecodeRecords(data)
}

// readRecordsArg reads records from stdin when path is "-".
func readRecordsArg(cmd *cobra.Command, path string) ([]docbridge.Record, error) {
	if path != "-" {
		return ReadRecords(path)
	}

	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return nil, fmt.Errorf("failed to read records from stdin: %w", err)
	}

	return DecodeRecords(data)
}

// DecodeRecords parses a JSON or YAML list of records.
func DecodeRecords(data []byte) ([]docbridge.Record, error) {
	var records []docbridge.Record

	err := json.Unmarshal(data, &records)
	if err != nil {
		var raw []map[string]interface{}

		yamlErr := yaml.Unmarshal(data, &raw)
		if yamlErr != nil {
			return nil, fmt.Errorf("%w: %w", constants.ErrInvalidRecordFile, yamlErr)
		}

		records = make([]docbridge.Record, 0, len(raw))
		for _, record := range raw {
			records = append(records, docbridge.Record(record))
		}
	}

	if len(records) == 0 {
		return nil, constants.ErrEmptyRecordFile
	}

	return records, nil
}
