package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fivetwenty-io/docbridge/pkg/docbridge"
)

// NewRecordsCommand creates the records command group.
func NewRecordsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "records",
		Aliases: []string{"record", "rec"},
		Short:   "Manage records",
		Long:    "List, get, create and delete records of a resource (the configured resource by default)",
	}

	cmd.AddCommand(newRecordsListCommand())
	cmd.AddCommand(newRecordsGetCommand())
	cmd.AddCommand(newRecordsCreateCommand())
	cmd.AddCommand(newRecordsDeleteCommand())

	return cmd
}

func newRecordsListCommand() *cobra.Command {
	var (
		fields  []string
		filters string
		orderBy string
		start   int
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "list [RESOURCE]",
		Short: "List records",
		Long:  "List records of a resource. A missing optional resource lists as empty.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := &docbridge.ListOptions{
				Fields:     fields,
				OrderBy:    orderBy,
				Start:      start,
				PageLength: limit,
			}

			if filters != "" {
				err := json.Unmarshal([]byte(filters), &opts.Filters)
				if err != nil {
					return fmt.Errorf("failed to parse filters: %w", err)
				}
			}

			ctx := cmd.Context()

			client, logger, err := createClient(ctx)
			if err != nil {
				return err
			}

			defer func() {
				_ = client.Close()
				_ = logger.Sync()
			}()

			records, err := client.List(ctx, resourceArg(args), opts)
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), records, func(w io.Writer) error {
				return renderRecords(w, records, opts.Fields)
			})
		},
	}

	cmd.Flags().StringSliceVar(&fields, "fields", nil, "fields to return (default from configuration)")
	cmd.Flags().StringVar(&filters, "filters", "", `filters as JSON, e.g. [["status","=","Open"]]`)
	cmd.Flags().StringVar(&orderBy, "order-by", "", "sort order, e.g. \"creation desc\"")
	cmd.Flags().IntVar(&start, "start", 0, "offset of the first record")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of records")

	return cmd
}

func newRecordsGetCommand() *cobra.Command {
	var resource string

	cmd := &cobra.Command{
		Use:   "get NAME",
		Short: "Get a record",
		Long:  "Display one record by name",
		Args:  cobra.ExactArgs(1),
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

			if resource == "" {
				resource = client.Config().Resource
			}

			record, err := client.Get(ctx, resource, args[0])
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), record, func(w io.Writer) error {
				return renderRecord(w, record)
			})
		},
	}

	cmd.Flags().StringVar(&resource, "in", "", "resource holding the record (default from configuration)")

	return cmd
}

func newRecordsCreateCommand() *cobra.Command {
	var resource string

	cmd := &cobra.Command{
		Use:   "create JSON",
		Short: "Create a record",
		Long:  "Create one record from a JSON object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var record docbridge.Record

			err := json.Unmarshal([]byte(args[0]), &record)
			if err != nil {
				return fmt.Errorf("failed to parse record: %w", err)
			}

			ctx := cmd.Context()

			client, logger, err := createClient(ctx)
			if err != nil {
				return err
			}

			defer func() {
				_ = client.Close()
				_ = logger.Sync()
			}()

			if resource == "" {
				resource = client.Config().Resource
			}

			created, err := client.Create(ctx, resource, record)
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), created, func(w io.Writer) error {
				return renderRecord(w, created)
			})
		},
	}

	cmd.Flags().StringVar(&resource, "in", "", "resource to create the record in (default from configuration)")

	return cmd
}

func newRecordsDeleteCommand() *cobra.Command {
	var resource string

	cmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a record",
		Long:  "Delete one record by name",
		Args:  cobra.ExactArgs(1),
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

			if resource == "" {
				resource = client.Config().Resource
			}

			err = client.Delete(ctx, resource, args[0])
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s %s\n", resource, args[0])

			return nil
		},
	}

	cmd.Flags().StringVar(&resource, "in", "", "resource holding the record (default from configuration)")

	return cmd
}

func resourceArg(args []string) string {
	if len(args) == 0 {
		return ""
	}

	return args[0]
}

func renderRecords(w io.Writer, records []docbridge.Record, fields []string) error {
	if len(records) == 0 {
		_, _ = fmt.Fprintln(w, "No records found")

		return nil
	}

	columns := fields
	if len(columns) == 0 {
		columns = recordKeys(records...)
	}

	rows := make([][]string, 0, len(records))

	for _, record := range records {
		row := make([]string, 0, len(columns))
		for _, column := range columns {
			row = append(row, formatValue(record[column]))
		}

		rows = append(rows, row)
	}

	return renderTable(w, columns, rows)
}

func renderRecord(w io.Writer, record docbridge.Record) error {
	rows := make([][]string, 0, len(record))
	for _, key := range recordKeys(record) {
		rows = append(rows, []string{key, formatValue(record[key])})
	}

	return renderTable(w, []string{"Field", "Value"}, rows)
}

// recordKeys returns the union of keys, "name" first and the rest sorted.
func recordKeys(records ...docbridge.Record) []string {
	seen := make(map[string]bool)
	keys := make([]string, 0)

	for _, record := range records {
		for key := range record {
			if !seen[key] && key != "name" {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}

	sort.Strings(keys)

	for _, record := range records {
		if _, ok := record["name"]; ok {
			return append([]string{"name"}, keys...)
		}
	}

	return keys
}

func formatValue(value interface{}) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}

		return string(data)
	default:
		return strings.TrimSpace(fmt.Sprint(typed))
	}
}
