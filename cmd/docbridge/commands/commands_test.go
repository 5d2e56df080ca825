package commands_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/fivetwenty-io/docbridge/cmd/docbridge/commands"
	"github.com/fivetwenty-io/docbridge/internal/constants"
	"github.com/fivetwenty-io/docbridge/internal/testserver"
	"github.com/fivetwenty-io/docbridge/pkg/docbridge"
)

// findSubcommand finds a subcommand by name within a cobra command.
func findSubcommand(cmd *cobra.Command, name string) *cobra.Command {
	for _, c := range cmd.Commands() {
		if c.Name() == name {
			return c
		}
	}

	return nil
}

func TestCommandTree(t *testing.T) {
	t.Parallel()

	records := commands.NewRecordsCommand()
	for _, name := range []string{"list", "get", "create", "delete"} {
		assert.NotNil(t, findSubcommand(records, name), "records %s should exist", name)
	}

	config := commands.NewConfigCommand()
	for _, name := range []string{"show", "set", "unset"} {
		assert.NotNil(t, findSubcommand(config, name), "config %s should exist", name)
	}

	assert.NotNil(t, findSubcommand(commands.NewTokenCommand(), "clear"))

	importCmd := commands.NewImportCommand()
	assert.Equal(t, "import FILE", importCmd.Use)

	for _, flag := range []string{"batch-size", "max-retries", "delay", "batch-delay", "stop-on-error", "quiet"} {
		assert.NotNil(t, importCmd.Flags().Lookup(flag), "flag %s should exist", flag)
	}
}

func TestReadRecords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    int
		err     error
	}{
		{name: "json", content: `[{"subject":"a"},{"subject":"b"}]`, want: 2},
		{name: "yaml", content: "- subject: a\n- subject: b\n- subject: c\n", want: 3},
		{name: "empty", content: `[]`, err: constants.ErrEmptyRecordFile},
		{name: "object", content: `{"subject":"a"}`, err: constants.ErrInvalidRecordFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(dir, tt.name)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			records, err := commands.ReadRecords(path)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)

				return
			}

			require.NoError(t, err)
			assert.Len(t, records, tt.want)
			assert.Equal(t, "a", records[0]["subject"])
		})
	}
}

func TestUpdateConfigFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.yml")

	require.NoError(t, commands.UpdateConfigFile(path, "base_url", "https://erp.example.com"))
	require.NoError(t, commands.UpdateConfigFile(path, "fallback_mode", "true"))
	require.NoError(t, commands.UpdateConfigFile(path, "fallback_resources", "Issue, ToDo"))
	require.NoError(t, commands.UpdateConfigFile(path, "token_store.type", "nats"))
	require.NoError(t, commands.UpdateConfigFile(path, "max_retries", "5"))
	require.NoError(t, commands.UpdateConfigFile(path, "max_retries", ""))

	err := commands.UpdateConfigFile(path, "no_such_key", "x")
	require.ErrorIs(t, err, constants.ErrUnknownConfigKey)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var settings map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &settings))

	assert.Equal(t, "https://erp.example.com", settings["base_url"])
	assert.Equal(t, true, settings["fallback_mode"])
	assert.Equal(t, []interface{}{"Issue", "ToDo"}, settings["fallback_resources"])
	assert.Equal(t, map[string]interface{}{"type": "nats"}, settings["token_store"])
	assert.NotContains(t, settings, "max_retries")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(constants.ConfigFilePerm), info.Mode().Perm())
}

func configureViper(t *testing.T, server *testserver.Server, resource string) {
	t.Helper()

	viper.Reset()
	commands.SetDefaults()
	viper.Set("base_url", server.URL)
	viper.Set("resource", resource)
	viper.Set("skip_security_token", true)
	viper.Set("token_store.type", "memory")
	viper.Set("output", constants.FormatJSON)

	t.Cleanup(viper.Reset)
}

func TestImportCommand(t *testing.T) {
	server := testserver.New("ToDo")
	defer server.Close()

	configureViper(t, server, "HD Ticket")
	viper.Set("fallback_resources", []string{"Issue", "ToDo"})
	viper.Set("fallback_mode", true)

	path := filepath.Join(t.TempDir(), "records.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"subject":"a"},{"subject":"b"},{"subject":"c"}]`), 0o600))

	var out bytes.Buffer

	cmd := commands.NewImportCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path, "--batch-size", "2"})

	require.NoError(t, cmd.Execute())

	var result docbridge.BulkCreateResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))

	assert.Equal(t, "ToDo", result.Target)
	assert.Equal(t, 3, result.Completed)
	assert.Len(t, result.Batches, 2)
	assert.Len(t, server.Records("ToDo"), 3)
}

func TestImportCommand_TableProgress(t *testing.T) {
	server := testserver.New("Task")
	defer server.Close()

	configureViper(t, server, "Task")
	viper.Set("output", constants.FormatTable)

	path := filepath.Join(t.TempDir(), "records.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"subject":"a"},{"subject":"b"},{"subject":"c"}]`), 0o600))

	var out, progress bytes.Buffer

	cmd := commands.NewImportCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&progress)
	cmd.SetArgs([]string{path, "--batch-size", "2"})

	require.NoError(t, cmd.Execute())

	assert.Contains(t, progress.String(), "Processing 3/3")
	assert.Contains(t, progress.String(), "Batch 2 done: 1 created, 0 failed")
	assert.Len(t, server.Records("Task"), 3)
}

func TestImportCommand_Stdin(t *testing.T) {
	server := testserver.New("Task")
	defer server.Close()

	configureViper(t, server, "Task")

	var out bytes.Buffer

	cmd := commands.NewImportCommand()
	cmd.SetIn(bytes.NewBufferString("- subject: a\n- subject: b\n"))
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"-"})

	require.NoError(t, cmd.Execute())

	var result docbridge.BulkCreateResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))

	assert.Equal(t, 2, result.Completed)
	assert.Len(t, server.Records("Task"), 2)
}

func TestReportProgress(t *testing.T) {
	t.Parallel()

	eta := 4 * time.Second

	tests := []struct {
		name   string
		events []docbridge.Event
		want   string
	}{
		{name: "no events", want: ""},
		{
			name: "progress line ends with newline",
			events: []docbridge.Event{
				{Type: docbridge.EventProgress, Progress: &docbridge.ProgressSnapshot{Total: 3, Processed: 1, Completed: 1, CurrentIndex: 1, ETA: &eta}},
			},
			want: "\rProcessing 2/3 (created 1, failed 0, retries 0), about 4s left\n",
		},
		{
			name: "batch summary",
			events: []docbridge.Event{
				{Type: docbridge.EventProgress, Progress: &docbridge.ProgressSnapshot{Total: 1}},
				{Type: docbridge.EventBatchComplete, Batch: &docbridge.BulkCreateBatchResult{Number: 1, Failed: 1}},
			},
			want: "\rProcessing 1/1 (created 0, failed 0, retries 0)\rBatch 1 done: 0 created, 1 failed\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			events := make(chan docbridge.Event, constants.EventBufferSize)
			for _, event := range tt.events {
				events <- event
			}

			close(events)

			var out bytes.Buffer

			commands.ReportProgress(&out, events)
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestImportCommand_ReportsFailures(t *testing.T) {
	server := testserver.New()
	defer server.Close()

	configureViper(t, server, "Task")
	viper.Set("validate_schemas", false)

	path := filepath.Join(t.TempDir(), "records.yml")
	require.NoError(t, os.WriteFile(path, []byte("- subject: a\n"), 0o600))

	var out bytes.Buffer

	cmd := commands.NewImportCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.ErrorIs(t, err, constants.ErrImportIncomplete)

	var result docbridge.BulkCreateResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))

	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Results, 1)
	assert.Equal(t, 1, result.Results[0].Attempts)
}

func TestRecordsListCommand(t *testing.T) {
	server := testserver.New("Task")
	defer server.Close()

	configureViper(t, server, "Task")
	viper.Set("output", constants.FormatTable)

	var out bytes.Buffer

	create := commands.NewRecordsCommand()
	create.SetOut(&out)
	create.SetArgs([]string{"create", `{"subject":"printer"}`})
	require.NoError(t, create.Execute())

	out.Reset()

	list := commands.NewRecordsCommand()
	list.SetOut(&out)
	list.SetArgs([]string{"list"})
	require.NoError(t, list.Execute())

	assert.Contains(t, out.String(), "printer")
	assert.Contains(t, out.String(), "Task-0001")
}

func TestProbeCommand(t *testing.T) {
	server := testserver.New("Task")
	defer server.Close()

	configureViper(t, server, "Task")

	var out bytes.Buffer

	cmd := commands.NewProbeCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"Ghost"})
	require.NoError(t, cmd.Execute())

	var report struct {
		WriteTarget string                   `json:"write_target"`
		Required    []docbridge.ResourceInfo `json:"required"`
		Extra       []docbridge.ResourceInfo `json:"extra"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))

	assert.Equal(t, "Task", report.WriteTarget)
	require.Len(t, report.Required, 1)
	assert.True(t, report.Required[0].Exists)
	require.Len(t, report.Extra, 1)
	assert.False(t, report.Extra[0].Exists)
}

func TestLoadClientConfig(t *testing.T) {
	viper.Reset()
	commands.SetDefaults()
	t.Cleanup(viper.Reset)

	_, err := commands.LoadClientConfig()
	require.ErrorIs(t, err, constants.ErrNoBaseURL)

	viper.Set("base_url", "https://erp.example.com")

	_, err = commands.LoadClientConfig()
	require.ErrorIs(t, err, constants.ErrNoResource)

	viper.Set("resource", "HD Ticket")
	viper.Set("timeout", "5s")

	config, err := commands.LoadClientConfig()
	require.NoError(t, err)
	assert.Equal(t, "HD Ticket", config.Resource)
	assert.Equal(t, "5s", config.Timeout.String())
	assert.True(t, config.ValidateSchemas)
}
