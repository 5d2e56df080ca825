//go:build integration

package integration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resourceInfo struct {
	Name       string `json:"name"`
	Exists     bool   `json:"exists"`
	Accessible bool   `json:"accessible"`
}

type systemInfo struct {
	Required    []resourceInfo `json:"required"`
	WriteTarget string         `json:"write_target"`
}

type bulkResult struct {
	Success   bool                     `json:"success"`
	Target    string                   `json:"target"`
	Completed int                      `json:"completed"`
	Failed    int                      `json:"failed"`
	Created   []map[string]interface{} `json:"created"`
}

// TestRecordWorkflow_CompleteJourney creates, reads, lists and deletes one record
func TestRecordWorkflow_CompleteJourney(t *testing.T) {
	config := LoadTestConfig()
	config.SkipIfMissingConfig(t)

	runner := NewCommandRunner(config, t)

	// 1. The primary resource must be writable
	var info systemInfo
	require.NoError(t, runner.RunJSON(&info, "probe"))
	require.Len(t, info.Required, 1)
	require.True(t, info.Required[0].Accessible, "resource %s is not accessible", config.Resource)
	assert.Equal(t, config.Resource, info.WriteTarget)

	// 2. Create a record
	subject := GenerateTestName("workflow-record")

	payload, err := json.Marshal(map[string]string{"description": subject})
	require.NoError(t, err)

	var created map[string]interface{}
	require.NoError(t, runner.RunJSON(&created, "records", "create", string(payload)))

	name, ok := created["name"].(string)
	require.True(t, ok, "created record has no name: %v", created)

	defer runner.CleanupRecord(config.Resource, name)

	// 3. Read it back
	var fetched map[string]interface{}
	require.NoError(t, runner.RunJSON(&fetched, "records", "get", name))
	assert.Equal(t, name, fetched["name"])

	// 4. It shows up in a listing
	var listed []map[string]interface{}
	require.NoError(t, runner.RunJSON(&listed, "records", "list", "--fields", "name", "--order-by", "creation desc", "--limit", "20"))

	names := make([]interface{}, 0, len(listed))
	for _, record := range listed {
		names = append(names, record["name"])
	}

	assert.Contains(t, names, name)

	// 5. Delete it
	stdout, stderr, err := runner.Run("records", "delete", name)
	require.NoError(t, err, "Failed to delete record: %s", stderr)
	assert.Contains(t, stdout, name)
}

// TestImportWorkflow_BatchedCreation imports a small file and cleans up what it created
func TestImportWorkflow_BatchedCreation(t *testing.T) {
	config := LoadTestConfig()
	config.SkipIfMissingConfig(t)

	runner := NewCommandRunner(config, t)

	records := []map[string]string{
		{"description": GenerateTestName("import-a")},
		{"description": GenerateTestName("import-b")},
		{"description": GenerateTestName("import-c")},
	}

	data, err := json.Marshal(records)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "records.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	var result bulkResult
	require.NoError(t, runner.RunJSON(&result, "import", path, "--batch-size", "2", "--delay", "200ms"))

	for _, record := range result.Created {
		if name, ok := record["name"].(string); ok {
			defer runner.CleanupRecord(result.Target, name)
		}
	}

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Completed)
	assert.Zero(t, result.Failed)
}

// TestImportWorkflow_FromStdin pipes records into import and waits until they are listed
func TestImportWorkflow_FromStdin(t *testing.T) {
	config := LoadTestConfig()
	config.SkipIfMissingConfig(t)

	runner := NewCommandRunner(config, t)

	subject := GenerateTestName("import-stdin")

	data, err := json.Marshal([]map[string]string{{"description": subject}})
	require.NoError(t, err)

	stdout, stderr, err := runner.RunWithInput(string(data), "import", "-", "--output", "json")
	require.NoError(t, err, "Failed to import from stdin: %s", stderr)

	var result bulkResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	require.Equal(t, 1, result.Completed)

	name, ok := result.Created[0]["name"].(string)
	require.True(t, ok, "created record has no name: %v", result.Created[0])

	defer runner.CleanupRecord(result.Target, name)

	WaitForCondition(t, func() bool {
		var listed []map[string]interface{}
		if runner.RunJSON(&listed, "records", "list", result.Target, "--fields", "name", "--order-by", "creation desc", "--limit", "20") != nil {
			return false
		}

		for _, record := range listed {
			if record["name"] == name {
				return true
			}
		}

		return false
	}, 10*time.Second, "imported record "+name+" to be listed")
}

// TestTokenWorkflow_SecurityTokenResolves checks that the anti-forgery token can be found
func TestTokenWorkflow_SecurityTokenResolves(t *testing.T) {
	config := LoadTestConfig()
	config.SkipIfMissingConfig(t)

	runner := NewCommandRunner(config, t)

	stdout, stderr, err := runner.Run("token", "--output", "json")
	require.NoError(t, err, "Failed to resolve security token: %s", stderr)

	var token map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &token))
	assert.NotEmpty(t, token["source"])

	_, stderr, err = runner.Run("token", "clear")
	require.NoError(t, err, "Failed to clear stored token: %s", stderr)
}
