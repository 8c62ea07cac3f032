package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTestOutput(t *testing.T) {
	output := `=== RUN   TestAlpha
--- PASS: TestAlpha (0.00s)
=== RUN   TestBeta
--- FAIL: TestBeta (0.01s)
=== RUN   TestGamma
--- PASS: TestGamma (0.00s)
coverage: 81.5% of statements
FAIL`

	result := parseTestOutput(output)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Passed)
	assert.Equal(t, 1, result.Failed)
	require.NotNil(t, result.Coverage)
	assert.InDelta(t, 81.5, *result.Coverage, 1e-9)
}

func TestParseTestOutput_NoCoverage(t *testing.T) {
	result := parseTestOutput("--- PASS: TestOnly (0.00s)\nok")
	assert.Equal(t, 1, result.Passed)
	assert.Nil(t, result.Coverage)
}

func TestRunTests_CommandFailureIsNeverSilentlyGreen(t *testing.T) {
	r := NewExecRunner(t.TempDir(), nil, WithTestCommand("false"))

	result, err := r.RunTests(context.Background(), "", false)
	require.NoError(t, err)
	assert.False(t, result.AllPassed())
	assert.Equal(t, 1, result.Failed)
}

func TestRunTests_PassingCommand(t *testing.T) {
	r := NewExecRunner(t.TempDir(), nil, WithTestCommand("echo", "--- PASS: TestFake (0.00s)"))

	result, err := r.RunTests(context.Background(), "", false)
	require.NoError(t, err)
	assert.True(t, result.AllPassed())
	assert.Equal(t, 1, result.Passed)
}

func TestCheckTypes(t *testing.T) {
	ok := NewExecRunner(t.TempDir(), nil, WithTypeCheckCommand("true"))
	passed, errs, err := ok.CheckTypes(context.Background())
	require.NoError(t, err)
	assert.True(t, passed)
	assert.Empty(t, errs)

	bad := NewExecRunner(t.TempDir(), nil, WithTypeCheckCommand("sh", "-c", "echo 'cannot use x as y'; exit 1"))
	passed, errs, err = bad.CheckTypes(context.Background())
	require.NoError(t, err)
	assert.False(t, passed)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "cannot use x")
}

func TestValidateSchema(t *testing.T) {
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema.json")
	dataPath := filepath.Join(dir, "data.json")

	require.NoError(t, os.WriteFile(schemaPath, []byte(`{"required": ["name", "version"]}`), 0o644))
	require.NoError(t, os.WriteFile(dataPath, []byte(`{"name": "turbine"}`), 0o644))

	r := NewExecRunner(dir, nil)
	valid, errs, err := r.ValidateSchema(context.Background(), schemaPath, dataPath)
	require.NoError(t, err)
	assert.False(t, valid)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "version")

	require.NoError(t, os.WriteFile(dataPath, []byte(`{"name": "turbine", "version": "1.0"}`), 0o644))
	valid, errs, err = r.ValidateSchema(context.Background(), schemaPath, dataPath)
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Empty(t, errs)

	valid, errs, err = r.ValidateSchema(context.Background(), filepath.Join(dir, "missing.json"), dataPath)
	require.NoError(t, err)
	assert.False(t, valid)
	assert.NotEmpty(t, errs)
}
