// Package runner adapts test execution, type checking and schema validation
// behind the corresponding effects. The exec implementation shells out to
// configurable commands; parsing is deliberately shallow, the pass/fail
// signal is the exit code.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/turbine/internal/core"
)

var coveragePattern = regexp.MustCompile(`coverage:\s+([0-9.]+)%`)

// ExecRunner shells out to the project's own tooling inside the session
// work directory.
type ExecRunner struct {
	dir     string
	testCmd []string
	typeCmd []string
	logger  *zap.Logger
}

// Option configures an ExecRunner.
type Option func(*ExecRunner)

// WithTestCommand overrides the test command.
func WithTestCommand(cmd ...string) Option {
	return func(r *ExecRunner) { r.testCmd = cmd }
}

// WithTypeCheckCommand overrides the type-check command.
func WithTypeCheckCommand(cmd ...string) Option {
	return func(r *ExecRunner) { r.typeCmd = cmd }
}

// NewExecRunner builds a runner rooted at dir.
func NewExecRunner(dir string, logger *zap.Logger, opts ...Option) *ExecRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &ExecRunner{
		dir:     dir,
		testCmd: []string{"go", "test", "./...", "-cover"},
		typeCmd: []string{"go", "vet", "./..."},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunTests executes the test command and derives a TestResult from its exit
// code and output.
func (r *ExecRunner) RunTests(ctx context.Context, pattern string, coverage bool) (core.TestResult, error) {
	args := append([]string(nil), r.testCmd...)
	if pattern != "" {
		args = append(args, "-run", pattern)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = r.dir
	output, runErr := cmd.CombinedOutput()

	result := parseTestOutput(string(output))
	if runErr != nil && result.Failed == 0 {
		// The command failed without a parseable failure count; treat the
		// whole run as one failure so the signal is never silently green.
		result.Failed = 1
		if result.Total == 0 {
			result.Total = 1
		}
	}

	r.logger.Debug("test run finished",
		zap.Int("total", result.Total),
		zap.Int("passed", result.Passed),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// CheckTypes executes the type-check command; a non-zero exit means failure
// and the output lines become the error list.
func (r *ExecRunner) CheckTypes(ctx context.Context) (bool, []string, error) {
	cmd := exec.CommandContext(ctx, r.typeCmd[0], r.typeCmd[1:]...)
	cmd.Dir = r.dir
	output, runErr := cmd.CombinedOutput()
	if runErr == nil {
		return true, nil, nil
	}

	var errs []string
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			errs = append(errs, line)
		}
	}
	if len(errs) == 0 {
		errs = []string{runErr.Error()}
	}
	return false, errs, nil
}

// ValidateSchema checks that both files exist and parse as JSON, and that
// any top-level "required" keys in the schema are present in the data. This
// is a thin stand-in for a full schema engine.
func (r *ExecRunner) ValidateSchema(_ context.Context, schemaPath, dataPath string) (bool, []string, error) {
	schema, err := readJSON(schemaPath)
	if err != nil {
		return false, []string{fmt.Sprintf("schema: %v", err)}, nil
	}
	data, err := readJSON(dataPath)
	if err != nil {
		return false, []string{fmt.Sprintf("data: %v", err)}, nil
	}

	var errs []string
	schemaObj, _ := schema.(map[string]any)
	dataObj, _ := data.(map[string]any)
	if schemaObj != nil && dataObj != nil {
		if required, ok := schemaObj["required"].([]any); ok {
			for _, key := range required {
				name, ok := key.(string)
				if !ok {
					continue
				}
				if _, present := dataObj[name]; !present {
					errs = append(errs, fmt.Sprintf("missing required property %q", name))
				}
			}
		}
	}
	return len(errs) == 0, errs, nil
}

func readJSON(path string) (any, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var value any
	if err := json.Unmarshal(content, &value); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return value, nil
}

// parseTestOutput pulls pass/fail counts and coverage out of go-test style
// output. Unknown formats still yield a usable result through the exit code
// fallback in RunTests.
func parseTestOutput(output string) core.TestResult {
	result := core.TestResult{Output: output}
	for _, line := range strings.Split(output, "\n") {
		switch {
		case strings.HasPrefix(line, "--- PASS"):
			result.Passed++
		case strings.HasPrefix(line, "--- FAIL"):
			result.Failed++
		}
	}
	result.Total = result.Passed + result.Failed

	if m := coveragePattern.FindStringSubmatch(output); m != nil {
		if value, err := strconv.ParseFloat(m[1], 64); err == nil {
			result.Coverage = &value
		}
	}
	return result
}
