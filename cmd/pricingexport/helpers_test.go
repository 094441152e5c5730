package main

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/composite-export-go/exportsource"
	"github.com/AntonStoeckl/composite-export-go/exportsource/postgresengine"
	"github.com/AntonStoeckl/composite-export-go/testutil/exportsource/fakesource"
)

// fakePricingSources serves fakesource sources instead of PostgreSQL tables.
type fakePricingSources struct {
	sources   []*fakesource.Source
	ensureErr error

	mu         sync.Mutex
	opened     int
	closed     int
	ensured    int
	lastConfig DatabaseConfig
}

func newFakePricingSources(sources ...*fakesource.Source) *fakePricingSources {
	return &fakePricingSources{sources: sources}
}

func (f *fakePricingSources) open(_ context.Context, cfg DatabaseConfig, _ ...postgresengine.Option) (pricingSources, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.opened++
	f.lastConfig = cfg

	return f, nil
}

func (f *fakePricingSources) All() []exportsource.PagedSource {
	all := make([]exportsource.PagedSource, len(f.sources))
	for i, s := range f.sources {
		all[i] = s
	}

	return all
}

func (f *fakePricingSources) CreateSchemaSQL() []string {
	return []string{"CREATE TABLE IF NOT EXISTS a (id TEXT)", "CREATE TABLE IF NOT EXISTS b (id TEXT)"}
}

func (f *fakePricingSources) EnsureSchema(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ensured++

	return f.ensureErr
}

func (f *fakePricingSources) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed++
}

type testApp struct {
	*app
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newTestApp(sources *fakePricingSources, env map[string]string) testApp {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}

	return testApp{
		app: &app{
			openSources: sources.open,
			stdout:      stdout,
			stderr:      stderr,
			lookupEnv: func(key string) (string, bool) {
				v, ok := env[key]
				return v, ok
			},
		},
		stdout: stdout,
		stderr: stderr,
	}
}

func (a testApp) execute(args ...string) error {
	root := a.rootCommand()
	root.SetArgs(append(args, "--"+flagEnvFile+"=", "--"+flagDSN, "postgres://fake"))

	return root.ExecuteContext(context.Background())
}

func readLines(t *testing.T, path string) []exportLine {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return parseLines(t, string(data))
}

func parseLines(t *testing.T, data string) []exportLine {
	t.Helper()

	var lines []exportLine
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		var line exportLine
		require.NoError(t, jsoniter.ConfigFastest.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}

	require.NoError(t, scanner.Err())

	return lines
}

func objectIDs(lines []exportLine) []string {
	ids := make([]string, len(lines))
	for i, line := range lines {
		ids[i] = line.ObjectID
	}

	return ids
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}
