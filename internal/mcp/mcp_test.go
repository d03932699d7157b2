package mcp

import (
	"context"
	"encoding/json"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kairo/internal/engine"
	"github.com/ashita-ai/kairo/internal/model"
	"github.com/ashita-ai/kairo/internal/sanitize"
	"github.com/ashita-ai/kairo/internal/testutil"
)

type testServer struct {
	*Server
	engine *engine.Engine
	fatals []error
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	return newTestServerWithEngine(t, nil, opts...)
}

// newTestServerWithEngine lets a test adjust the engine config, e.g. to
// swap the checkpoint store.
func newTestServerWithEngine(t *testing.T, configure func(*engine.Config), opts ...Option) *testServer {
	t.Helper()
	clock := &testutil.LogicalClock{}
	cfg := engine.DefaultConfig()
	cfg.Clock = clock.Now
	cfg.Logger = testutil.TestLogger()
	cfg.ExportDir = t.TempDir()
	if configure != nil {
		configure(&cfg)
	}
	eng, err := engine.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	reg, err := sanitize.Default()
	require.NoError(t, err)
	san := sanitize.New(reg,
		sanitize.WithAllowList([]string{"energy", "coherence", "drift", "hash"}),
		sanitize.WithLogger(testutil.TestLogger()),
	)

	ts := &testServer{engine: eng}
	opts = append([]Option{
		WithClock(clock.Now),
		WithFatalHandler(func(err error) { ts.fatals = append(ts.fatals, err) }),
	}, opts...)
	ts.Server = New(eng, san, testutil.TestLogger(), "test", opts...)
	return ts
}

// call invokes a registered tool through its full lifecycle wrapper.
func (ts *testServer) call(t *testing.T, name string, args map[string]any) *mcplib.CallToolResult {
	t.Helper()
	handler, ok := ts.handlers[name]
	require.True(t, ok, "tool %s not registered", name)
	req := mcplib.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func resultText(t *testing.T, res *mcplib.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcplib.TextContent)
	require.True(t, ok, "expected TextContent")
	return tc.Text
}

func decode[T any](t *testing.T, res *mcplib.CallToolResult) T {
	t.Helper()
	require.False(t, res.IsError, "unexpected error result: %s", resultText(t, res))
	var v T
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &v))
	return v
}

func decodeError(t *testing.T, res *mcplib.CallToolResult) model.ErrorDetail {
	t.Helper()
	require.True(t, res.IsError, "expected error result, got: %s", resultText(t, res))
	var body map[string]model.ErrorDetail
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &body))
	return body["error"]
}
