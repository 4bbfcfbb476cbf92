package mcpserver

import (
	"context"
	"testing"

	"github.com/fasalrakshak/fasalrakshak/internal/tools"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecutor struct {
	calls []string
}

func (r *recordingExecutor) Execute(_ context.Context, _ int64, name, args string) string {
	r.calls = append(r.calls, name+" "+args)
	return "ran " + name
}

func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	ss, err := s.mcp.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func TestNewServerRequiresExecutor(t *testing.T) {
	_, err := NewServer(nil, nil)
	assert.Error(t, err)
}

func TestListTools(t *testing.T) {
	s, err := NewServer(nil, &recordingExecutor{})
	require.NoError(t, err)
	cs := connect(t, s)

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{tools.WeatherToolName, tools.AdviceToolName}, names)
}

func TestCallTools(t *testing.T) {
	exec := &recordingExecutor{}
	s, err := NewServer(nil, exec)
	require.NoError(t, err)
	cs := connect(t, s)
	ctx := context.Background()

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      tools.WeatherToolName,
		Arguments: map[string]any{"city": "Jodhpur"},
	})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	assert.Equal(t, "ran WeatherForecast", res.Content[0].(*mcp.TextContent).Text)

	_, err = cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      tools.AdviceToolName,
		Arguments: map[string]any{"query": "pests in bajra"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		`WeatherForecast {"city":"Jodhpur"}`,
		`AgriculturalKnowledgeBase {"query":"pests in bajra"}`,
	}, exec.calls)
}
