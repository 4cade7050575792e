package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/claims-fulfillment/internal/app/bootstrap"
	appconfig "github.com/wolfman30/claims-fulfillment/internal/config"
	"github.com/wolfman30/claims-fulfillment/internal/turnlog"
	"github.com/wolfman30/claims-fulfillment/pkg/logging"
)

func memoryApp(t *testing.T) *bootstrap.App {
	t.Helper()
	app, err := bootstrap.New(context.Background(), bootstrap.Options{
		Config: &appconfig.Config{
			Timezone:         "UTC",
			CaseStore:        "memory",
			TurnLogStore:     "memory",
			NotifyProvider:   "none",
			ResponseCacheTTL: time.Minute,
		},
		Logger:   logging.NewWithWriter("error", &strings.Builder{}),
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)

	at := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	require.NoError(t, app.Turns.Append(context.Background(), "s1", "t1", turnlog.Turn{
		ID: "t1", SessionID: "s1", Timestamp: at,
		Customer: []string{"my roof <leaks>"},
		Bot:      []string{"Is it water damage?"},
	}))
	return app
}

func run(t *testing.T, app *bootstrap.App, args ...string) (string, error) {
	t.Helper()
	root := buildRootCommand(func(context.Context) (*bootstrap.App, error) { return app, nil })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTranscriptRender(t *testing.T) {
	out, err := run(t, memoryApp(t), "transcript", "render", "s1")
	require.NoError(t, err)
	assert.Equal(t, "<p>Customer: my roof &lt;leaks&gt;</p><p>Bot: Is it water damage?</p>\n", out)
}

func TestTurnsList(t *testing.T) {
	out, err := run(t, memoryApp(t), "turns", "list", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "TIME")
	assert.Contains(t, out, "2024-03-04T10:00:00Z")
	assert.Contains(t, out, "customer  my roof <leaks>")

	out, err = run(t, memoryApp(t), "turns", "list", "nobody")
	require.NoError(t, err)
	assert.Equal(t, "no turns recorded\n", out)
}

func TestTurnsListJSON(t *testing.T) {
	out, err := run(t, memoryApp(t), "turns", "list", "s1", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"id": "t1"`)
}

func TestTranscriptArchivedRequiresBucket(t *testing.T) {
	_, err := run(t, memoryApp(t), "transcript", "archived", "500CASE", "s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRANSCRIPT_ARCHIVE_BUCKET")
}

func TestArgsValidated(t *testing.T) {
	_, err := run(t, memoryApp(t), "turns", "list")
	assert.Error(t, err)
}
