package cli

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/roach88/settlewatch/internal/httpapi"
	"github.com/roach88/settlewatch/internal/push"
	"github.com/roach88/settlewatch/internal/reconcile"
	"github.com/roach88/settlewatch/internal/simulator"
	"github.com/roach88/settlewatch/internal/store"
	"github.com/roach88/settlewatch/internal/webhook"
)

const testSecret = "whsec_cli_test"

// startServer runs the full API stack on a real clock behind httptest.
func startServer(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.Open(filepath.Join(t.TempDir(), "cli.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := push.NewBus()
	sim := simulator.New(st)
	eng := reconcile.New(sim, bus)
	t.Cleanup(eng.Close)

	receiver := webhook.NewReceiver(webhook.NewVerifier([]byte(testSecret)), webhook.MustSchema(), st, bus)
	api := httpapi.New(httpapi.Deps{Store: st, Source: sim, Receiver: receiver, Engine: eng})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("SETTLEWATCH_WEBHOOK_SECRET", "")

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// decodeData unmarshals the data member of a JSON envelope into out.
func decodeData(t *testing.T, stdout string, out any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp), stdout)
	require.Equal(t, "ok", resp.Status, stdout)
	require.NoError(t, json.Unmarshal(resp.Data, out))
}

// createOrder creates an order through the CLI and returns its id.
func createOrder(t *testing.T, server string) string {
	t.Helper()
	stdout, _, err := execute(t, "create", "--server", server, "--format", "json",
		"--amount", "1500.50", "--currency", "kes", "--token", "usdc")
	require.NoError(t, err)

	var o struct {
		ID string `json:"order_id"`
	}
	decodeData(t, stdout, &o)
	require.NotEmpty(t, o.ID)
	return o.ID
}
