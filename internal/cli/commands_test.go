package cli

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate(t *testing.T) {
	server := startServer(t)

	stdout, _, err := execute(t, "create", "--server", server,
		"--amount", "20", "--currency", "usd", "--token", "usdt", "--note", "invoice 42")
	require.NoError(t, err)
	assert.Regexp(t, `^ord_0x[0-9a-f]{8}\s+created\s+20 USD\s+USDT\s+"invoice 42"`, stdout)
}

func TestCreate_InvalidAmount(t *testing.T) {
	stdout, _, err := execute(t, "create", "--server", "http://127.0.0.1:1",
		"--amount", "lots", "--currency", "USD", "--token", "USDT")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout, "amount must be a decimal number")
}

func TestCreate_ServerRejects(t *testing.T) {
	server := startServer(t)

	stdout, _, err := execute(t, "create", "--server", server, "--format", "json",
		"--amount", "-3", "--currency", "USD", "--token", "USDT")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, `"message":"invalid_amount"`)
}

func TestCreate_Unreachable(t *testing.T) {
	_, _, err := execute(t, "create", "--server", "http://127.0.0.1:1",
		"--amount", "3", "--currency", "USD", "--token", "USDT")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestStatus(t *testing.T) {
	server := startServer(t)
	id := createOrder(t, server)

	stdout, _, err := execute(t, "status", id, "--server", server, "--format", "json")
	require.NoError(t, err)

	var o struct {
		ID     string `json:"order_id"`
		Status string `json:"status"`
	}
	decodeData(t, stdout, &o)
	assert.Equal(t, id, o.ID)
	assert.Equal(t, "created", o.Status)
}

func TestStatus_NotFound(t *testing.T) {
	server := startServer(t)

	stdout, _, err := execute(t, "status", "ord_0xdeadbeef", "--server", server)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "order_not_found")
}

func TestPushThenWatch(t *testing.T) {
	server := startServer(t)
	id := createOrder(t, server)

	stdout, _, err := execute(t, "push", id, "settled", "--server", server, "--secret", testSecret)
	require.NoError(t, err)
	assert.Contains(t, stdout, id+" settled (applied)")

	stdout, stderr, err := execute(t, "watch", id, "--server", server)
	require.NoError(t, err)
	assert.Contains(t, stdout, id+" settled via polling (attempt 1)")
	assert.Contains(t, stderr, "+0s finalized source=polling status=settled")
}

func TestPush_ConflictNotApplied(t *testing.T) {
	server := startServer(t)
	id := createOrder(t, server)

	_, _, err := execute(t, "push", id, "failed", "--server", server, "--secret", testSecret)
	require.NoError(t, err)

	stdout, _, err := execute(t, "push", id, "settled", "--server", server, "--secret", testSecret)
	require.NoError(t, err)
	assert.Contains(t, stdout, id+" failed (not applied")
}

func TestPush_Rejections(t *testing.T) {
	server := startServer(t)
	id := createOrder(t, server)

	_, _, err := execute(t, "push", id, "done", "--server", server, "--secret", testSecret)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = execute(t, "push", id, "settled", "--server", server)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	stdout, _, err := execute(t, "push", id, "settled", "--server", server, "--secret", "wrong")
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "invalid_signature")
}

func TestWatch_UnknownOrderAborts(t *testing.T) {
	server := startServer(t)

	stdout, _, err := execute(t, "watch", "ord_0xdeadbeef", "--server", server, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, `"code":"not_finalized"`)
	assert.Contains(t, stdout, `"state":"aborted"`)
}

func TestWatch_TimesOut(t *testing.T) {
	server := startServer(t)
	id := createOrder(t, server)

	_, stderr, err := execute(t, "watch", id, "--server", server,
		"--poll-interval", "20ms", "--deadline", "150ms")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "timed_out")
	assert.Contains(t, stderr, "poll_succeeded status=created")
	assert.Contains(t, stderr, "+150ms timed_out")
}

func TestSign(t *testing.T) {
	stdout, _, err := execute(t, "sign", "--secret", "secret", "--timestamp", "1", "--body", "{}")
	require.NoError(t, err)
	assert.Equal(t, "t=1,v1=ESJ2exkxEM/sMitvGZtZntv2CO0Ify0nr7C5fZlSOQg=\n", stdout)
}

func TestSign_JSONAndStdin(t *testing.T) {
	orig := nowUnix
	nowUnix = func() int64 { return 1 }
	t.Cleanup(func() { nowUnix = orig })

	cmd := NewRootCommand()
	out := &strings.Builder{}
	cmd.SetOut(out)
	cmd.SetErr(&strings.Builder{})
	cmd.SetIn(strings.NewReader("{}"))
	cmd.SetArgs([]string{"sign", "--secret", "secret", "--body-file", "-", "--format", "json"})
	require.NoError(t, cmd.Execute())

	var v signView
	decodeData(t, out.String(), &v)
	assert.Equal(t, int64(1), v.Timestamp)
	assert.Equal(t, "ESJ2exkxEM/sMitvGZtZntv2CO0Ify0nr7C5fZlSOQg=", v.Signature)
}

func TestSign_MissingSecret(t *testing.T) {
	_, _, err := execute(t, "sign", "--body", "{}")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestServe_MissingSecret(t *testing.T) {
	_, _, err := execute(t, "serve", "--db", filepath.Join(t.TempDir(), "s.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "webhook.secret is required")
}

func TestServe_StartsAndStops(t *testing.T) {
	t.Setenv("SETTLEWATCH_WEBHOOK_SECRET", "")
	ready := make(chan string, 1)
	opts := &ServeOptions{
		RootOptions: &RootOptions{Format: "text"},
		Ready:       func(addr string) { ready <- addr },
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := newServeCommand(opts)
	cmd.SetContext(ctx)
	cmd.SetOut(&strings.Builder{})
	cmd.SetErr(&strings.Builder{})
	cmd.SetArgs([]string{"--listen", "127.0.0.1:0", "--db", filepath.Join(t.TempDir(), "s.db"), "--secret", testSecret})

	done := make(chan error, 1)
	go func() { done <- cmd.Execute() }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/health", addr))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}
