package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"progresshub/internal/app"
	"progresshub/internal/config"
	"progresshub/internal/connector"
	"progresshub/internal/infrastructure"
	"progresshub/internal/operations"
	"progresshub/internal/simulator"
	"progresshub/pkg/contracts"
	"progresshub/pkg/contracts/domain"
	"progresshub/pkg/contracts/events"
)

// syncBuffer is written by the connector goroutine and read by the test
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startServer(t *testing.T) (*app.Application, string) {
	t.Helper()

	cfg := config.Default()
	cfg.RateLimit.Enabled = false
	cfg.Observability.EnableTracing = false
	cfg.Observability.Environment = "test"

	a, err := app.New(context.Background(), cfg, infrastructure.DiscardLogger())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-errc:
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	})

	return a, "ws://" + ln.Addr().String() + "/ws"
}

func execute(t *testing.T, ctx context.Context, out *syncBuffer, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetOut(out)
	cmd.SetErr(&syncBuffer{})
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &syncBuffer{}
	err := execute(t, context.Background(), out, args...)
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, contracts.GetVersionString())

	out, err = run(t, "version", "-o", "json")
	require.NoError(t, err)
	var info contracts.VersionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, events.ProtocolVersion, info.ProtocolVersion)

	_, err = run(t, "version", "-o", "yaml")
	assert.ErrorContains(t, err, "unsupported output format")
}

func TestListCommand(t *testing.T) {
	a, url := startServer(t)
	ctx := context.Background()

	importOp, err := a.Registry.NewOperation(ctx, "import", "nightly import")
	require.NoError(t, err)
	importOp.ReportProgress(ctx, 40)
	_, err = a.Registry.NewOperation(ctx, "export", "weekly export")
	require.NoError(t, err)

	out, err := run(t, "list", "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, importOp.ID())
	assert.Contains(t, out, "nightly import")
	assert.Contains(t, out, "40.0%")

	out, err = run(t, "list", "--server", url, "--status", "running", "-o", "json")
	require.NoError(t, err)
	var ops []domain.OperationSummary
	require.NoError(t, json.Unmarshal([]byte(out), &ops))
	require.Len(t, ops, 1)
	assert.Equal(t, importOp.ID(), ops[0].OperationID)

	_, err = run(t, "list", "--server", url, "--status", "lost")
	assert.ErrorContains(t, err, `invalid status "lost"`)
}

func TestDetailsCommand(t *testing.T) {
	a, url := startServer(t)
	ctx := context.Background()

	op, err := a.Registry.NewOperation(ctx, "import", "scrape")
	require.NoError(t, err)
	op.ReportProgress(ctx, 25, operations.WithStep("download"), operations.WithTotalSteps(3))

	out, err := run(t, "details", op.ID(), "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Status:")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "download (of 3)")

	_, err = run(t, "details", "missing", "--server", url)
	require.Error(t, err)
	assert.ErrorIs(t, err, errServerError)

	_, err = run(t, "details", "--server", url)
	assert.ErrorContains(t, err, "must specify an id")
}

func TestCancelCommand(t *testing.T) {
	a, url := startServer(t)
	ctx := context.Background()

	op, err := a.Registry.NewOperation(ctx, "import", "long")
	require.NoError(t, err)
	op.ReportProgress(ctx, 10)

	out, err := run(t, "cancel", op.ID(), "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Canceled operation "+op.ID())
	assert.Equal(t, domain.OperationStatusCanceled, op.Status())

	_, err = run(t, "cancel", op.ID(), "--server", url)
	assert.ErrorContains(t, err, "was not canceled")
}

func TestConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = run(t, "list", "--server", "ws://"+addr+"/ws", "--timeout", "300ms")
	assert.ErrorContains(t, err, "could not connect")
}

func TestWatchUntilDone(t *testing.T) {
	a, url := startServer(t)
	ctx := context.Background()

	op, err := a.Registry.NewOperation(ctx, "import", "watched")
	require.NoError(t, err)
	other, err := a.Registry.NewOperation(ctx, "import", "ignored")
	require.NoError(t, err)

	out := &syncBuffer{}
	errc := make(chan error, 1)
	go func() {
		errc <- execute(t, ctx, out, "watch", "--server", url, "--until-done", op.ID())
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "tracking 2 operations")
	}, 5*time.Second, 10*time.Millisecond)

	other.ReportProgress(ctx, 70)
	op.ReportProgress(ctx, 50, operations.WithStep("parse"))
	op.ReportCompleted(ctx, nil)

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not return after the operation completed")
	}

	lines := out.String()
	assert.Contains(t, lines, "50.0% parse")
	assert.Contains(t, lines, shortID(op.ID())+" completed")
	assert.NotContains(t, lines, "70.0%")
}

func TestWatchSettlesFinishedOperations(t *testing.T) {
	a, url := startServer(t)
	ctx := context.Background()

	op, err := a.Registry.NewOperation(ctx, "import", "already done")
	require.NoError(t, err)
	op.ReportCompleted(ctx, nil)

	out := &syncBuffer{}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, execute(t, ctx, out, "watch", "--server", url, "--until-done", op.ID()))
	assert.NoError(t, ctx.Err(), "watch should return before the deadline")
}

func TestSimulateCommand(t *testing.T) {
	out, err := run(t, "simulate", "--quiet", "-o", "json",
		"--listen", "127.0.0.1:0",
		"--operations", "3",
		"--steps", "2",
		"--ticks", "2",
		"--tick-interval", "1ms",
		"--rate", "0",
		"--fail", "0",
		"--cancel", "0",
		"--seed", "7",
	)
	require.NoError(t, err)

	var summary simulator.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, simulator.Summary{Started: 3, Completed: 3}, summary)
}

func TestWatcherLines(t *testing.T) {
	var out bytes.Buffer
	w := newWatcher(&out, nil, false, false)
	w.now = func() time.Time { return time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC) }

	step := "parse"
	w.connection(connector.ConnectionStatus{Status: events.ConnectionStateConnecting, Attempt: 2})
	w.started(&events.OperationStarted{Operation: events.StartedOperation{
		OperationID: "0123456789abcdef", OperationType: "import", Name: "nightly",
	}})
	w.progress(&events.ProgressUpdate{Data: domain.ProgressData{
		OperationID: "0123456789abcdef", Status: domain.OperationStatusRunning, Progress: 50, CurrentStep: &step,
	}})
	w.finished(&events.OperationFinished{
		Header:      events.Header{Type: events.MessageTypeOperationFailed},
		OperationID: "0123456789abcdef",
		Details:     map[string]any{domain.DetailErrorMessage: "disk full"},
	})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "15:04:05 connecting (attempt 3)", lines[0])
	assert.Equal(t, `15:04:05 01234567 started import "nightly"`, lines[1])
	assert.Equal(t, "15:04:05 01234567 running   [##########..........]  50.0% parse", lines[2])
	assert.Equal(t, "15:04:05 01234567 failed: disk full", lines[3])
}

func TestFilterOperations(t *testing.T) {
	ops := []domain.OperationSummary{
		{OperationID: "a", OperationType: "import", Status: domain.OperationStatusRunning},
		{OperationID: "b", OperationType: "export", Status: domain.OperationStatusRunning},
		{OperationID: "c", OperationType: "import", Status: domain.OperationStatusCompleted},
	}

	tests := []struct {
		name   string
		status domain.OperationStatus
		opType string
		want   []string
	}{
		{"no filter", "", "", []string{"a", "b", "c"}},
		{"status", domain.OperationStatusRunning, "", []string{"a", "b"}},
		{"type", "", "import", []string{"a", "c"}},
		{"both", domain.OperationStatusCompleted, "import", []string{"c"}},
		{"none", domain.OperationStatusFailed, "", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := []string{}
			for _, op := range filterOperations(ops, tt.status, tt.opType) {
				got = append(got, op.OperationID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "[....]", progressBar(0, 4))
	assert.Equal(t, "[##..]", progressBar(50, 4))
	assert.Equal(t, "[####]", progressBar(100, 4))
	assert.Equal(t, "[####]", progressBar(130, 4))
}
