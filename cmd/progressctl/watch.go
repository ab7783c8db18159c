package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"progresshub/internal/connector"
	"progresshub/pkg/contracts/domain"
	"progresshub/pkg/contracts/events"
)

var watchExample = `
# Stream every update until interrupted
progressctl watch

# Follow two operations and exit once both have finished
progressctl watch --until-done 6f1c2a4e-... 0b4d9e21-...`

func newWatchCmd(opts *options) *cobra.Command {
	var untilDone bool

	cmd := &cobra.Command{
		Use:     "watch [id...]",
		Short:   "Stream progress updates",
		Example: watchExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			if untilDone && len(args) == 0 {
				return errors.New("--until-done needs at least one operation id")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c := connector.New(connector.ConfigFrom(opts.cfg.Client), opts.logger)
			w := newWatcher(cmd.OutOrStdout(), args, opts.output == "json", untilDone)
			w.subscribe(c)

			return runWatch(ctx, c, w)
		},
	}

	cmd.Flags().BoolVar(&untilDone, "until-done", false, "Exit once every named operation has finished")

	return cmd
}

// runWatch keeps c running until ctx ends, the watcher is satisfied or the
// connector gives up reconnecting
func runWatch(ctx context.Context, c *connector.Connector, w *watcher) error {
	if err := c.Start(); err != nil {
		return err
	}
	defer func() { _ = c.Stop() }()

	select {
	case <-ctx.Done():
		return nil
	case <-w.done:
		return nil
	case <-c.Done():
		return errors.New("gave up reconnecting to the progress server")
	}
}

// watcher prints one line per event. Callbacks arrive on the connector's
// receive goroutine; mu guards the writer and the pending set.
type watcher struct {
	mu      sync.Mutex
	out     io.Writer
	json    bool
	filter  map[string]bool
	pending map[string]bool

	done     chan struct{}
	doneOnce sync.Once
	now      func() time.Time
}

func newWatcher(out io.Writer, ids []string, asJSON, untilDone bool) *watcher {
	w := &watcher{
		out:  out,
		json: asJSON,
		done: make(chan struct{}),
		now:  time.Now,
	}
	if len(ids) > 0 {
		w.filter = make(map[string]bool, len(ids))
		for _, id := range ids {
			w.filter[id] = true
		}
	}
	if untilDone {
		w.pending = make(map[string]bool, len(ids))
		for _, id := range ids {
			w.pending[id] = true
		}
	}
	return w
}

func (w *watcher) subscribe(c *connector.Connector) {
	c.OnConnectionStatus(w.connection)
	c.OnOperationsList(w.list)
	c.OnOperationStarted(w.started)
	c.OnProgressUpdate(w.progress)
	c.OnOperationCompleted(w.finished)
	c.OnOperationFailed(w.finished)
	c.OnOperationCanceled(w.finished)
}

func (w *watcher) wants(id string) bool {
	return w.filter == nil || w.filter[id]
}

func (w *watcher) connection(s connector.ConnectionStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.json {
		return
	}
	switch {
	case s.Error != "":
		w.printf("%s (%s)", s.Status, s.Error)
	case s.Status == events.ConnectionStateConnecting && s.Attempt > 0:
		w.printf("%s (attempt %d)", s.Status, s.Attempt+1)
	default:
		w.printf("%s", s.Status)
	}
}

// list settles ids that already finished before the watch connected
func (w *watcher) list(m *events.OperationsList) {
	w.mu.Lock()
	defer w.mu.Unlock()

	active := 0
	for _, op := range m.Operations {
		if op.Status.IsActive() {
			active++
		} else {
			w.settle(op.OperationID)
		}
	}
	if !w.json {
		w.printf("tracking %d operations (%d active)", len(m.Operations), active)
	}
}

func (w *watcher) started(m *events.OperationStarted) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.wants(m.Operation.OperationID) {
		return
	}
	if w.json {
		w.writeJSON(m)
		return
	}
	w.printf("%s started %s %q", shortID(m.Operation.OperationID), m.Operation.OperationType, m.Operation.Name)
}

func (w *watcher) progress(m *events.ProgressUpdate) {
	w.mu.Lock()
	defer w.mu.Unlock()
	d := m.Data
	if !w.wants(d.OperationID) {
		return
	}
	if w.json {
		w.writeJSON(m)
		return
	}

	line := fmt.Sprintf("%s %-9s %s %6s", shortID(d.OperationID), d.Status, progressBar(d.Progress, 20), formatProgress(d.Progress))
	if d.CurrentStep != nil {
		line += " " + *d.CurrentStep
	}
	w.printf("%s", line)
}

func (w *watcher) finished(m *events.OperationFinished) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.wants(m.OperationID) {
		return
	}
	if w.json {
		w.writeJSON(m)
	} else {
		line := fmt.Sprintf("%s %s", shortID(m.OperationID), finishedVerb(m.MessageType()))
		if reason, ok := m.Details[domain.DetailErrorMessage]; ok {
			line += fmt.Sprintf(": %v", reason)
		}
		w.printf("%s", line)
	}
	w.settle(m.OperationID)
}

// settle marks id finished and closes done once nothing is pending. Callers hold mu.
func (w *watcher) settle(id string) {
	if w.pending == nil || !w.pending[id] {
		return
	}
	delete(w.pending, id)
	if len(w.pending) == 0 {
		w.doneOnce.Do(func() { close(w.done) })
	}
}

func (w *watcher) printf(format string, args ...any) {
	fmt.Fprintf(w.out, "%s "+format+"\n", append([]any{w.now().Format(time.TimeOnly)}, args...)...)
}

func (w *watcher) writeJSON(m events.Message) {
	raw, err := json.Marshal(m)
	if err != nil {
		return
	}
	fmt.Fprintln(w.out, string(raw))
}

func finishedVerb(t events.MessageType) string {
	switch t {
	case events.MessageTypeOperationCompleted:
		return "completed"
	case events.MessageTypeOperationFailed:
		return "failed"
	case events.MessageTypeOperationCanceled:
		return "canceled"
	default:
		return string(t)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
