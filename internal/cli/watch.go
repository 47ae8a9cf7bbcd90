package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"golang.org/x/term"

	"github.com/raphaelgruber/knowhow-portal/internal/task"
)

// errInterrupted is returned when the user interrupted a watch.
var errInterrupted = errors.New("interrupted")

// isTerminal reports whether f is an interactive terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// forTasks matches events of any task in ids.
func forTasks(ids []string) task.Predicate {
	return func(e task.Event) bool {
		return slices.Contains(ids, e.TaskID)
	}
}

// watchPlain prints one line per event until every task in ids is terminal.
// When ctx is cancelled the live tasks are cancelled and errInterrupted is
// returned once they have settled.
func watchPlain(ctx context.Context, w io.Writer, e *task.Engine, ids []string) error {
	var (
		mu        sync.Mutex
		remaining = make(map[string]bool, len(ids))
		done      = make(chan struct{})
		closeOnce sync.Once
	)
	for _, id := range ids {
		remaining[id] = true
	}
	settle := func(id string) {
		mu.Lock()
		defer mu.Unlock()
		if !remaining[id] {
			return
		}
		delete(remaining, id)
		if len(remaining) == 0 {
			closeOnce.Do(func() { close(done) })
		}
	}

	unsubscribe := e.Subscribe(forTasks(ids), func(ev task.Event) {
		fmt.Fprintln(w, formatEvent(ev))
		if ev.Type.IsTerminal() {
			settle(ev.TaskID)
		}
	}, task.WithReplay())
	defer unsubscribe()

	// Terminal events may have been evicted from the history before the
	// subscription started; the registry still knows the final state.
	for _, id := range ids {
		if t, err := e.Get(id); err != nil || t.State.IsTerminal() {
			settle(id)
		}
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	cancelTasks(e, ids)
	<-done
	return errInterrupted
}

// formatEvent renders an event as a single log line.
func formatEvent(ev task.Event) string {
	line := fmt.Sprintf("%s  %-21s  %-12s  %s", ev.At.Format("15:04:05"), ev.Kind, ev.TaskID, ev.Type)
	switch ev.Type {
	case task.EventProgressed, task.EventPaused, task.EventResumed:
		line += fmt.Sprintf(" %d%%", ev.Progress)
	case task.EventFailed:
		if ev.Error != nil {
			line += ": " + ev.Error.Error()
		}
	}
	return line
}

// cancelTasks cancels every live task in ids.
func cancelTasks(e *task.Engine, ids []string) {
	for _, id := range ids {
		if err := e.Cancel(id); err != nil && logger != nil {
			logger.Debug("cancel skipped", "task_id", id, "error", err)
		}
	}
}
