package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/raphaelgruber/knowhow-portal/internal/adapters"
	"github.com/raphaelgruber/knowhow-portal/internal/client"
	"github.com/raphaelgruber/knowhow-portal/internal/metrics"
	"github.com/raphaelgruber/knowhow-portal/internal/task"
)

// resultLog collects what terminal side effects produced so it can be
// printed after the live view is gone.
type resultLog struct {
	mu      sync.Mutex
	entries []func(w io.Writer)
}

func (r *resultLog) add(fn func(w io.Writer)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, fn)
}

// hooks routes every adapter side effect into the log.
func (r *resultLog) hooks() adapters.Hooks {
	return adapters.Hooks{
		Documents: func(t task.Task, docs []client.Document) {
			r.add(func(w io.Writer) { printDocuments(w, t, docs) })
		},
		Attached: func(t task.Task, doc client.SessionDocument) {
			r.add(func(w io.Writer) { printSessionDocument(w, doc) })
		},
		Generated: func(t task.Task, content string) {
			r.add(func(w io.Writer) { printGenerated(w, t, content) })
		},
		Graph: func(t task.Task, summary *client.GraphSummary) {
			r.add(func(w io.Writer) { printGraphSummary(w, summary) })
		},
	}
}

// print writes and clears the collected results.
func (r *resultLog) print(w io.Writer) {
	r.mu.Lock()
	entries := r.entries
	r.entries = nil
	r.mu.Unlock()

	for _, fn := range entries {
		fmt.Fprintln(w)
		fn(w)
	}
}

func printDocuments(w io.Writer, t task.Task, docs []client.Document) {
	if len(docs) == 0 {
		fmt.Fprintf(w, "%s %s finished without new documents\n", t.Kind, t.ID)
		return
	}

	fmt.Fprintf(w, "Documents (%d)\n", len(docs))
	fmt.Fprintf(w, "%-12s %-40s %-8s %s\n", "ID", "TITLE", "CHUNKS", "LABELS")
	fmt.Fprintln(w, "------------------------------------------------------------------------")
	for _, d := range docs {
		fmt.Fprintf(w, "%-12s %-40s %-8d %s\n", d.ID, truncate(d.Title, 40), d.ChunkCount, strings.Join(d.Labels, ","))
	}
}

func printSessionDocument(w io.Writer, doc client.SessionDocument) {
	fmt.Fprintf(w, "Added to session %s\n", doc.SessionID)
	fmt.Fprintf(w, "  Document: %s (%s)\n", doc.Title, doc.ID)
	fmt.Fprintf(w, "  Chunks: %d\n", doc.ChunkCount)
}

func printGenerated(w io.Writer, t task.Task, content string) {
	fmt.Fprintf(w, "Generated content (%s)\n", t.ID)
	fmt.Fprintf(w, "═══════════════════════════════════════\n")
	fmt.Fprintln(w, strings.TrimRight(content, "\n"))
}

func printGraphSummary(w io.Writer, s *client.GraphSummary) {
	fmt.Fprintf(w, "Knowledge graph %s\n", s.GraphID)
	fmt.Fprintf(w, "  Nodes: %d\n", s.NodeCount)
	fmt.Fprintf(w, "  Edges: %d\n", s.EdgeCount)
	if len(s.TopEntities) == 0 {
		return
	}
	fmt.Fprintf(w, "\n  Most connected:\n")
	for _, n := range s.TopEntities {
		fmt.Fprintf(w, "    %-30s %-12s %d\n", truncate(n.Name, 30), n.Type, n.Degree)
	}
}

// printStats displays in-memory poll statistics.
func printStats(w io.Writer, snap metrics.Snapshot) {
	fmt.Fprintf(w, "\nTask Statistics\n")
	fmt.Fprintf(w, "═══════════════════════════════════════\n")
	fmt.Fprintf(w, "Uptime: %.1f seconds\n", snap.UptimeSeconds)

	for _, k := range snap.Kinds {
		fmt.Fprintf(w, "\n%s:\n", k.Kind)
		if p := k.Polls; p != nil {
			fmt.Fprintf(w, "  Polls: %d, Errors: %d, Total: %dms\n", p.Count, p.Errors, p.TotalTimeMs)
			fmt.Fprintf(w, "  Time: avg %.1fms, min %dms, max %dms\n", p.AvgTimeMs, p.MinTimeMs, p.MaxTimeMs)
		}
		for _, tr := range k.Transitions {
			fmt.Fprintf(w, "  %s -> %s: %d\n", tr.From, tr.To, tr.Count)
		}
	}
}

// printPolicies displays the effective poll policy of every kind.
func printPolicies(w io.Writer, policies map[task.Kind]task.Policy) {
	fmt.Fprintf(w, "%-22s %-8s %-8s %-8s %-8s %-8s %-8s %s\n",
		"KIND", "BASE", "MAX", "ATTEMPTS", "STALE", "RUNTIME", "REQUEST", "PAUSABLE")
	fmt.Fprintln(w, "------------------------------------------------------------------------------------")
	for _, kind := range task.Kinds {
		p, ok := policies[kind]
		if !ok {
			continue
		}
		runtime := "-"
		if p.MaxRuntime > 0 {
			runtime = p.MaxRuntime.String()
		}
		fmt.Fprintf(w, "%-22s %-8s %-8s %-8d %-8s %-8s %-8s %t\n",
			kind, p.BaseInterval, p.MaxInterval, p.MaxAttempts, p.StaleAfter, runtime, p.RequestTimeout, p.Pausable)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
