package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/knowhow-portal/internal/adapters"
	"github.com/raphaelgruber/knowhow-portal/internal/client"
	"github.com/raphaelgruber/knowhow-portal/internal/task"
)

var (
	crawlMaxDepth   int
	crawlMaxPages   int
	crawlSameDomain bool
	crawlLabels     []string

	uploadLabels       []string
	uploadExtractGraph bool

	pasteSession string
	pasteLabels  []string

	generateTemplate string
	generateSession  string
	generateLabels   []string

	graphLabels  []string
	graphRebuild bool
)

var crawlCmd = &cobra.Command{
	Use:   "crawl <url>...",
	Short: "Crawl websites into the knowledge base",
	Long: `Start a crawl for every URL and follow it to completion.

Crawls can be paused and resumed from the live view.

Examples:
  knowhow-tasks crawl https://go.dev/doc
  knowhow-tasks crawl https://example.com --max-pages 50 --labels docs`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payloads := make([]any, 0, len(args))
		for _, url := range args {
			input := client.CrawlInput{URL: url, Labels: crawlLabels}
			if cmd.Flags().Changed("max-depth") {
				input.MaxDepth = &crawlMaxDepth
			}
			if cmd.Flags().Changed("max-pages") {
				input.MaxPages = &crawlMaxPages
			}
			if cmd.Flags().Changed("same-domain") {
				input.SameDomain = &crawlSameDomain
			}
			payloads = append(payloads, input)
		}
		return submitAndWatch(cmd.Context(), task.KindCrawlJob, payloads)
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload documents for processing",
	Long: `Upload files in one request and follow their processing.

Examples:
  knowhow-tasks upload notes.md design.pdf
  knowhow-tasks upload ./specs/*.md --labels specs --extract-graph`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := adapters.UploadRequest{Paths: args, Labels: uploadLabels}
		if cmd.Flags().Changed("extract-graph") {
			req.ExtractGraph = &uploadExtractGraph
		}
		return submitAndWatch(cmd.Context(), task.KindDocumentUpload, []any{req})
	},
}

var pasteCmd = &cobra.Command{
	Use:   "paste [file]...",
	Short: "Add pasted Markdown to a chat session",
	Long: `Add Markdown documents to a chat session and wait until they are indexed.
Reads stdin when no file is given. Title and labels come from frontmatter.

Examples:
  pbpaste | knowhow-tasks paste --session chat-42
  knowhow-tasks paste meeting.md --labels standup`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var texts []string
		if len(args) == 0 {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			texts = append(texts, string(data))
		}
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			texts = append(texts, string(data))
		}

		payloads := make([]any, 0, len(texts))
		for _, text := range texts {
			payloads = append(payloads, adapters.SessionRequest{
				SessionID: pasteSession,
				Text:      text,
				Labels:    pasteLabels,
			})
		}
		return submitAndWatch(cmd.Context(), task.KindSessionDocument, payloads)
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Generate content from the knowledge base",
	Long: `Generate content and print it once it is ready.

Examples:
  knowhow-tasks generate "Summarize our retry policy"
  knowhow-tasks generate "Weekly update" --template weekly --labels team`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := client.GenerationInput{
			Prompt: strings.Join(args, " "),
			Labels: generateLabels,
		}
		if generateTemplate != "" {
			input.TemplateName = &generateTemplate
		}
		if generateSession != "" {
			input.SessionID = &generateSession
		}
		return submitAndWatch(cmd.Context(), task.KindContentGeneration, []any{input})
	},
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Build the knowledge graph",
	Long: `Build (or rebuild) the knowledge graph and print a summary.

Examples:
  knowhow-tasks graph
  knowhow-tasks graph --labels work --rebuild`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		input := client.GraphBuildInput{Labels: graphLabels, Rebuild: graphRebuild}
		return submitAndWatch(cmd.Context(), task.KindKnowledgeGraphBuild, []any{input})
	},
}

func init() {
	crawlCmd.Flags().IntVar(&crawlMaxDepth, "max-depth", 0, "maximum link depth")
	crawlCmd.Flags().IntVar(&crawlMaxPages, "max-pages", 0, "maximum number of pages")
	crawlCmd.Flags().BoolVar(&crawlSameDomain, "same-domain", true, "only follow links on the starting domain")
	crawlCmd.Flags().StringSliceVarP(&crawlLabels, "labels", "l", nil, "labels for crawled documents")

	uploadCmd.Flags().StringSliceVarP(&uploadLabels, "labels", "l", nil, "labels for uploaded documents")
	uploadCmd.Flags().BoolVar(&uploadExtractGraph, "extract-graph", false, "extract entity relations while processing")

	pasteCmd.Flags().StringVarP(&pasteSession, "session", "s", "", "chat session id (default $KNOWHOW_SESSION_ID)")
	pasteCmd.Flags().StringSliceVarP(&pasteLabels, "labels", "l", nil, "extra labels")

	generateCmd.Flags().StringVarP(&generateTemplate, "template", "t", "", "template name")
	generateCmd.Flags().StringVarP(&generateSession, "session", "s", "", "ground generation in a chat session")
	generateCmd.Flags().StringSliceVarP(&generateLabels, "labels", "l", nil, "restrict sources to labels")

	graphCmd.Flags().StringSliceVarP(&graphLabels, "labels", "l", nil, "restrict the graph to labels")
	graphCmd.Flags().BoolVar(&graphRebuild, "rebuild", false, "discard the existing graph first")
}

// submitAndWatch submits one task per payload and follows them until every
// task is terminal. Terminal tasks are dismissed before returning.
func submitAndWatch(ctx context.Context, kind task.Kind, payloads []any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ids := make([]string, 0, len(payloads))
	for _, payload := range payloads {
		t, err := engine.Submit(ctx, kind, payload)
		if err != nil {
			cancelTasks(engine, ids)
			return err
		}
		ids = append(ids, t.ID)
	}

	var err error
	if isTerminal(os.Stdout) {
		err = runProgress(engine, ids)
	} else {
		sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		err = watchPlain(sigCtx, os.Stdout, engine, ids)
		stop()
	}

	failed := 0
	for _, id := range ids {
		t, getErr := engine.Get(id)
		if getErr != nil {
			continue
		}
		if t.State == task.StateFailed {
			failed++
		}
		if t.State.IsTerminal() {
			_ = engine.Dismiss(id)
		}
	}
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, len(ids))
	}
	return nil
}
