package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// CRAWL OPERATIONS
// =============================================================================

// CrawlInput configures a site crawl.
type CrawlInput struct {
	URL        string   `json:"url"`
	MaxDepth   *int     `json:"maxDepth,omitempty"`
	MaxPages   *int     `json:"maxPages,omitempty"`
	SameDomain *bool    `json:"sameDomain,omitempty"`
	Labels     []string `json:"labels,omitempty"`
}

// CrawlJob is the server-side state of a crawl.
type CrawlJob struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Status       string    `json:"status"`
	PagesCrawled int       `json:"pagesCrawled"`
	PagesTotal   int       `json:"pagesTotal"`
	DocumentIDs  []string  `json:"documentIds"`
	Error        *string   `json:"error,omitempty"`
	StartedAt    time.Time `json:"startedAt"`
}

const crawlJobFields = `id url status pagesCrawled pagesTotal documentIds error startedAt`

// StartCrawl starts crawling a site and returns immediately.
func (c *Client) StartCrawl(ctx context.Context, input CrawlInput) (*CrawlJob, error) {
	const query = `
		mutation StartCrawl($input: CrawlInput!) {
			startCrawl(input: $input) { ` + crawlJobFields + ` }
		}
	`

	var result struct {
		StartCrawl CrawlJob `json:"startCrawl"`
	}
	if err := c.Execute(ctx, query, map[string]any{"input": input}, &result); err != nil {
		return nil, err
	}
	return &result.StartCrawl, nil
}

// CrawlStatus returns the raw crawl job object.
func (c *Client) CrawlStatus(ctx context.Context, id string) (json.RawMessage, error) {
	const query = `
		query CrawlStatus($id: ID!) {
			crawlJob(id: $id) { ` + crawlJobFields + ` }
		}
	`
	return c.fetchField(ctx, query, "crawlJob", map[string]any{"id": id})
}

// PauseCrawl asks the server to suspend a crawl.
func (c *Client) PauseCrawl(ctx context.Context, id string) (bool, error) {
	const query = `mutation PauseCrawl($id: ID!) { pauseCrawl(id: $id) }`
	return c.mutateBool(ctx, query, "pauseCrawl", id)
}

// ResumeCrawl asks the server to continue a suspended crawl.
func (c *Client) ResumeCrawl(ctx context.Context, id string) (bool, error) {
	const query = `mutation ResumeCrawl($id: ID!) { resumeCrawl(id: $id) }`
	return c.mutateBool(ctx, query, "resumeCrawl", id)
}

// CancelCrawl asks the server to abort a crawl.
func (c *Client) CancelCrawl(ctx context.Context, id string) (bool, error) {
	const query = `mutation CancelCrawl($id: ID!) { cancelCrawl(id: $id) }`
	return c.mutateBool(ctx, query, "cancelCrawl", id)
}

// =============================================================================
// DOCUMENT OPERATIONS
// =============================================================================

// IngestOptions configures ingestion of uploaded documents.
type IngestOptions struct {
	Labels       []string
	ExtractGraph *bool
}

func (o *IngestOptions) input() map[string]any {
	input := map[string]any{}
	if o == nil {
		return input
	}
	if len(o.Labels) > 0 {
		input["labels"] = o.Labels
	}
	if o.ExtractGraph != nil {
		input["extractGraph"] = *o.ExtractGraph
	}
	return input
}

// IngestResult contains the result of processing uploaded documents.
type IngestResult struct {
	FilesProcessed   int      `json:"filesProcessed"`
	EntitiesCreated  int      `json:"entitiesCreated"`
	ChunksCreated    int      `json:"chunksCreated"`
	RelationsCreated int      `json:"relationsCreated"`
	Errors           []string `json:"errors"`
}

// Job represents a background processing job.
type Job struct {
	ID          string        `json:"id"`
	Type        string        `json:"type"`
	Status      string        `json:"status"`
	Progress    int           `json:"progress"`
	Total       int           `json:"total"`
	Result      *IngestResult `json:"result,omitempty"`
	Error       *string       `json:"error,omitempty"`
	StartedAt   time.Time     `json:"startedAt"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}

const jobFields = `id type status progress total startedAt completedAt error
				result { filesProcessed entitiesCreated chunksCreated relationsCreated errors }`

// UploadDocuments uploads files for processing and returns the job tracking it.
func (c *Client) UploadDocuments(ctx context.Context, files []Upload, opts *IngestOptions) (*Job, error) {
	const query = `
		mutation UploadDocuments($files: [Upload!]!, $input: IngestInput) {
			uploadDocuments(files: $files, input: $input) { ` + jobFields + ` }
		}
	`
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to upload")
	}

	placeholders := make([]any, len(files))
	byPath := make(map[string]Upload, len(files))
	for i, f := range files {
		byPath[fmt.Sprintf("variables.files.%d", i)] = f
	}
	vars := map[string]any{"files": placeholders, "input": opts.input()}

	var result struct {
		UploadDocuments Job `json:"uploadDocuments"`
	}
	if err := c.ExecuteUpload(ctx, query, vars, byPath, &result); err != nil {
		return nil, err
	}
	return &result.UploadDocuments, nil
}

// JobStatus returns the raw job object.
func (c *Client) JobStatus(ctx context.Context, id string) (json.RawMessage, error) {
	const query = `
		query GetJob($id: ID!) {
			job(id: $id) { ` + jobFields + ` }
		}
	`
	return c.fetchField(ctx, query, "job", map[string]any{"id": id})
}

// CancelJob asks the server to stop a processing job.
func (c *Client) CancelJob(ctx context.Context, id string) (bool, error) {
	const query = `mutation CancelJob($id: ID!) { cancelJob(id: $id) }`
	return c.mutateBool(ctx, query, "cancelJob", id)
}

// Document is an indexed document in the portal.
type Document struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Source     string    `json:"source"`
	Labels     []string  `json:"labels"`
	ChunkCount int       `json:"chunkCount"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ListDocuments returns documents, restricted to ids when given.
func (c *Client) ListDocuments(ctx context.Context, ids []string) ([]Document, error) {
	const query = `
		query ListDocuments($ids: [ID!]) {
			documents(ids: $ids) { id title source labels chunkCount updatedAt }
		}
	`

	var vars map[string]any
	if len(ids) > 0 {
		vars = map[string]any{"ids": ids}
	}
	var result struct {
		Documents []Document `json:"documents"`
	}
	if err := c.Execute(ctx, query, vars, &result); err != nil {
		return nil, err
	}
	return result.Documents, nil
}

// =============================================================================
// SESSION DOCUMENT OPERATIONS
// =============================================================================

// SessionDocumentInput is pasted text attached to a chat session.
type SessionDocumentInput struct {
	SessionID string         `json:"sessionId"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	Labels    []string       `json:"labels,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SessionDocument is the server-side state of a pasted document.
type SessionDocument struct {
	ID         string  `json:"id"`
	SessionID  string  `json:"sessionId"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	Progress   int     `json:"progress"`
	ChunkCount int     `json:"chunkCount"`
	Error      *string `json:"error,omitempty"`
}

const sessionDocumentFields = `id sessionId title status progress chunkCount error`

// AddSessionDocument submits pasted text for indexing.
func (c *Client) AddSessionDocument(ctx context.Context, input SessionDocumentInput) (*SessionDocument, error) {
	const query = `
		mutation AddSessionDocument($input: SessionDocumentInput!) {
			addSessionDocument(input: $input) { ` + sessionDocumentFields + ` }
		}
	`

	var result struct {
		AddSessionDocument SessionDocument `json:"addSessionDocument"`
	}
	if err := c.Execute(ctx, query, map[string]any{"input": input}, &result); err != nil {
		return nil, err
	}
	return &result.AddSessionDocument, nil
}

// SessionDocumentStatus returns the raw session document object.
func (c *Client) SessionDocumentStatus(ctx context.Context, id string) (json.RawMessage, error) {
	const query = `
		query SessionDocumentStatus($id: ID!) {
			sessionDocument(id: $id) { ` + sessionDocumentFields + ` }
		}
	`
	return c.fetchField(ctx, query, "sessionDocument", map[string]any{"id": id})
}

// RemoveSessionDocument detaches a document from its session.
func (c *Client) RemoveSessionDocument(ctx context.Context, id string) (bool, error) {
	const query = `mutation RemoveSessionDocument($id: ID!) { removeSessionDocument(id: $id) }`
	return c.mutateBool(ctx, query, "removeSessionDocument", id)
}

// =============================================================================
// GENERATION OPERATIONS
// =============================================================================

// GenerationInput describes content to generate.
type GenerationInput struct {
	Prompt       string   `json:"prompt"`
	TemplateName *string  `json:"templateName,omitempty"`
	SessionID    *string  `json:"sessionId,omitempty"`
	Labels       []string `json:"labels,omitempty"`
}

// Generation is the server-side state of a content generation request.
type Generation struct {
	ID        string  `json:"id"`
	State     string  `json:"state"`
	Progress  int     `json:"progress"`
	ContentID *string `json:"contentId,omitempty"`
	Error     *string `json:"error,omitempty"`
}

const generationFields = `id state progress contentId error`

// GenerateContent starts generating content and returns immediately.
func (c *Client) GenerateContent(ctx context.Context, input GenerationInput) (*Generation, error) {
	const query = `
		mutation GenerateContent($input: GenerationInput!) {
			generateContent(input: $input) { ` + generationFields + ` }
		}
	`

	var result struct {
		GenerateContent Generation `json:"generateContent"`
	}
	if err := c.Execute(ctx, query, map[string]any{"input": input}, &result); err != nil {
		return nil, err
	}
	return &result.GenerateContent, nil
}

// GenerationStatus returns the raw generation object.
func (c *Client) GenerationStatus(ctx context.Context, id string) (json.RawMessage, error) {
	const query = `
		query GenerationStatus($id: ID!) {
			generation(id: $id) { ` + generationFields + ` }
		}
	`
	return c.fetchField(ctx, query, "generation", map[string]any{"id": id})
}

// CancelGeneration asks the server to stop generating.
func (c *Client) CancelGeneration(ctx context.Context, id string) (bool, error) {
	const query = `mutation CancelGeneration($id: ID!) { cancelGeneration(id: $id) }`
	return c.mutateBool(ctx, query, "cancelGeneration", id)
}

// ContentEvent is one chunk of streamed generated content.
type ContentEvent struct {
	Token string  `json:"token"`
	Done  bool    `json:"done"`
	Error *string `json:"error,omitempty"`
}

// StreamContent streams the generated content of a finished generation
// token by token. Return an error from onToken to abort.
func (c *Client) StreamContent(ctx context.Context, id string, onToken func(token string) error) error {
	const query = `
		subscription GeneratedContent($id: ID!) {
			generatedContent(id: $id) { token done error }
		}
	`

	return c.Subscribe(ctx, query, map[string]any{"id": id}, func(data json.RawMessage) error {
		var payload struct {
			GeneratedContent ContentEvent `json:"generatedContent"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("unmarshal content event: %w", err)
		}

		event := payload.GeneratedContent
		if event.Error != nil {
			return fmt.Errorf("stream error: %s", *event.Error)
		}
		if event.Token != "" {
			if err := onToken(event.Token); err != nil {
				return err
			}
		}
		if event.Done {
			return ErrStop
		}
		return nil
	})
}

// =============================================================================
// GRAPH OPERATIONS
// =============================================================================

// GraphBuildInput configures a knowledge-graph build.
type GraphBuildInput struct {
	Labels  []string `json:"labels,omitempty"`
	Rebuild bool     `json:"rebuild"`
}

// GraphBuild is the server-side state of a graph build.
type GraphBuild struct {
	ID        string  `json:"id"`
	Status    string  `json:"status"`
	Stage     string  `json:"stage"`
	Progress  int     `json:"progress"`
	NodeCount int     `json:"nodeCount"`
	EdgeCount int     `json:"edgeCount"`
	GraphID   *string `json:"graphId,omitempty"`
	Error     *string `json:"error,omitempty"`
}

const graphBuildFields = `id status stage progress nodeCount edgeCount graphId error`

// BuildGraph starts building the knowledge graph and returns immediately.
func (c *Client) BuildGraph(ctx context.Context, input GraphBuildInput) (*GraphBuild, error) {
	const query = `
		mutation BuildGraph($input: GraphBuildInput!) {
			buildGraph(input: $input) { ` + graphBuildFields + ` }
		}
	`

	var result struct {
		BuildGraph GraphBuild `json:"buildGraph"`
	}
	if err := c.Execute(ctx, query, map[string]any{"input": input}, &result); err != nil {
		return nil, err
	}
	return &result.BuildGraph, nil
}

// GraphBuildStatus returns the raw graph build object.
func (c *Client) GraphBuildStatus(ctx context.Context, id string) (json.RawMessage, error) {
	const query = `
		query GraphBuildStatus($id: ID!) {
			graphBuild(id: $id) { ` + graphBuildFields + ` }
		}
	`
	return c.fetchField(ctx, query, "graphBuild", map[string]any{"id": id})
}

// CancelGraphBuild asks the server to abort a graph build.
func (c *Client) CancelGraphBuild(ctx context.Context, id string) (bool, error) {
	const query = `mutation CancelGraphBuild($id: ID!) { cancelGraphBuild(id: $id) }`
	return c.mutateBool(ctx, query, "cancelGraphBuild", id)
}

// GraphNode is a highly connected entity in a graph summary.
type GraphNode struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Degree int    `json:"degree"`
}

// GraphSummary describes a built knowledge graph.
type GraphSummary struct {
	GraphID     string      `json:"graphId"`
	NodeCount   int         `json:"nodeCount"`
	EdgeCount   int         `json:"edgeCount"`
	TopEntities []GraphNode `json:"topEntities"`
}

// GetGraphSummary retrieves the summary of a built graph.
func (c *Client) GetGraphSummary(ctx context.Context, graphID string) (*GraphSummary, error) {
	const query = `
		query GraphSummary($id: ID!) {
			graphSummary(id: $id) {
				graphId nodeCount edgeCount
				topEntities { name type degree }
			}
		}
	`

	var result struct {
		GraphSummary *GraphSummary `json:"graphSummary"`
	}
	if err := c.Execute(ctx, query, map[string]any{"id": graphID}, &result); err != nil {
		return nil, err
	}
	if result.GraphSummary == nil {
		return nil, fmt.Errorf("%w: graph %s", ErrNotFound, graphID)
	}
	return result.GraphSummary, nil
}

// mutateBool runs a single-id mutation whose field is a Boolean.
func (c *Client) mutateBool(ctx context.Context, query, field, id string) (bool, error) {
	var result map[string]bool
	if err := c.Execute(ctx, query, map[string]any{"id": id}, &result); err != nil {
		return false, err
	}
	return result[field], nil
}
