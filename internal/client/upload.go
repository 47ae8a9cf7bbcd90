package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
)

// Upload is a file attached to a GraphQL multipart request.
type Upload struct {
	Name    string
	Content io.Reader
}

// ExecuteUpload sends a mutation using the GraphQL multipart request
// protocol. files maps an object path inside variables
// (e.g. "variables.files.0") to the file sent for it; those variables must be
// present as null in variables.
func (c *Client) ExecuteUpload(ctx context.Context, query string, variables map[string]any, files map[string]Upload, result any) error {
	op, err := parseOperation(query)
	if err != nil {
		return err
	}

	operations, err := json.Marshal(graphQLRequest{
		Query:         query,
		OperationName: op.name,
		Variables:     variables,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	fileMap := make(map[string][]string, len(paths))
	for i, path := range paths {
		fileMap[strconv.Itoa(i)] = []string{path}
	}
	mapJSON, err := json.Marshal(fileMap)
	if err != nil {
		return fmt.Errorf("marshal file map: %w", err)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("operations", string(operations)); err != nil {
		return fmt.Errorf("write operations: %w", err)
	}
	if err := w.WriteField("map", string(mapJSON)); err != nil {
		return fmt.Errorf("write map: %w", err)
	}
	for i, path := range paths {
		f := files[path]
		part, err := w.CreateFormFile(strconv.Itoa(i), f.Name)
		if err != nil {
			return fmt.Errorf("create part for %s: %w", f.Name, err)
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return fmt.Errorf("copy %s: %w", f.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	return c.do(req, op, result)
}
