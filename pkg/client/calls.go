package client

import (
	"context"
	"encoding/json"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/notebookd/internal/protocol"
	"github.com/GriffinCanCode/notebookd/internal/shared/id"
)

// Run queues cells for execution.
func (c *Client) Run(ctx context.Context, cells ...protocol.CellCode) error {
	return c.post(ctx, "/api/kernel/run", protocol.RunRequest{Cells: cells}, nil)
}

// Save writes the notebook.
func (c *Client) Save(ctx context.Context, req protocol.SaveRequest) error {
	return c.post(ctx, "/api/kernel/save", req, nil)
}

// Format returns the formatted subset of codes.
func (c *Client) Format(ctx context.Context, codes map[id.CellID]string) (map[id.CellID]string, error) {
	var resp protocol.FormatResponse
	if err := c.post(ctx, "/api/kernel/format", protocol.FormatRequest{Codes: codes}, &resp); err != nil {
		return nil, err
	}
	return resp.Codes, nil
}

// Interrupt cancels running cells.
func (c *Client) Interrupt(ctx context.Context) error {
	return c.post(ctx, "/api/kernel/interrupt", nil, nil)
}

// Shutdown ends the session.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.post(ctx, "/api/kernel/shutdown", nil, nil)
}

// ListFiles lists a workspace directory.
func (c *Client) ListFiles(ctx context.Context, path string) (protocol.FileListResponse, error) {
	var resp protocol.FileListResponse
	err := c.post(ctx, "/api/files/list_files", protocol.FileListRequest{Path: path}, &resp)
	return resp, err
}

// Complete requests completions for document and waits for the pushed
// result. Cancelling ctx abandons the request.
func (c *Client) Complete(ctx context.Context, cellID id.CellID, document string) (protocol.CompletionResult, error) {
	return c.completions.Request(ctx, func(reqID id.RequestID) error {
		return c.post(ctx, "/api/kernel/code_autocomplete", protocol.CodeCompletionRequest{
			ID:       reqID,
			Document: document,
			CellID:   cellID,
		}, nil)
	})
}

// CallFunction invokes a session function and waits for the pushed result.
// Cancelling ctx abandons the request.
func (c *Client) CallFunction(ctx context.Context, namespace, name string, args any) (protocol.FunctionCallResult, error) {
	raw, err := sonic.Marshal(args)
	if err != nil {
		return protocol.FunctionCallResult{}, err
	}
	return c.functions.Request(ctx, func(reqID id.RequestID) error {
		return c.post(ctx, "/api/kernel/function_call", protocol.FunctionCallRequest{
			FunctionCallID: reqID,
			Args:           json.RawMessage(raw),
			Namespace:      namespace,
			FunctionName:   name,
		}, nil)
	})
}
