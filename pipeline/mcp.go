package pipeline

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/accesspdf/kit"
)

// RegisterMCP registers the accesspdf_check tool on srv.
func (r *Runner) RegisterMCP(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "accesspdf_check",
		Description: "Check a local PDF for accessibility issues and write a corrected copy carrying one placeholder per issue category.",
		InputSchema: kit.InputSchema(map[string]any{
			"path": map[string]any{"type": "string", "description": "PDF file path"},
		}, []string{"path"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		res, err := r.CheckFile(ctx, req.(*checkReq).Path)
		if err != nil {
			return nil, err
		}
		return res.Response(), nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var cr checkReq
		if err := json.Unmarshal(req.Params.Arguments, &cr); err != nil {
			return nil, err
		}
		if cr.Path == "" {
			return nil, errors.New("path is required")
		}
		return &kit.MCPDecodeResult{Request: &cr}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(kit.Logging(r.logger, "accesspdf_check"))(endpoint), decode)
}

type checkReq struct {
	Path string `json:"path"`
}

// CheckResponse is the JSON shape returned by the MCP tool and the HTTP API.
type CheckResponse struct {
	ID            string      `json:"id"`
	Pages         int         `json:"pages"`
	OCRPages      []int       `json:"ocr_pages,omitempty"`
	Issues        []IssueJSON `json:"issues"`
	Warnings      []string    `json:"warnings"`
	CorrectedPath string      `json:"corrected_path,omitempty"`
	DurationMS    int64       `json:"duration_ms"`
}

// IssueJSON is one finding in a CheckResponse.
type IssueJSON struct {
	Category string `json:"category"`
	Page     int    `json:"page,omitempty"`
	Message  string `json:"message"`
}

// Response converts a run result into its JSON shape.
func (res *Result) Response() *CheckResponse {
	resp := &CheckResponse{
		ID:            res.Document.ID,
		Pages:         res.Extraction.PageCount(),
		OCRPages:      res.Extraction.OCRPages(),
		Issues:        []IssueJSON{},
		Warnings:      res.Report.Warnings(),
		CorrectedPath: res.Corrected.Path,
		DurationMS:    res.Duration.Milliseconds(),
	}
	if resp.Warnings == nil {
		resp.Warnings = []string{}
	}
	for _, is := range res.Report.Issues() {
		resp.Issues = append(resp.Issues, IssueJSON{Category: string(is.Category), Page: is.Page, Message: is.Message})
	}
	return resp
}
