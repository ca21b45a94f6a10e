package docpipe

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/accesspdf/internal/pdftest"
)

var testMCPImpl = &mcp.Implementation{Name: "docpipe-test", Version: "0.1.0"}

func mcpSession(t *testing.T) *mcp.ClientSession {
	t.Helper()
	pipe := New(Config{})
	srv := mcp.NewServer(testMCPImpl, nil)
	pipe.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func TestMCP_Extract(t *testing.T) {
	session := mcpSession(t)
	path := pdftest.Write(t, t.TempDir(), "doc.pdf", pdftest.Text("H2: Section", "texte"))

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "pdf_extract",
		Arguments: map[string]any{"path": path},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %+v", result.Content)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}

	var doc Document
	if err := json.Unmarshal([]byte(tc.Text), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(doc.Pages) != 1 || doc.Pages[0].Source != SourceNative {
		t.Fatalf("pages: %+v", doc.Pages)
	}
}

func TestMCP_Extract_Missing(t *testing.T) {
	session := mcpSession(t)
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "pdf_extract",
		Arguments: map[string]any{"path": "/nonexistent/file.pdf"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing file")
	}
}
