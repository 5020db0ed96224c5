// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes line-addressed file tools for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/linestore/internal/apperr"
	"github.com/starford/linestore/internal/lines"
	"github.com/starford/linestore/internal/lineservice"
)

// ContractURI names the line-format contract resource.
const ContractURI = "linestore://line-format"

// Server wraps the MCP server with linestore tools.
type Server struct {
	mcp *server.MCPServer
	svc *lineservice.Service
}

// New creates a new MCP server with all linestore tools registered.
func New(svc *lineservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"linestore",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	pathArg := mcp.WithString("path", mcp.Required(), mcp.Description("File path relative to the storage root (e.g. logs/today.txt)"))

	s.mcp.AddTool(mcp.NewTool("read_lines",
		mcp.WithDescription("Read lines first..last (0-based, inclusive) of a file. "+
			"Omit last to read a single line; a last past the end is clamped. "+
			"Omit both to read the whole file."),
		pathArg,
		mcp.WithNumber("first", mcp.Description("First 0-based line ordinal"), mcp.Min(0)),
		mcp.WithNumber("last", mcp.Description("Last 0-based line ordinal, inclusive")),
	), s.readLines)

	s.mcp.AddTool(mcp.NewTool("count_lines",
		mcp.WithDescription("Count the lines of a file. Returns the number of '\\n' terminators "+
			"and the logical count, which is one higher when the file ends in an unterminated line."),
		pathArg,
	), s.countLines)

	s.mcp.AddTool(mcp.NewTool("search_line",
		mcp.WithDescription("Return the 0-based ordinal of the first line exactly equal to text."),
		pathArg,
		mcp.WithString("text", mcp.Required(), mcp.Description("Exact line content without the terminator")),
	), s.searchLine)

	s.mcp.AddTool(mcp.NewTool("replace_line",
		mcp.WithDescription("Replace one line. Read the contract at "+ContractURI+" or via get_line_contract first."),
		pathArg,
		mcp.WithNumber("line", mcp.Required(), mcp.Description("0-based line ordinal"), mcp.Min(0)),
		mcp.WithString("content", mcp.Required(), mcp.Description("New line content without a terminator")),
	), s.replaceLine)

	s.mcp.AddTool(mcp.NewTool("insert_line",
		mcp.WithDescription("Insert a line before the given ordinal; an ordinal at or past the end appends."),
		pathArg,
		mcp.WithNumber("line", mcp.Required(), mcp.Description("0-based position"), mcp.Min(0)),
		mcp.WithString("content", mcp.Required(), mcp.Description("Line content without a terminator")),
	), s.insertLine)

	s.mcp.AddTool(mcp.NewTool("delete_lines",
		mcp.WithDescription("Delete lines first..last inclusive. Omit last to delete a single line."),
		pathArg,
		mcp.WithNumber("first", mcp.Required(), mcp.Description("First 0-based line ordinal"), mcp.Min(0)),
		mcp.WithNumber("last", mcp.Description("Last 0-based line ordinal, inclusive")),
	), s.deleteLines)

	s.mcp.AddTool(mcp.NewTool("append_text",
		mcp.WithDescription("Append text to the end of a file verbatim, creating it when missing. "+
			"Include the trailing '\\n' yourself."),
		pathArg,
		mcp.WithString("text", mcp.Required(), mcp.Description("Bytes to append")),
	), s.appendText)

	s.mcp.AddTool(mcp.NewTool("list_files",
		mcp.WithDescription("List files and directories recursively."),
		mcp.WithString("dir", mcp.Description("Optional directory to list (empty for the root)")),
	), s.listFiles)

	s.mcp.AddTool(mcp.NewTool("edit_history",
		mcp.WithDescription("List recorded edits, newest first."),
		mcp.WithString("path", mcp.Description("Optional file path to filter by")),
		mcp.WithNumber("limit", mcp.Description("Maximum entries (default 20)")),
	), s.editHistory)

	s.mcp.AddTool(mcp.NewTool("get_line_contract",
		mcp.WithDescription("Returns the line addressing contract. "+
			"Call this before editing to learn how ordinals and terminators behave."),
	), s.getLineContract)

	// Resource: line format contract.
	s.mcp.AddResource(
		mcp.NewResource(ContractURI, "Line Format Contract",
			mcp.WithResourceDescription("How files are split into lines and addressed by ordinal."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// Serve speaks the stdio transport over in and out until ctx is cancelled
// or in reaches EOF.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func withSource(ctx context.Context) context.Context {
	return lineservice.WithSource(ctx, lineservice.SourceMCP)
}

// toolError turns an engine error into a tool-level error result that
// tells the model what went wrong.
func toolError(path string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path))
	case errors.Is(err, apperr.ErrInvalidRange):
		return mcp.NewToolResultError(fmt.Sprintf("line out of range in %s; call count_lines first", path))
	case errors.Is(err, apperr.ErrNoMatch):
		return mcp.NewToolResultError(fmt.Sprintf("no line matches in %s", path))
	case errors.Is(err, apperr.ErrInvalidPath):
		return mcp.NewToolResultError(fmt.Sprintf("invalid path: %q", path))
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

// hasArg reports whether the caller supplied key at all.
func hasArg(req mcp.CallToolRequest, key string) bool {
	_, ok := req.GetArguments()[key]
	return ok
}

func (s *Server) readLines(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !hasArg(req, "first") && !hasArg(req, "last") {
		d, err := s.svc.Get(ctx, path)
		if err != nil {
			return toolError(path, err), nil
		}
		return mcp.NewToolResultText(d.Content), nil
	}
	first := req.GetInt("first", 0)
	last := req.GetInt("last", lines.Unbounded)
	text, err := s.svc.ReadRange(ctx, path, first, last)
	if err != nil {
		return toolError(path, err), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) countLines(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	c, err := s.svc.Count(ctx, path)
	if err != nil {
		return toolError(path, err), nil
	}
	return jsonResult(c), nil
}

func (s *Server) searchLine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	idx, err := s.svc.Search(ctx, path, text)
	if err != nil {
		return toolError(path, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%d", idx)), nil
}

// lineEdit reads the path/line/content triple shared by replace and insert.
func lineEdit(req mcp.CallToolRequest) (path string, n int, content string, res *mcp.CallToolResult) {
	var err error
	if path, err = req.RequireString("path"); err != nil {
		return "", 0, "", mcp.NewToolResultError(err.Error())
	}
	if n, err = req.RequireInt("line"); err != nil {
		return "", 0, "", mcp.NewToolResultError(err.Error())
	}
	if content, err = req.RequireString("content"); err != nil {
		return "", 0, "", mcp.NewToolResultError(err.Error())
	}
	if strings.Contains(content, "\n") {
		return "", 0, "", mcp.NewToolResultError("content must be a single line; use insert_line once per line")
	}
	return path, n, content, nil
}

func (s *Server) replaceLine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, n, content, bad := lineEdit(req)
	if bad != nil {
		return bad, nil
	}
	res, err := s.svc.ReplaceLine(withSource(ctx), path, n, content)
	if err != nil {
		return toolError(path, err), nil
	}
	return jsonResult(res), nil
}

func (s *Server) insertLine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, n, content, bad := lineEdit(req)
	if bad != nil {
		return bad, nil
	}
	res, err := s.svc.InsertLine(withSource(ctx), path, n, content)
	if err != nil {
		return toolError(path, err), nil
	}
	return jsonResult(res), nil
}

func (s *Server) deleteLines(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	first, err := req.RequireInt("first")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var res *lineservice.Result
	if hasArg(req, "last") {
		res, err = s.svc.DeleteRange(withSource(ctx), path, first, req.GetInt("last", lines.Unbounded))
	} else {
		res, err = s.svc.DeleteLine(withSource(ctx), path, first)
	}
	if err != nil {
		return toolError(path, err), nil
	}
	return jsonResult(res), nil
}

func (s *Server) appendText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Append(withSource(ctx), path, text)
	if err != nil {
		return toolError(path, err), nil
	}
	return jsonResult(res), nil
}

func (s *Server) listFiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dir := req.GetString("dir", "")
	entries, err := s.svc.Tree(ctx, dir)
	if err != nil {
		return toolError(dir, err), nil
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir {
			paths = append(paths, e.Path+"/")
			continue
		}
		paths = append(paths, e.Path)
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) editHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	entries, total, err := s.svc.History(ctx, path, req.GetInt("limit", 20), 0)
	if err != nil {
		return toolError(path, err), nil
	}
	if total == 0 {
		return mcp.NewToolResultText("no edits recorded"), nil
	}
	return jsonResult(entries), nil
}

func (s *Server) getLineContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(LineFormatContract), nil
}

func (s *Server) readContractResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      ContractURI,
			MIMEType: "text/markdown",
			Text:     LineFormatContract,
		},
	}, nil
}
