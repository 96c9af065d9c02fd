// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the harvester for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/spices/internal/activity"
	"github.com/starford/spices/internal/apperr"
	"github.com/starford/spices/internal/harvester"
	"github.com/starford/spices/internal/models"
)

// ActivityLogURI is the resource exposing the recent activity log.
const ActivityLogURI = "spices://activity-log"

const activityTail = 200

// Server wraps the MCP server with harvester tools.
type Server struct {
	mcp      *server.MCPServer
	m        *harvester.Manager
	activity *activity.Logger
}

// New creates a new MCP server with all tools registered. log may be nil,
// in which case the activity resource is empty.
func New(m *harvester.Manager, log *activity.Logger) *Server {
	s := &Server{m: m, activity: log}

	s.mcp = server.NewMCPServer(
		"Spices",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	typeArg := mcp.WithString("type", mcp.Required(),
		mcp.Description("Package type: applet, desklet, extension or theme"))

	s.mcp.AddTool(mcp.NewTool("list_updates",
		mcp.WithDescription("List installed spices that have a newer version in the catalog."),
	), s.listUpdates)

	s.mcp.AddTool(mcp.NewTool("refresh_caches",
		mcp.WithDescription("Download the latest catalog and preview images for every package type."),
	), s.refreshCaches)

	s.mcp.AddTool(mcp.NewTool("search_spices",
		mcp.WithDescription("Search the catalog of one package type by name, description, author or uuid."),
		typeArg,
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchSpices)

	s.mcp.AddTool(mcp.NewTool("list_installed",
		mcp.WithDescription("List installed spices of one package type with their versions."),
		typeArg,
	), s.listInstalled)

	s.mcp.AddTool(mcp.NewTool("install_spice",
		mcp.WithDescription("Install a spice from the catalog, or upgrade it if already installed."),
		typeArg,
		mcp.WithString("uuid", mcp.Required(), mcp.Description("Spice uuid, e.g. clock@cinnamon.org")),
	), s.installSpice)

	s.mcp.AddTool(mcp.NewTool("uninstall_spice",
		mcp.WithDescription("Remove an installed spice with its translations and settings."),
		typeArg,
		mcp.WithString("uuid", mcp.Required(), mcp.Description("Spice uuid")),
	), s.uninstallSpice)

	s.mcp.AddResource(
		mcp.NewResource(ActivityLogURI, "Activity Log",
			mcp.WithResourceDescription("Most recent install, upgrade and uninstall actions."),
			mcp.WithMIMEType("text/plain"),
		),
		s.readActivityLog,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) harvesterFor(req mcp.CallToolRequest) (*harvester.Harvester, error) {
	raw, err := req.RequireString("type")
	if err != nil {
		return nil, err
	}
	kind, err := models.ParsePackageType(raw)
	if err != nil {
		return nil, err
	}
	h, ok := s.m.Harvester(kind)
	if !ok {
		return nil, fmt.Errorf("type %s is not managed", kind)
	}
	return h, nil
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

// errorResult prefixes typed failures with their kind.
func errorResult(err error) *mcp.CallToolResult {
	if kind := apperr.KindOf(err); kind != apperr.KindUnknown {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", kind, err))
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) listUpdates(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	recs := s.m.GetUpdates()
	if len(recs) == 0 {
		return mcp.NewToolResultText("everything is up to date"), nil
	}
	var b strings.Builder
	for _, r := range recs {
		fmt.Fprintf(&b, "%s %s: %s -> %s (%s)\n", r.Type, r.UUID, r.OldVersion, r.NewVersion, r.SizeHuman)
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func (s *Server) refreshCaches(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reports, err := s.m.RefreshAllCaches(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("refresh finished with errors: %v", err)), nil
	}
	return jsonResult(reports), nil
}

func (s *Server) searchSpices(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h, err := s.harvesterFor(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := h.Search(query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results), nil
}

func (s *Server) listInstalled(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h, err := s.harvesterFor(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	installed := h.Installed()
	if len(installed) == 0 {
		return mcp.NewToolResultText("nothing installed"), nil
	}
	ids := make([]string, 0, len(installed))
	for id := range installed {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		e := installed[id]
		version := "unknown"
		if e.HasLastEdited {
			version = models.VersionString(e.LastEdited)
		}
		lines = append(lines, fmt.Sprintf("%s %s", id, version))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) installSpice(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h, err := s.harvesterFor(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	uuid, err := req.RequireString("uuid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := h.Install(ctx, uuid)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res), nil
}

func (s *Server) uninstallSpice(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h, err := s.harvesterFor(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	uuid, err := req.RequireString("uuid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := h.Uninstall(ctx, uuid); err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("uninstalled: %s", uuid)), nil
}

func (s *Server) readActivityLog(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	var text string
	if s.activity != nil {
		s.activity.Flush()
		lines, err := s.activity.Tail(activityTail)
		if err != nil {
			return nil, err
		}
		text = strings.Join(lines, "\n")
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      ActivityLogURI,
			MIMEType: "text/plain",
			Text:     text,
		},
	}, nil
}
