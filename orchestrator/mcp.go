package orchestrator

import (
	"context"
	"fmt"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/webclip/envelope"
	"github.com/hazyhaar/webclip/kit"
)

// RegisterMCP exposes the captures as MCP tools.
func (o *Orchestrator) RegisterMCP(srv *mcp.Server) {
	o.registerSelectionTool(srv)
	o.registerPageTool(srv)
	o.registerTabsTool(srv)
	o.registerScreenshotTool(srv)
	o.registerLinkNoteTool(srv)
	o.registerImageTool(srv)
	o.registerLinkTool(srv)
	o.registerSearchStatusTool(srv)
	o.registerMarkdownTool(srv)
}

// addTool registers endpoint as an MCP tool, logged under the tool name.
func (o *Orchestrator) addTool(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	kit.RegisterMCPTool(srv, tool, kit.Chain(kit.Logging(o.logger, tool.Name))(endpoint), decode)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var pageURLProperty = map[string]any{"type": "string", "description": "Page the clipping is filed under (default: the active tab's URL)"}

// --- selection ---

type emptyReq struct{}

func (o *Orchestrator) registerSelectionTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "capture_selection",
		Description: "Clip the current selection of the active tab into today's note.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	o.addTool(srv, tool, func(ctx context.Context, _ any) (any, error) {
		return o.CaptureSelection(ctx)
	}, kit.DecodeJSON[emptyReq]())
}

// --- page ---

type pageReq struct {
	PageURL string `json:"page_url"`
}

func (o *Orchestrator) registerPageTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "capture_page",
		Description: "Save the readable article of the active tab as a new note.",
		InputSchema: inputSchema(map[string]any{"page_url": pageURLProperty}, nil),
	}
	o.addTool(srv, tool, func(ctx context.Context, req any) (any, error) {
		return o.CaptureWholePage(ctx, req.(*pageReq).PageURL)
	}, kit.DecodeJSON[pageReq]())
}

// --- tabs ---

func (o *Orchestrator) registerTabsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "capture_tabs",
		Description: "Save the list of open tabs as a new note. Returns the saved tab ids.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	o.addTool(srv, tool, func(ctx context.Context, _ any) (any, error) {
		return o.CaptureTabs(ctx)
	}, kit.DecodeJSON[emptyReq]())
}

// --- screenshot ---

func (o *Orchestrator) registerScreenshotTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "capture_screenshot",
		Description: "Clip a screenshot of the active tab's visible viewport into today's note.",
		InputSchema: inputSchema(map[string]any{"page_url": pageURLProperty}, nil),
	}
	o.addTool(srv, tool, func(ctx context.Context, req any) (any, error) {
		return o.CaptureWholeScreenshot(ctx, req.(*pageReq).PageURL)
	}, kit.DecodeJSON[pageReq]())
}

// --- link note ---

type linkNoteReq struct {
	Text      string `json:"text"`
	KeepTitle bool   `json:"keep_title"`
}

func (o *Orchestrator) registerLinkNoteTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "capture_link_note",
		Description: "Save a note about the active tab. The first sentence becomes the title unless keep_title is set.",
		InputSchema: inputSchema(map[string]any{
			"text":       map[string]any{"type": "string", "description": "Note text"},
			"keep_title": map[string]any{"type": "boolean", "description": "Use the tab title and keep the whole text as content"},
		}, []string{"text"}),
	}
	o.addTool(srv, tool, func(ctx context.Context, req any) (any, error) {
		r := req.(*linkNoteReq)
		title, content := SplitLinkNote(r.Text, r.KeepTitle)
		return o.CaptureLinkNote(ctx, title, content)
	}, kit.DecodeJSON[linkNoteReq]())
}

// --- image ---

type imageReq struct {
	SrcURL  string `json:"src_url"`
	PageURL string `json:"page_url"`
}

func (o *Orchestrator) registerImageTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "capture_image",
		Description: "Clip one image into today's note.",
		InputSchema: inputSchema(map[string]any{
			"src_url":  map[string]any{"type": "string", "description": "Image URL or data URI"},
			"page_url": pageURLProperty,
		}, []string{"src_url"}),
	}
	o.addTool(srv, tool, func(ctx context.Context, req any) (any, error) {
		r := req.(*imageReq)
		if r.SrcURL == "" {
			return nil, fmt.Errorf("src_url is required")
		}
		return o.CaptureImage(ctx, r.SrcURL, r.PageURL)
	}, kit.DecodeJSON[imageReq]())
}

// --- link ---

type linkReq struct {
	LinkURL  string `json:"link_url"`
	LinkText string `json:"link_text"`
	PageURL  string `json:"page_url"`
}

func (o *Orchestrator) registerLinkTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "capture_link",
		Description: "Clip one link into today's note.",
		InputSchema: inputSchema(map[string]any{
			"link_url":  map[string]any{"type": "string", "description": "Link target"},
			"link_text": map[string]any{"type": "string", "description": "Anchor text (default: the URL)"},
			"page_url":  pageURLProperty,
		}, []string{"link_url"}),
	}
	o.addTool(srv, tool, func(ctx context.Context, req any) (any, error) {
		r := req.(*linkReq)
		if r.LinkURL == "" {
			return nil, fmt.Errorf("link_url is required")
		}
		return o.CaptureLink(ctx, r.LinkURL, r.LinkText, r.PageURL)
	}, kit.DecodeJSON[linkReq]())
}

// --- search status ---

type searchReq struct {
	Refresh bool `json:"refresh"`
}

func (o *Orchestrator) registerSearchStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "search_status",
		Description: "Report whether the note service was found. refresh searches again.",
		InputSchema: inputSchema(map[string]any{
			"refresh": map[string]any{"type": "boolean", "description": "Search again before reporting"},
		}, nil),
	}
	o.addTool(srv, tool, func(ctx context.Context, req any) (any, error) {
		if req.(*searchReq).Refresh {
			return statusBody(o.svc.Search(ctx)), nil
		}
		return statusBody(o.svc.Status()), nil
	}, kit.DecodeJSON[searchReq]())
}

// --- markdown preview ---

func (o *Orchestrator) registerMarkdownTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "page_markdown",
		Description: "Extract the readable article of the active tab as Markdown without saving it.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	o.addTool(srv, tool, func(ctx context.Context, _ any) (any, error) {
		return o.PageMarkdown(ctx)
	}, kit.DecodeJSON[emptyReq]())
}

// PageMarkdown extracts the active tab's article as Markdown, headed by its
// title. Nothing is posted.
func (o *Orchestrator) PageMarkdown(ctx context.Context) (string, error) {
	tab, err := o.tabs.Active(ctx)
	if err != nil {
		return "", err
	}
	var page envelope.PageReply
	if err := o.ask(ctx, tab.ID, envelope.SavePage, nil, &page, o.scraperTimeout); err != nil {
		return "", err
	}
	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	md, err := conv.ConvertString(page.Payload.Content, converter.WithDomain(firstNonEmpty(page.Payload.PageURL, tab.URL)))
	if err != nil {
		return "", fmt.Errorf("orchestrator: markdown: %w", err)
	}
	if page.Payload.Title == "" {
		return md, nil
	}
	return "# " + page.Payload.Title + "\n\n" + md, nil
}
