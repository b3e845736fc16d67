package httphandler

import (
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/lllypuk/dashhost/internal/aggregator"
	"github.com/lllypuk/dashhost/internal/remote"
)

// Template names.
const (
	DashboardTemplate  = "dashboard.html"
	RemoteSlotTemplate = "remote_slot"
	NotFoundTemplate   = "not_found.html"

	templatesDir = "templates"
)

// TemplateRenderer implements echo.Renderer for HTML template rendering.
type TemplateRenderer struct {
	templates *template.Template
	mu        sync.RWMutex
	logger    *slog.Logger
	devMode   bool
	fs        fs.FS
}

// TemplateRendererConfig holds configuration for the template renderer.
type TemplateRendererConfig struct {
	// FS holds a templates directory with the *.html files.
	FS     fs.FS
	Logger *slog.Logger
	// DevMode enables template reloading on each request.
	DevMode bool
}

// NewTemplateRenderer creates a new template renderer.
func NewTemplateRenderer(cfg TemplateRendererConfig) (*TemplateRenderer, error) {
	r := &TemplateRenderer{
		logger:  cfg.Logger,
		devMode: cfg.DevMode,
		fs:      cfg.FS,
	}

	if r.logger == nil {
		r.logger = slog.Default()
	}

	if err := r.loadTemplates(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *TemplateRenderer) loadTemplates() error {
	tmpl := template.New("").Funcs(TemplateFuncs())

	err := fs.WalkDir(r.fs, templatesDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".html" {
			return nil
		}

		content, readErr := fs.ReadFile(r.fs, p)
		if readErr != nil {
			return readErr
		}

		name := p[len(templatesDir)+1:]
		if _, parseErr := tmpl.New(name).Parse(string(content)); parseErr != nil {
			r.logger.Error("failed to parse template",
				slog.String("path", p),
				slog.String("error", parseErr.Error()))
			return parseErr
		}

		r.logger.Debug("loaded template", slog.String("name", name))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	r.mu.Lock()
	r.templates = tmpl
	r.mu.Unlock()
	return nil
}

// Render implements echo.Renderer.
func (r *TemplateRenderer) Render(w io.Writer, name string, data any, _ echo.Context) error {
	if r.devMode {
		if err := r.loadTemplates(); err != nil {
			r.logger.Error("failed to reload templates", slog.String("error", err.Error()))
			return err
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.templates.ExecuteTemplate(w, name, data)
}

// PageData represents common data passed to all page templates.
type PageData struct {
	Title string
	Data  any
}

// DashboardData is rendered by the dashboard page.
type DashboardData struct {
	Snapshot aggregator.Snapshot
	Remotes  []remote.View
	Props    RemoteProps
}

// RemoteProps is passed to every remote module render. It tells the module
// where it can publish its events.
type RemoteProps struct {
	EventsURL string
	SocketURL string
}

// DefaultRemoteProps returns props pointing at this host's own endpoints.
func DefaultRemoteProps() RemoteProps {
	return RemoteProps{
		EventsURL: "/api/v1/events",
		SocketURL: "/ws",
	}
}

// SnapshotSource provides the aggregated dashboard state.
// Declared on the consumer side per project guidelines.
type SnapshotSource interface {
	Snapshot() aggregator.Snapshot
}

// RemoteRegistry looks up mounted remote modules.
// Declared on the consumer side per project guidelines.
type RemoteRegistry interface {
	All() []*remote.Boundary
	Get(name string) (*remote.Boundary, bool)
}

// TemplateHandler renders the dashboard page and its partials.
type TemplateHandler struct {
	renderer  *TemplateRenderer
	logger    *slog.Logger
	snapshots SnapshotSource
	remotes   RemoteRegistry
	props     RemoteProps
}

// NewTemplateHandler creates a new template handler.
func NewTemplateHandler(
	renderer *TemplateRenderer,
	logger *slog.Logger,
	snapshots SnapshotSource,
	remotes RemoteRegistry,
) *TemplateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TemplateHandler{
		renderer:  renderer,
		logger:    logger,
		snapshots: snapshots,
		remotes:   remotes,
		props:     DefaultRemoteProps(),
	}
}

// SetRemoteProps replaces the props passed to remote module renders.
func (h *TemplateHandler) SetRemoteProps(props RemoteProps) {
	h.props = props
}

func (h *TemplateHandler) render(c echo.Context, status int, templateName, title string, data any) error {
	return h.RenderPartial(c, status, templateName, PageData{Title: title, Data: data})
}

// RenderPartial renders a template without wrapping data in PageData.
func (h *TemplateHandler) RenderPartial(c echo.Context, status int, templateName string, data any) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(status)
	return h.renderer.Render(c.Response().Writer, templateName, data, c)
}

// Dashboard renders the host page: metric cards and one slot per remote
// module. Remote modules are rendered under their boundary, so a broken
// module shows its fallback and never fails the page.
func (h *TemplateHandler) Dashboard(c echo.Context) error {
	ctx := c.Request().Context()

	var views []remote.View
	for _, b := range h.remotes.All() {
		views = append(views, b.Render(ctx, h.props))
	}

	return h.render(c, http.StatusOK, DashboardTemplate, "Dashboard", DashboardData{
		Snapshot: h.snapshots.Snapshot(),
		Remotes:  views,
		Props:    h.props,
	})
}

// RemoteSlot renders a single remote module slot. The page script uses it to
// refresh a slot after the module changes state.
func (h *TemplateHandler) RemoteSlot(c echo.Context) error {
	b, ok := h.remotes.Get(c.Param("name"))
	if !ok {
		return h.NotFound(c)
	}
	return h.RenderPartial(c, http.StatusOK, RemoteSlotTemplate, b.Render(c.Request().Context(), h.props))
}

// NotFound renders the 404 page.
func (h *TemplateHandler) NotFound(c echo.Context) error {
	return h.render(c, http.StatusNotFound, NotFoundTemplate, "Page Not Found", nil)
}

// SetupPageRoutes registers HTML page routes.
func (h *TemplateHandler) SetupPageRoutes(e *echo.Echo) {
	e.GET("/", h.Dashboard)
	e.GET("/partials/remotes/:name", h.RemoteSlot)
}
