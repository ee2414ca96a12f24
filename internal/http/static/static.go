package static

// Static file handler. Serves files under a root directory with a fixed
// extension→MIME table, an optional index file for directory requests, and
// root confinement against traversal. All state is constructor-injected.

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/alxayo/go-httpd/internal/http/message"
)

var mimeTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript",
	".json": "application/json",
	".txt":  "text/plain; charset=utf-8",
	".xml":  "application/xml",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".pdf":  "application/pdf",
	".wasm": "application/wasm",
}

const defaultIndex = "index.html"

// Handler serves files below root. The route pattern must capture the file
// path into the "path" parameter (e.g. r.Get("/assets/:path", h.Serve)) or
// the full request path is used relative to the mount prefix.
type Handler struct {
	root   string
	prefix string
	index  string
}

// New creates a handler rooted at dir, stripping prefix from request paths.
func New(dir, prefix string) *Handler {
	return &Handler{root: filepath.Clean(dir), prefix: prefix, index: defaultIndex}
}

// Serve is a router.Handler.
func (h *Handler) Serve(req *message.Request, resp *message.Response) {
	rel := strings.TrimPrefix(req.Path, h.prefix)
	if p := req.Param("path"); p != "" {
		rel = p
	}
	h.serveFile(rel, resp)
}

func (h *Handler) serveFile(rel string, resp *message.Response) {
	clean := filepath.Clean("/" + rel) // forces the path under "/"
	full := filepath.Join(h.root, clean)
	if full != h.root && !strings.HasPrefix(full, h.root+string(filepath.Separator)) {
		resp.Text(message.StatusForbidden, "403 Forbidden\n")
		return
	}

	info, err := os.Stat(full)
	if err == nil && info.IsDir() {
		full = filepath.Join(full, h.index)
		info, err = os.Stat(full)
	}
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			resp.Text(message.StatusForbidden, "403 Forbidden\n")
		} else {
			resp.Text(message.StatusNotFound, "404 Not Found\n")
		}
		return
	}
	if info.Size() > message.MaxBodyBytes {
		resp.Text(message.StatusPayloadTooLarge, "413 Payload Too Large\n")
		return
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			resp.Text(message.StatusForbidden, "403 Forbidden\n")
		} else {
			resp.Text(message.StatusNotFound, "404 Not Found\n")
		}
		return
	}
	resp.Bytes(message.StatusOK, contentType(full), data)
}

func contentType(path string) string {
	if ct, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return "application/octet-stream"
}
