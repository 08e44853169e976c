package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/insightra/internal/domain"
)

// ArchiveHandler lists and streams archived JSONL exports from object
// storage.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, logger: logHandler(logger, "archives")}
}

// ListArchives returns stored exports under an optional prefix.
// GET /api/archives?prefix=questions/
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix := "archive/" + strings.TrimPrefix(r.URL.Query().Get("prefix"), "/")
	items, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		fail(h.logger, w, r, "list archives", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": items})
}

// GetArchive streams one export.
// GET /api/archives/{path...}
func (h *ArchiveHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	if path == "" || strings.Contains(path, "..") {
		writeError(w, fmt.Errorf("%w: archive path %q", domain.ErrInvalidInput, path))
		return
	}
	path = "archive/" + path
	body, err := h.blobs.Get(r.Context(), path)
	if err != nil {
		fail(h.logger, w, r, "get archive", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive stream interrupted",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
