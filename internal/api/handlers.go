package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/linestore/internal/fileops"
	"github.com/starford/linestore/internal/lines"
	"github.com/starford/linestore/internal/lineservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *lineservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *lineservice.Service) *Handler {
	return &Handler{svc: svc}
}

// filePath extracts the file path from the URL wildcard.
// Supports encoded slashes from OpenAPI clients (e.g. logs%2Ftoday.txt).
func filePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// requirePath writes 400 and returns false when the wildcard is empty.
func requirePath(w http.ResponseWriter, r *http.Request) (string, bool) {
	p := filePath(r)
	if p == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return "", false
	}
	return p, true
}

// intQuery parses an optional integer query parameter.
func intQuery(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func badQuery(w http.ResponseWriter, name string) {
	writeJSON(w, http.StatusBadRequest, errorBody("query parameter '"+name+"' must be an integer"))
}

// Tree handles GET /api/files.
//
//	@Summary		List a directory recursively
//	@Tags			files
//	@Produce		json
//	@Param			dir	query		string	false	"Directory, root when empty"
//	@Success		200	{object}	TreeResponse
//	@Security		BearerAuth
//	@Router			/files [get]
func (h *Handler) Tree(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("dir")
	entries, err := h.svc.Tree(r.Context(), dir)
	if err != nil {
		writeError(w, "tree", dir, err)
		return
	}
	if entries == nil {
		entries = []fileops.Entry{}
	}
	writeJSON(w, http.StatusOK, TreeResponse{Entries: entries})
}

// CreateFile handles POST /api/files.
//
//	@Summary		Create a file
//	@Tags			files
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateFileRequest	true	"File to create"
//	@Success		201		{object}	MutationResult
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/files [post]
func (h *Handler) CreateFile(w http.ResponseWriter, r *http.Request) {
	var req CreateFileRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Create(r.Context(), req.Path, req.Content)
	if err != nil {
		writeError(w, "create file", req.Path, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GetFile handles GET /api/files/*.
//
//	@Summary		Read a whole file
//	@Tags			files
//	@Produce		json
//	@Param			path	path		string	true	"File path"
//	@Success		200		{object}	FileDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/files/{path} [get]
func (h *Handler) GetFile(w http.ResponseWriter, r *http.Request) {
	path, ok := requirePath(w, r)
	if !ok {
		return
	}
	d, err := h.svc.Get(r.Context(), path)
	if err != nil {
		writeError(w, "get file", path, err)
		return
	}
	w.Header().Set("ETag", `"`+d.Checksum+`"`)
	writeJSON(w, http.StatusOK, d)
}

// PutFile handles PUT /api/files/*.
//
//	@Summary		Overwrite a file with optimistic concurrency
//	@Tags			files
//	@Accept			json
//	@Produce		json
//	@Param			path		path		string			true	"File path"
//	@Param			If-Match	header		string			false	"SHA-256 checksum for optimistic concurrency"
//	@Param			body		body		ContentRequest	true	"New body"
//	@Success		200			{object}	MutationResult
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/files/{path} [put]
func (h *Handler) PutFile(w http.ResponseWriter, r *http.Request) {
	path, ok := requirePath(w, r)
	if !ok {
		return
	}
	var req ContentRequest
	if !decode(w, r, &req) {
		return
	}
	// Strip surrounding quotes if present (standard ETag format).
	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)
	res, err := h.svc.Overwrite(r.Context(), path, req.Content, ifMatch)
	if err != nil {
		writeError(w, "overwrite", path, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// AppendFile handles POST /api/append/*.
//
//	@Summary		Append bytes to a file verbatim
//	@Tags			files
//	@Accept			json
//	@Produce		json
//	@Param			path	path		string			true	"File path"
//	@Param			body	body		ContentRequest	true	"Bytes to append"
//	@Success		200		{object}	MutationResult
//	@Security		BearerAuth
//	@Router			/append/{path} [post]
func (h *Handler) AppendFile(w http.ResponseWriter, r *http.Request) {
	path, ok := requirePath(w, r)
	if !ok {
		return
	}
	var req ContentRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Append(r.Context(), path, req.Content)
	if err != nil {
		writeError(w, "append", path, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ClearFile handles POST /api/clear/*.
//
//	@Summary		Truncate a file to zero bytes
//	@Tags			files
//	@Param			path	path		string	true	"File path"
//	@Success		200		{object}	MutationResult
//	@Security		BearerAuth
//	@Router			/clear/{path} [post]
func (h *Handler) ClearFile(w http.ResponseWriter, r *http.Request) {
	path, ok := requirePath(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Clear(r.Context(), path)
	if err != nil {
		writeError(w, "clear", path, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteFile handles DELETE /api/files/*.
//
//	@Summary		Delete a file
//	@Tags			files
//	@Param			path	path	string	true	"File path"
//	@Success		204		"File deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/files/{path} [delete]
func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	path, ok := requirePath(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), path); err != nil {
		writeError(w, "delete file", path, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// rangeQuery reads first/last; a missing last means lines.Unbounded.
func rangeQuery(w http.ResponseWriter, r *http.Request) (first, last int, ok bool) {
	first, err := intQuery(r, "first", 0)
	if err != nil {
		badQuery(w, "first")
		return 0, 0, false
	}
	last, err = intQuery(r, "last", lines.Unbounded)
	if err != nil {
		badQuery(w, "last")
		return 0, 0, false
	}
	return first, last, true
}
