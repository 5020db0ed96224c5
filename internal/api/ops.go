package api

import (
	"net/http"

	"github.com/starford/linestore/internal/fileops"
	"github.com/starford/linestore/internal/journal"
)

// Copy handles POST /api/ops/copy.
//
//	@Summary		Copy a file, replacing the destination
//	@Tags			ops
//	@Accept			json
//	@Param			body	body		PathPairRequest	true	"Source and destination"
//	@Success		200		{object}	MutationResult
//	@Security		BearerAuth
//	@Router			/ops/copy [post]
func (h *Handler) Copy(w http.ResponseWriter, r *http.Request) {
	var req PathPairRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Copy(r.Context(), req.From, req.To)
	if err != nil {
		writeError(w, "copy", req.From, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Rename handles POST /api/ops/rename.
//
//	@Summary		Rename a file without replacing an existing one
//	@Tags			ops
//	@Accept			json
//	@Param			body	body		PathPairRequest	true	"Old and new path"
//	@Success		200		{object}	MutationResult
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/ops/rename [post]
func (h *Handler) Rename(w http.ResponseWriter, r *http.Request) {
	var req PathPairRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Rename(r.Context(), req.From, req.To)
	if err != nil {
		writeError(w, "rename", req.From, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Backup handles POST /api/ops/backup.
//
//	@Summary		Copy a file to its .bak sibling
//	@Tags			ops
//	@Accept			json
//	@Param			body	body		PathRequest	true	"File path"
//	@Success		200		{object}	MutationResult
//	@Security		BearerAuth
//	@Router			/ops/backup [post]
func (h *Handler) Backup(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Backup(r.Context(), req.Path)
	if err != nil {
		writeError(w, "backup", req.Path, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Restore handles POST /api/ops/restore.
//
//	@Summary		Copy the .bak sibling back over a file
//	@Tags			ops
//	@Accept			json
//	@Param			body	body		PathRequest	true	"File path"
//	@Success		200		{object}	MutationResult
//	@Security		BearerAuth
//	@Router			/ops/restore [post]
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Restore(r.Context(), req.Path)
	if err != nil {
		writeError(w, "restore", req.Path, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Mkdir handles POST /api/ops/mkdir.
//
//	@Summary		Create a directory and its parents
//	@Tags			ops
//	@Accept			json
//	@Param			body	body	PathRequest	true	"Directory path"
//	@Success		204		"Directory created"
//	@Security		BearerAuth
//	@Router			/ops/mkdir [post]
func (h *Handler) Mkdir(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.Mkdir(r.Context(), req.Path); err != nil {
		writeError(w, "mkdir", req.Path, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Purge handles POST /api/ops/purge.
//
//	@Summary		Delete a directory recursively; the root is emptied but kept
//	@Tags			ops
//	@Accept			json
//	@Param			body	body	PathRequest	true	"Directory path"
//	@Success		204		"Directory removed"
//	@Security		BearerAuth
//	@Router			/ops/purge [post]
func (h *Handler) Purge(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.Purge(r.Context(), req.Path); err != nil {
		writeError(w, "purge", req.Path, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Journal handles GET /api/journal.
//
//	@Summary		List committed mutations, newest first
//	@Tags			journal
//	@Produce		json
//	@Param			path	query		string	false	"Restrict to one file"
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Success		200		{object}	JournalResponse
//	@Security		BearerAuth
//	@Router			/journal [get]
func (h *Handler) Journal(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 50)
	if err != nil {
		badQuery(w, "limit")
		return
	}
	offset, err := intQuery(r, "offset", 0)
	if err != nil {
		badQuery(w, "offset")
		return
	}
	path := r.URL.Query().Get("path")
	entries, total, err := h.svc.History(r.Context(), path, limit, offset)
	if err != nil {
		writeError(w, "journal", path, err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, JournalResponse{Entries: entries, Total: total})
}

// Usage handles GET /api/usage.
//
//	@Summary		Storage space counters
//	@Tags			ops
//	@Produce		json
//	@Success		200	{object}	UsageResponse
//	@Security		BearerAuth
//	@Router			/usage [get]
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Usage(r.Context())
	if err != nil {
		writeError(w, "usage", "", err)
		return
	}
	writeJSON(w, http.StatusOK, UsageResponse{
		Usage:       u,
		FreeBytes:   u.FreeBytes(),
		UsedPercent: fileops.UsedPercent(u),
	})
}
