package api

import (
	"net/http"
)

// CountLines handles GET /api/lines/count/*.
//
//	@Summary		Count terminators and logical lines
//	@Tags			lines
//	@Produce		json
//	@Param			path	path		string	true	"File path"
//	@Success		200		{object}	CountResponse
//	@Security		BearerAuth
//	@Router			/lines/count/{path} [get]
func (h *Handler) CountLines(w http.ResponseWriter, r *http.Request) {
	path, ok := requirePath(w, r)
	if !ok {
		return
	}
	c, err := h.svc.Count(r.Context(), path)
	if err != nil {
		writeError(w, "count", path, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ReadLine handles GET /api/lines/line/*?n=.
//
//	@Summary		Read one line by ordinal
//	@Tags			lines
//	@Produce		json
//	@Param			path	path		string	true	"File path"
//	@Param			n		query		int		true	"0-based line ordinal"
//	@Success		200		{object}	LineResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/lines/line/{path} [get]
func (h *Handler) ReadLine(w http.ResponseWriter, r *http.Request) {
	path, ok := requirePath(w, r)
	if !ok {
		return
	}
	n, err := intQuery(r, "n", -1)
	if err != nil || n < 0 {
		badQuery(w, "n")
		return
	}
	line, err := h.svc.ReadLine(r.Context(), path, n)
	if err != nil {
		writeError(w, "read line", path, err)
		return
	}
	writeJSON(w, http.StatusOK, LineResponse{Path: path, Line: n, Content: line})
}

// ReadRange handles GET /api/lines/range/*?first=&last=.
//
//	@Summary		Read an inclusive range of lines
//	@Tags			lines
//	@Produce		json
//	@Param			path	path		string	true	"File path"
//	@Param			first	query		int		false	"First ordinal"
//	@Param			last	query		int		false	"Last ordinal, clamped to the file; omitted reads one line"
//	@Success		200		{object}	RangeResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/lines/range/{path} [get]
func (h *Handler) ReadRange(w http.ResponseWriter, r *http.Request) {
	path, ok := requirePath(w, r)
	if !ok {
		return
	}
	first, last, ok := rangeQuery(w, r)
	if !ok {
		return
	}
	text, err := h.svc.ReadRange(r.Context(), path, first, last)
	if err != nil {
		writeError(w, "read range", path, err)
		return
	}
	writeJSON(w, http.StatusOK, RangeResponse{Path: path, First: first, Last: last, Content: text})
}

// SearchLine handles GET /api/lines/search/*?q=.
//
//	@Summary		Find the first line equal to q
//	@Tags			lines
//	@Produce		json
//	@Param			path	path		string	true	"File path"
//	@Param			q		query		string	true	"Exact line content"
//	@Success		200		{object}	SearchResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/lines/search/{path} [get]
func (h *Handler) SearchLine(w http.ResponseWriter, r *http.Request) {
	path, ok := requirePath(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	if !q.Has("q") {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	idx, err := h.svc.Search(r.Context(), path, q.Get("q"))
	if err != nil {
		writeError(w, "search", path, err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Path: path, Line: idx})
}

// ReplaceLine handles PUT /api/lines/line/*.
//
//	@Summary		Replace one line
//	@Tags			lines
//	@Accept			json
//	@Produce		json
//	@Param			path	path		string		true	"File path"
//	@Param			body	body		LineRequest	true	"Ordinal and content"
//	@Success		200		{object}	MutationResult
//	@Security		BearerAuth
//	@Router			/lines/line/{path} [put]
func (h *Handler) ReplaceLine(w http.ResponseWriter, r *http.Request) {
	path, ok := requirePath(w, r)
	if !ok {
		return
	}
	var req LineRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.ReplaceLine(r.Context(), path, *req.Line, req.Content)
	if err != nil {
		writeError(w, "replace line", path, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// InsertLine handles POST /api/lines/line/*.
//
//	@Summary		Insert a line before the given ordinal
//	@Tags			lines
//	@Accept			json
//	@Produce		json
//	@Param			path	path		string		true	"File path"
//	@Param			body	body		LineRequest	true	"Position and content"
//	@Success		200		{object}	MutationResult
//	@Security		BearerAuth
//	@Router			/lines/line/{path} [post]
func (h *Handler) InsertLine(w http.ResponseWriter, r *http.Request) {
	path, ok := requirePath(w, r)
	if !ok {
		return
	}
	var req LineRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.InsertLine(r.Context(), path, *req.Line, req.Content)
	if err != nil {
		writeError(w, "insert line", path, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteLine handles DELETE /api/lines/line/*?n=.
//
//	@Summary		Delete one line
//	@Tags			lines
//	@Param			path	path		string	true	"File path"
//	@Param			n		query		int		true	"0-based line ordinal"
//	@Success		200		{object}	MutationResult
//	@Security		BearerAuth
//	@Router			/lines/line/{path} [delete]
func (h *Handler) DeleteLine(w http.ResponseWriter, r *http.Request) {
	path, ok := requirePath(w, r)
	if !ok {
		return
	}
	n, err := intQuery(r, "n", -1)
	if err != nil || n < 0 {
		badQuery(w, "n")
		return
	}
	res, err := h.svc.DeleteLine(r.Context(), path, n)
	if err != nil {
		writeError(w, "delete line", path, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteRange handles DELETE /api/lines/range/*?first=&last=.
//
//	@Summary		Delete an inclusive range of lines
//	@Tags			lines
//	@Param			path	path		string	true	"File path"
//	@Param			first	query		int		false	"First ordinal"
//	@Param			last	query		int		false	"Last ordinal"
//	@Success		200		{object}	MutationResult
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/lines/range/{path} [delete]
func (h *Handler) DeleteRange(w http.ResponseWriter, r *http.Request) {
	path, ok := requirePath(w, r)
	if !ok {
		return
	}
	first, last, ok := rangeQuery(w, r)
	if !ok {
		return
	}
	res, err := h.svc.DeleteRange(r.Context(), path, first, last)
	if err != nil {
		writeError(w, "delete range", path, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
