package api

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/linestore/internal/fileops"
	"github.com/starford/linestore/internal/journal"
	"github.com/starford/linestore/internal/lineservice"
	"github.com/starford/linestore/internal/storage"
)

type validatable interface {
	Validate() error
}

// noNewline rejects a line payload that would split into several lines.
var noNewline = validation.By(func(v any) error {
	s, _ := v.(string)
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return errors.New("must not contain a line terminator")
		}
	}
	return nil
})

// CreateFileRequest is the request body for creating a file.
type CreateFileRequest struct {
	Path    string `json:"path" example:"logs/today.txt" validate:"required"`
	Content string `json:"content" example:"first line\n"`
}

// Validate validates the request.
func (r *CreateFileRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Path, validation.Required, validation.Length(1, 1024)),
	)
}

// ContentRequest carries a whole-body payload for overwrite and append.
type ContentRequest struct {
	Content string `json:"content" example:"line one\nline two\n"`
}

// Validate validates the request. Empty content is allowed.
func (r *ContentRequest) Validate() error {
	return nil
}

// LineRequest addresses one line for replace and insert.
type LineRequest struct {
	Line    *int   `json:"line" example:"3" validate:"required"`
	Content string `json:"content" example:"new text"`
	// Raw allows terminators inside Content; the bytes are then written
	// verbatim and shift every later ordinal.
	Raw bool `json:"raw,omitempty"`
}

// Validate validates the request.
func (r *LineRequest) Validate() error {
	rules := []*validation.FieldRules{
		validation.Field(&r.Line, validation.NotNil, validation.Min(0)),
	}
	if !r.Raw {
		rules = append(rules, validation.Field(&r.Content, noNewline))
	}
	return validation.ValidateStruct(r, rules...)
}

// PathPairRequest names a source and destination for copy and rename.
type PathPairRequest struct {
	From string `json:"from" example:"a.txt" validate:"required"`
	To   string `json:"to" example:"b.txt" validate:"required"`
}

// Validate validates the request.
func (r *PathPairRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.From, validation.Required),
		validation.Field(&r.To, validation.Required, validation.By(func(v any) error {
			if v.(string) == r.From {
				return errors.New("must differ from source")
			}
			return nil
		})),
	)
}

// PathRequest names a single path for backup, restore, mkdir and purge.
type PathRequest struct {
	Path string `json:"path" example:"logs/today.txt"`
}

// Validate validates the request.
func (r *PathRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Path, validation.Length(0, 1024)),
	)
}

// FileDetail is the full file response type (aliased from the domain layer).
type FileDetail = lineservice.FileDetail

// MutationResult is returned by every successful edit.
type MutationResult = lineservice.Result

// CountResponse carries both line counts.
type CountResponse = lineservice.Count

// LineResponse is one line of a file.
type LineResponse struct {
	Path    string `json:"path" example:"logs/today.txt"`
	Line    int    `json:"line" example:"2"`
	Content string `json:"content" example:"text"`
}

// RangeResponse is an inclusive range of lines joined with '\n'.
type RangeResponse struct {
	Path    string `json:"path"`
	First   int    `json:"first"`
	Last    int    `json:"last"`
	Content string `json:"content"`
}

// SearchResponse is the ordinal of the first matching line.
type SearchResponse struct {
	Path string `json:"path"`
	Line int    `json:"line" example:"4"`
}

// TreeResponse lists a directory recursively.
type TreeResponse struct {
	Entries []fileops.Entry `json:"entries"`
}

// JournalResponse wraps paginated journal entries.
type JournalResponse struct {
	Entries []journal.Entry `json:"entries"`
	Total   int             `json:"total" example:"42"`
}

// UsageResponse extends the storage counters with derived figures.
type UsageResponse struct {
	storage.Usage
	FreeBytes   uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
}
