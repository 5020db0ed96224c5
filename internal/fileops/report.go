package fileops

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/starford/linestore/internal/storage"
)

func percent(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// UsedPercent returns the share of capacity in use, or zero when the
// backend reports no capacity.
func UsedPercent(u storage.Usage) float64 {
	return percent(u.UsedBytes, u.TotalBytes)
}

// WriteReport prints the detailed usage report.
func WriteReport(w io.Writer, u storage.Usage) error {
	var b strings.Builder
	b.WriteString("===== storage usage =====\n")
	if u.TotalBytes > 0 {
		fmt.Fprintf(&b, "%-16s %s (%s bytes)\n", "capacity", humanize.IBytes(u.TotalBytes), humanize.Comma(int64(u.TotalBytes)))
		fmt.Fprintf(&b, "%-16s %s (%.1f%%)\n", "used", humanize.IBytes(u.UsedBytes), UsedPercent(u))
		fmt.Fprintf(&b, "%-16s %s (%.1f%%)\n", "free", humanize.IBytes(u.FreeBytes()), percent(u.FreeBytes(), u.TotalBytes))
	} else {
		fmt.Fprintf(&b, "%-16s unknown\n", "capacity")
		fmt.Fprintf(&b, "%-16s %s\n", "used", humanize.IBytes(u.UsedBytes))
	}
	if u.BlockSize > 0 {
		fmt.Fprintf(&b, "%-16s %s\n", "block size", humanize.IBytes(u.BlockSize))
	}
	if u.PageSize > 0 {
		fmt.Fprintf(&b, "%-16s %s\n", "page size", humanize.IBytes(u.PageSize))
	}
	if u.MaxOpenFiles > 0 {
		fmt.Fprintf(&b, "%-16s %d\n", "open file limit", u.MaxOpenFiles)
	}
	if u.MaxPathLength > 0 {
		fmt.Fprintf(&b, "%-16s %d\n", "max path length", u.MaxPathLength)
	}
	b.WriteString("=========================\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteTree prints a listing produced by Tree, two spaces per level.
func WriteTree(w io.Writer, entries []Entry) error {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(strings.Repeat("  ", e.Depth))
		if e.IsDir {
			fmt.Fprintf(&b, "[dir ] %s/\n", e.Name)
			continue
		}
		fmt.Fprintf(&b, "[file] %s - %s\n", e.Name, humanize.IBytes(uint64(e.Size)))
	}
	_, err := io.WriteString(w, b.String())
	return err
}
