// Package console implements an interactive line-editing shell over any
// reader and writer, for exercising the engine by hand.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/starford/linestore/internal/apperr"
	"github.com/starford/linestore/internal/fileops"
	"github.com/starford/linestore/internal/lineservice"
)

const helpText = `==== linestore console ====
help                          show this help
ls [dir]                      list files and directories
cat <path>                    print a file
count <path>                  count lines
line <path> <n>               print line n (0-based)
range <path> <first> [last]   print lines first..last
search <path> <text>          ordinal of the first line equal to text
replace <path> <n> <text>     replace line n
insert <path> <n> <text>      insert text before line n
delete <path> <n> [last]      delete line n, or lines n..last
append <path> <text>          append text and a newline
write <path> <text>           overwrite a file with text and a newline
clear <path>                  truncate a file
rm <path>                     delete a file
cp <src> <dst>                copy a file
mv <old> <new>                rename a file
backup <path>                 copy path to path.bak
restore <path>                copy path.bak back to path
mkdir <dir>                   create a directory
empty <dir>                   report whether dir is an empty directory
purge <dir>                   delete dir recursively
size <path>                   file size
df                            storage usage report
history [path]                recent edits
quit                          leave the console
==== enter a command ====
`

// Session is the state of one console conversation.
type Session struct {
	svc *lineservice.Service
	out io.Writer

	// helpShown is cleared by "help" so the menu prints again before the
	// next prompt.
	helpShown bool
}

// NewSession creates a console session writing to out.
func NewSession(svc *lineservice.Service, out io.Writer) *Session {
	return &Session{svc: svc, out: out}
}

// Run reads commands from in until EOF, "quit" or ctx is cancelled.
func (s *Session) Run(ctx context.Context, in io.Reader) error {
	ctx = lineservice.WithSource(ctx, lineservice.SourceConsole)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for {
		s.prompt()
		if !sc.Scan() {
			return sc.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if quit := s.Exec(ctx, sc.Text()); quit {
			return nil
		}
	}
}

func (s *Session) prompt() {
	if !s.helpShown {
		io.WriteString(s.out, helpText)
		s.helpShown = true
	}
	io.WriteString(s.out, "> ")
}

// Exec runs one command line. It reports whether the session should end.
func (s *Session) Exec(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimLeft(rest, " ")

	if cmd == "quit" || cmd == "exit" {
		return true
	}
	if err := s.dispatch(ctx, strings.ToLower(cmd), rest); err != nil {
		fmt.Fprintf(s.out, "error: %s\n", describe(err))
	}
	return false
}

func (s *Session) dispatch(ctx context.Context, cmd, rest string) error {
	switch cmd {
	case "help", "h":
		s.helpShown = false
		return nil

	case "ls":
		entries, err := s.svc.Tree(ctx, rest)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(s.out, "(empty)")
			return nil
		}
		return fileops.WriteTree(s.out, entries)

	case "cat":
		d, err := s.svc.Get(ctx, rest)
		if err != nil {
			return err
		}
		io.WriteString(s.out, d.Content)
		if !strings.HasSuffix(d.Content, "\n") {
			fmt.Fprintln(s.out)
		}
		return nil

	case "count":
		c, err := s.svc.Count(ctx, rest)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "lines: %d (terminators: %d)\n", c.Lines, c.Terminators)
		return nil

	case "line":
		args, err := fields(rest, 2)
		if err != nil {
			return err
		}
		n, err := ordinal(args[1])
		if err != nil {
			return err
		}
		text, err := s.svc.ReadLine(ctx, args[0], n)
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, text)
		return nil

	case "range":
		args, err := optionalFields(rest, 2, 3)
		if err != nil {
			return err
		}
		first, last, err := span(args)
		if err != nil {
			return err
		}
		text, err := s.svc.ReadRange(ctx, args[0], first, last)
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, text)
		return nil

	case "search":
		args, err := fields(rest, 2)
		if err != nil {
			return err
		}
		n, err := s.svc.Search(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "line %d\n", n)
		return nil

	case "replace", "insert":
		args, err := fields(rest, 3)
		if err != nil {
			return err
		}
		n, err := ordinal(args[1])
		if err != nil {
			return err
		}
		var res *lineservice.Result
		if cmd == "replace" {
			res, err = s.svc.ReplaceLine(ctx, args[0], n, args[2])
		} else {
			res, err = s.svc.InsertLine(ctx, args[0], n, args[2])
		}
		return s.done(res, err)

	case "delete":
		args, err := optionalFields(rest, 2, 3)
		if err != nil {
			return err
		}
		first, last, err := span(args)
		if err != nil {
			return err
		}
		var res *lineservice.Result
		if len(args) == 2 {
			res, err = s.svc.DeleteLine(ctx, args[0], first)
		} else {
			res, err = s.svc.DeleteRange(ctx, args[0], first, last)
		}
		return s.done(res, err)

	case "append", "write":
		args, err := fields(rest, 2)
		if err != nil {
			return err
		}
		var res *lineservice.Result
		if cmd == "append" {
			res, err = s.svc.Append(ctx, args[0], args[1]+"\n")
		} else {
			res, err = s.svc.Overwrite(ctx, args[0], args[1]+"\n", "")
		}
		return s.done(res, err)

	case "clear":
		return s.done(s.svc.Clear(ctx, rest))

	case "rm":
		if err := s.svc.Delete(ctx, rest); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "ok")
		return nil

	case "cp", "mv":
		args, err := fields(rest, 2)
		if err != nil {
			return err
		}
		if cmd == "cp" {
			return s.done(s.svc.Copy(ctx, args[0], args[1]))
		}
		return s.done(s.svc.Rename(ctx, args[0], args[1]))

	case "backup":
		return s.done(s.svc.Backup(ctx, rest))

	case "restore":
		return s.done(s.svc.Restore(ctx, rest))

	case "mkdir":
		if err := s.svc.Mkdir(ctx, rest); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "ok")
		return nil

	case "empty":
		empty, err := s.svc.IsEmptyDir(ctx, rest)
		if err != nil {
			return err
		}
		if empty {
			fmt.Fprintln(s.out, "empty")
		} else {
			fmt.Fprintln(s.out, "not an empty directory")
		}
		return nil

	case "purge":
		if err := s.svc.Purge(ctx, rest); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "ok")
		return nil

	case "size":
		n, err := s.svc.Size(ctx, rest)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s (%s bytes)\n", humanize.IBytes(uint64(n)), humanize.Comma(n))
		return nil

	case "df":
		u, err := s.svc.Usage(ctx)
		if err != nil {
			return err
		}
		return fileops.WriteReport(s.out, u)

	case "history":
		entries, _, err := s.svc.History(ctx, rest, 20, 0)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(s.out, "no edits recorded")
			return nil
		}
		for _, e := range entries {
			fmt.Fprintf(s.out, "%-8s %-12s %-24s %s\n", humanize.Time(e.At), e.Op, e.Path, e.Source)
		}
		return nil
	}
	return fmt.Errorf("unknown command %q (type help)", cmd)
}

func (s *Session) done(res *lineservice.Result, err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "ok: %s now %d lines\n", res.Path, res.Lines)
	return nil
}

var errUsage = errors.New("missing arguments")

// fields splits rest into exactly n arguments. The last one takes the
// remainder of the line verbatim so line content may contain spaces.
func fields(rest string, n int) ([]string, error) {
	out := make([]string, 0, n)
	for i := 0; i < n-1; i++ {
		head, tail, ok := strings.Cut(rest, " ")
		if !ok || head == "" {
			return nil, errUsage
		}
		out = append(out, head)
		rest = strings.TrimLeft(tail, " ")
	}
	return append(out, rest), nil
}

// optionalFields splits rest on whitespace into between lo and hi arguments.
func optionalFields(rest string, lo, hi int) ([]string, error) {
	args := strings.Fields(rest)
	if len(args) < lo {
		return nil, errUsage
	}
	if len(args) > hi {
		return nil, errors.New("too many arguments")
	}
	return args, nil
}

func ordinal(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("line %q: want a non-negative integer", s)
	}
	return n, nil
}

// span parses args[1] and the optional args[2]. A missing last means the
// single line first.
func span(args []string) (int, int, error) {
	first, err := ordinal(args[1])
	if err != nil {
		return 0, 0, err
	}
	if len(args) < 3 {
		return first, first, nil
	}
	last, err := ordinal(args[2])
	if err != nil {
		return 0, 0, err
	}
	return first, last, nil
}

func describe(err error) string {
	switch {
	case errors.Is(err, errUsage):
		return "missing arguments (type help)"
	case errors.Is(err, apperr.ErrNotFound):
		return "no such file"
	case errors.Is(err, apperr.ErrInvalidRange):
		return "line out of range"
	case errors.Is(err, apperr.ErrNoMatch):
		return "no matching line"
	case errors.Is(err, apperr.ErrInvalidPath):
		return "invalid path"
	}
	return err.Error()
}
