package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Fault defines specific failure behavior for handles whose path matches a rule.
type Fault struct {
	FailOnOpen     bool
	FailAfterBytes int64 // fail writes after this many bytes written to one handle; -1 disables
	FailOnClose    bool
	FailOnRename   bool
	FailOnRemove   bool
	Err            error
}

// Faulty is a Provider wrapper that injects errors, used to exercise the
// crash-consistency behavior of the commit strategies.
type Faulty struct {
	Provider
	mu    sync.Mutex
	rules map[string]Fault // path substring -> fault
}

// NewFaulty wraps p.
func NewFaulty(p Provider) *Faulty {
	return &Faulty{Provider: p, rules: make(map[string]Fault)}
}

// AddRule installs a fault for every path containing pattern.
func (f *Faulty) AddRule(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[pattern] = fault
}

// ClearRules removes all faults.
func (f *Faulty) ClearRules() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = make(map[string]Fault)
}

func (f *Faulty) match(path string) (Fault, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fault := Fault{FailAfterBytes: -1}
	found := false
	for pattern, rule := range f.rules {
		if strings.Contains(path, pattern) {
			fault = rule
			found = true
		}
	}
	if found && fault.Err == nil {
		fault.Err = fmt.Errorf("injected fault error")
	}
	return fault, found
}

// Open applies FailOnOpen, then wraps the handle for write and close faults.
func (f *Faulty) Open(ctx context.Context, path string, mode Mode) (File, error) {
	fault, ok := f.match(path)
	if ok && fault.FailOnOpen {
		return nil, fault.Err
	}
	file, err := f.Provider.Open(ctx, path, mode)
	if err != nil || !ok {
		return file, err
	}
	return &faultyFile{File: file, fault: fault}, nil
}

// Rename applies FailOnRename for either path.
func (f *Faulty) Rename(ctx context.Context, oldPath, newPath string) error {
	for _, p := range []string{oldPath, newPath} {
		if fault, ok := f.match(p); ok && fault.FailOnRename {
			return fault.Err
		}
	}
	return f.Provider.Rename(ctx, oldPath, newPath)
}

// Remove applies FailOnRemove.
func (f *Faulty) Remove(ctx context.Context, path string) error {
	if fault, ok := f.match(path); ok && fault.FailOnRemove {
		return fault.Err
	}
	return f.Provider.Remove(ctx, path)
}

type faultyFile struct {
	File
	fault   Fault
	written int64
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	if ff.fault.FailAfterBytes >= 0 && ff.written+int64(len(p)) > ff.fault.FailAfterBytes {
		// Simulate a torn write: the bytes that fit land, the rest do not.
		room := ff.fault.FailAfterBytes - ff.written
		if room > 0 {
			n, _ := ff.File.Write(p[:room])
			ff.written += int64(n)
		}
		return int(max(room, 0)), ff.fault.Err
	}
	n, err := ff.File.Write(p)
	ff.written += int64(n)
	return n, err
}

func (ff *faultyFile) Close() error {
	if ff.fault.FailOnClose {
		_ = ff.File.Close()
		return ff.fault.Err
	}
	return ff.File.Close()
}

var _ Provider = (*Faulty)(nil)
