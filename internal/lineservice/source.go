package lineservice

import "context"

// Sources stamped on journal entries and change events.
const (
	SourceAPI     = "api"
	SourceMCP     = "mcp"
	SourceConsole = "console"
	SourceCLI     = "cli"
	SourceWatcher = "watcher"
)

type sourceKey struct{}

// WithSource tags ctx with the transport performing the call.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// SourceFrom returns the transport tag of ctx, SourceCLI when unset.
func SourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return SourceCLI
}
