package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/linestore/internal"
	"github.com/starford/linestore/internal/lines"
	"github.com/starford/linestore/internal/lineservice"
	pkgconfig "github.com/starford/linestore/pkg/config"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := newCommand(stdout, stderr)
	if err := cmd.Run(ctx, append([]string{"linestore"}, args...)); err != nil {
		fmt.Fprintf(stderr, "linestore: %v\n", err)
		return 1
	}
	return 0
}

func newCommand(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "linestore",
		Usage:     "Line-addressed text file editing over flat storage",
		Version:   version,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "root",
				Usage:   "Local storage directory (overrides storage.path and selects the local backend)",
				Sources: cli.EnvVars("LINESTORE_ROOT"),
			},
			&cli.StringFlag{
				Name:    "journal",
				Usage:   "Journal database path (overrides journal.path; \"off\" disables it)",
				Sources: cli.EnvVars("LINESTORE_JOURNAL"),
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API (default)",
				Action: serve,
			},
			{
				Name:  "mcp",
				Usage: "Serve MCP tools over stdio",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					return internal.RunMCP(ctx,
						internal.WithConfig(cfg),
						internal.WithVersion(version),
						internal.WithIO(os.Stdin, cmd.Root().Writer),
						internal.WithLogOutput(cmd.Root().ErrWriter))
				},
			},
			{
				Name:  "console",
				Usage: "Interactive line-editing console",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					return internal.RunConsole(ctx,
						internal.WithConfig(cfg),
						internal.WithIO(os.Stdin, cmd.Root().Writer),
						internal.WithLogOutput(cmd.Root().ErrWriter))
				},
			},
			linesCommand(),
		},
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Present() {
		return fmt.Errorf("unknown command %q", cmd.Args().First())
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg), internal.WithVersion(version)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

// loadConfig reads the config file when it exists or was named explicitly,
// then applies flag overrides.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	configPath := cmd.String("config")

	var err error
	if cmd.IsSet("config") {
		err = pkgconfig.Load(configPath, cfg)
	} else {
		_, err = pkgconfig.LoadOptional(configPath, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if root := cmd.String("root"); root != "" {
		cfg.Storage.Backend = internal.BackendLocal
		cfg.Storage.Path = root
	}
	switch j := cmd.String("journal"); j {
	case "":
	case "off":
		cfg.Journal.Path = ""
	default:
		cfg.Journal.Path = j
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// withService opens the stack for a one-shot command.
func withService(ctx context.Context, cmd *cli.Command, fn func(svc *lineservice.Service) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	level := cfg.App.LogLevel
	if level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	logger := internal.NewLogger(cmd.Root().ErrWriter, level)

	st, err := internal.Open(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st.Service)
}

var errArgs = errors.New("wrong number of arguments")

func argInt(cmd *cli.Command, i int) (int, error) {
	s := cmd.Args().Get(i)
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("line %q: want a non-negative integer", s)
	}
	return n, nil
}

func linesCommand() *cli.Command {
	cliCtx := func(ctx context.Context) context.Context {
		return lineservice.WithSource(ctx, lineservice.SourceCLI)
	}
	printResult := func(cmd *cli.Command, res *lineservice.Result) {
		fmt.Fprintf(cmd.Root().Writer, "%s: %d lines\n", res.Path, res.Lines)
	}

	return &cli.Command{
		Name:  "lines",
		Usage: "One-shot line operations",
		Commands: []*cli.Command{
			{
				Name:      "count",
				Usage:     "Print the logical line count and the terminator count",
				ArgsUsage: "<path>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.NArg() != 1 {
						return errArgs
					}
					return withService(ctx, cmd, func(svc *lineservice.Service) error {
						c, err := svc.Count(ctx, cmd.Args().First())
						if err != nil {
							return err
						}
						fmt.Fprintf(cmd.Root().Writer, "%d %d\n", c.Lines, c.Terminators)
						return nil
					})
				},
			},
			{
				Name:      "read",
				Usage:     "Print line first, or lines first..last, or the whole file",
				ArgsUsage: "<path> [first [last]]",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.NArg() < 1 || cmd.NArg() > 3 {
						return errArgs
					}
					return withService(ctx, cmd, func(svc *lineservice.Service) error {
						p := cmd.Args().First()
						if cmd.NArg() == 1 {
							d, err := svc.Get(ctx, p)
							if err != nil {
								return err
							}
							fmt.Fprint(cmd.Root().Writer, d.Content)
							return nil
						}
						first, err := argInt(cmd, 1)
						if err != nil {
							return err
						}
						last := first
						if cmd.NArg() == 3 {
							if last, err = argInt(cmd, 2); err != nil {
								return err
							}
						}
						text, err := svc.ReadRange(ctx, p, first, last)
						if err != nil {
							return err
						}
						fmt.Fprintln(cmd.Root().Writer, text)
						return nil
					})
				},
			},
			{
				Name:      "search",
				Usage:     "Print the ordinal of the first line equal to text",
				ArgsUsage: "<path> <text>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.NArg() != 2 {
						return errArgs
					}
					return withService(ctx, cmd, func(svc *lineservice.Service) error {
						n, err := svc.Search(ctx, cmd.Args().Get(0), cmd.Args().Get(1))
						if err != nil {
							return err
						}
						fmt.Fprintln(cmd.Root().Writer, n)
						return nil
					})
				},
			},
			{
				Name:      "replace",
				Usage:     "Replace line n",
				ArgsUsage: "<path> <n> <text>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.NArg() != 3 {
						return errArgs
					}
					n, err := argInt(cmd, 1)
					if err != nil {
						return err
					}
					return withService(ctx, cmd, func(svc *lineservice.Service) error {
						res, err := svc.ReplaceLine(cliCtx(ctx), cmd.Args().Get(0), n, cmd.Args().Get(2))
						if err != nil {
							return err
						}
						printResult(cmd, res)
						return nil
					})
				},
			},
			{
				Name:      "insert",
				Usage:     "Insert text before line n; n past the end appends",
				ArgsUsage: "<path> <n> <text>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.NArg() != 3 {
						return errArgs
					}
					n, err := argInt(cmd, 1)
					if err != nil {
						return err
					}
					return withService(ctx, cmd, func(svc *lineservice.Service) error {
						res, err := svc.InsertLine(cliCtx(ctx), cmd.Args().Get(0), n, cmd.Args().Get(2))
						if err != nil {
							return err
						}
						printResult(cmd, res)
						return nil
					})
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete line first, or lines first..last",
				ArgsUsage: "<path> <first> [last]",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.NArg() < 2 || cmd.NArg() > 3 {
						return errArgs
					}
					first, err := argInt(cmd, 1)
					if err != nil {
						return err
					}
					last := lines.Unbounded
					if cmd.NArg() == 3 {
						if last, err = argInt(cmd, 2); err != nil {
							return err
						}
					}
					return withService(ctx, cmd, func(svc *lineservice.Service) error {
						var res *lineservice.Result
						if cmd.NArg() == 2 {
							res, err = svc.DeleteLine(cliCtx(ctx), cmd.Args().Get(0), first)
						} else {
							res, err = svc.DeleteRange(cliCtx(ctx), cmd.Args().Get(0), first, last)
						}
						if err != nil {
							return err
						}
						printResult(cmd, res)
						return nil
					})
				},
			},
			{
				Name:      "append",
				Usage:     "Append text and a newline, creating the file when missing",
				ArgsUsage: "<path> <text>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.NArg() != 2 {
						return errArgs
					}
					return withService(ctx, cmd, func(svc *lineservice.Service) error {
						res, err := svc.Append(cliCtx(ctx), cmd.Args().Get(0), cmd.Args().Get(1)+"\n")
						if err != nil {
							return err
						}
						printResult(cmd, res)
						return nil
					})
				},
			},
			{
				Name:      "history",
				Usage:     "List recorded edits, newest first",
				ArgsUsage: "[path]",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "Maximum entries"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.NArg() > 1 {
						return errArgs
					}
					return withService(ctx, cmd, func(svc *lineservice.Service) error {
						entries, _, err := svc.History(ctx, cmd.Args().First(), int(cmd.Int("limit")), 0)
						if err != nil {
							return err
						}
						for _, e := range entries {
							fmt.Fprintf(cmd.Root().Writer, "%s %s %s\n", e.Op, e.Path, e.Source)
						}
						return nil
					})
				},
			},
		},
	}
}
