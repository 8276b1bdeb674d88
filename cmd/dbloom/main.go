// Command dbloom manipulates distributed Bloom filters stored on a dbloom
// server. Every command runs the filter logic locally and talks to the server
// only through bit and record commands, exactly as an embedded client would.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli"

	"dbloom.lopezb.com/internal/dbloom/bloom"
	"dbloom.lopezb.com/internal/dbloom/client"
)

const (
	defaultAddr    = "localhost:6479"
	defaultTimeout = 5 * time.Second
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[dbloom] %v\n", err)
	os.Exit(1)
}

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fatal(err)
	}
}

func newApp(out io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "dbloom"
	app.Usage = "manage Bloom filters shared through a dbloom server"
	app.Writer = out
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "addr, a",
			Value: defaultAddr,
			Usage: "The host:port of the dbloom server.",
		},
		cli.DurationFlag{
			Name:  "timeout",
			Value: defaultTimeout,
			Usage: "Deadline for each command, including connecting.",
		},
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: "Log filter and connection activity to stderr.",
		},
	}
	app.Commands = []cli.Command{
		initCommand,
		addCommand,
		containsCommand,
		countCommand,
		infoCommand,
		deleteCommand,
		positionsCommand,
	}
	return app
}

// session bundles what a command needs to talk to one filter.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	client *client.Client
	filter *bloom.Filter
}

func (s *session) close() {
	s.cancel()
	_ = s.client.Close()
}

// openFilter connects to the server named by the global flags and returns a
// handle to the filter called name.
func openFilter(ctx *cli.Context, name string) *session {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if ctx.GlobalBool("verbose") {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	c := client.New(ctx.GlobalString("addr"),
		client.WithMaxConns(1),
		client.WithLogger(logger),
	)

	reqCtx, cancel := context.WithTimeout(context.Background(), ctx.GlobalDuration("timeout"))

	return &session{
		ctx:    reqCtx,
		cancel: cancel,
		client: c,
		filter: bloom.New(c, name, bloom.WithLogger(logger)),
	}
}

func printJSON(ctx *cli.Context, v any) error {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(ctx.App.Writer, "%s\n", b)
	return err
}

func itemArgs(ctx *cli.Context, from int) [][]byte {
	args := ctx.Args()[from:]
	items := make([][]byte, len(args))
	for i, arg := range args {
		items[i] = []byte(arg)
	}
	return items
}
