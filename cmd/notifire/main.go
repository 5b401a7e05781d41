// Command notifire runs the batch notification workers, enqueues a single
// greeter run, or executes one stored job by id.
//
// Usage:
//
//	notifire                                     # run the workers
//	notifire send                                # enqueue a run for the current as-of time
//	notifire send --server-send-time="2025-06-21 09:15:00"
//	notifire run-job 42                          # execute stored job 42 now
//
// Configuration is read from the environment (or a .env file).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/RezaEskandarii/notifire/app"
	"github.com/RezaEskandarii/notifire/jobmanager"
	"github.com/RezaEskandarii/notifire/types/config"
)

func main() {
	cfg, env, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(env.LogLevel, env.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := app.NewContainer(ctx, cfg, app.WithLogger(logger))
	if err != nil {
		logger.Error("failed to build container", "error", err)
		os.Exit(1)
	}

	code := 0
	switch {
	case len(os.Args) > 1 && os.Args[1] == "send":
		code = send(ctx, c, os.Args[2:])
	case len(os.Args) > 1 && os.Args[1] == "run-job":
		code = runJob(ctx, c, os.Args[2:])
	default:
		if err := jobmanager.Run(ctx, c); err != nil {
			logger.Error("worker stopped", "error", err)
			code = 1
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Close(closeCtx); err != nil {
		logger.Warn("close container", "error", err)
	}
	os.Exit(code)
}

func send(ctx context.Context, c *app.Container, args []string) int {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	serverSendTime := fs.String("server-send-time", "", `As-of time of the run in UTC, "YYYY-MM-DD HH:MM:00" (default: now)`)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	runID, err := jobmanager.TriggerSend(ctx, c, *serverSendTime, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Println(runID)
	return 0
}

func runJob(ctx context.Context, c *app.Container, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: notifire run-job <id>")
		return 2
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid job id %q\n", args[0])
		return 2
	}
	if err := jobmanager.RunJob(ctx, c, id); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
