package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nounsbot/internal/app"
)

func main() {
	var (
		cfgPath string
		runJob  string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (yaml or json)")
	flag.StringVar(&runJob, "run", "", "run one job (voters, reminder, events, starter_pack) and exit")
	flag.Parse()

	os.Exit(run(cfgPath, runJob))
}

func run(cfgPath, runJob string) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	var opts []app.Option
	if runJob != "" {
		opts = append(opts, app.OneShot())
	}
	a, err := app.New(cfgPath, opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return 1
	}
	stop := func(reason app.StopReason) {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, reason)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		stop(app.StopFatalError)
		return 1
	}

	if runJob != "" {
		go func() {
			select {
			case <-sigs:
				cancel()
			case <-ctx.Done():
			}
		}()
		err := a.RunJob(ctx, runJob)
		stop(app.StopAppStop)
		if err != nil {
			fmt.Fprintln(os.Stderr, "job failed:", err)
			return 1
		}
		return 0
	}

	select {
	case sig := <-sigs:
		reason := app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
		stop(reason)
		return 0
	case <-a.Done():
		stop(app.StopFatalError)
		if err := a.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			return 1
		}
		return 0
	}
}
