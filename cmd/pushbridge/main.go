package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"pushbridge/internal/app"
)

func main() {
	var (
		cfgPath string
		enable  bool
		disable bool
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.BoolVar(&enable, "enable", false, "enable push notifications and exit")
	flag.BoolVar(&disable, "disable", false, "disable push notifications and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	// One-shot modes act and exit instead of staying resident.
	if enable || disable {
		opCtx, opCancel := context.WithTimeout(ctx, 30*time.Second)
		defer opCancel()
		var opErr error
		if enable {
			_, opErr = a.Enable(opCtx)
		} else {
			_, opErr = a.Disable(opCtx)
		}
		_ = a.Stop(context.Background())
		if opErr != nil {
			fmt.Fprintln(os.Stderr, "error:", opErr)
			os.Exit(1)
		}
		return
	}

	// Under systemd Type=notify this flips the unit to active; elsewhere it
	// is a no-op.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	<-a.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx); err != nil {
		fmt.Fprintln(os.Stderr, "shutdown:", err)
		os.Exit(1)
	}
}
