package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	webpush "github.com/SherClockHolmes/webpush-go"

	"pushbridge/internal/devserver"
	logx "pushbridge/pkg/logx"
)

func main() {
	var (
		addr      string
		storePath string
		cronToken string
		cronSpec  string
		title     string
		subject   string
		genKeys   bool
	)
	flag.StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	flag.StringVar(&storePath, "store", "./pushserver.db", "sqlite store path")
	flag.StringVar(&cronToken, "cron-token", "", "token guarding POST /cron/daily")
	flag.StringVar(&cronSpec, "cron", "0 9 * * *", "reminder schedule (cron spec)")
	flag.StringVar(&title, "title", "Driver Portal", "notification title")
	flag.StringVar(&subject, "subscriber", "mailto:ops@example.com", "VAPID subscriber contact")
	flag.BoolVar(&genKeys, "gen-keys", false, "print a fresh VAPID key pair and exit")
	flag.Parse()

	if genKeys {
		priv, pub, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			os.Exit(1)
		}
		fmt.Println("VAPID_PUBLIC_KEY=" + pub)
		fmt.Println("VAPID_PRIVATE_KEY=" + priv)
		return
	}

	pub := os.Getenv("VAPID_PUBLIC_KEY")
	priv := os.Getenv("VAPID_PRIVATE_KEY")
	if pub == "" || priv == "" {
		fmt.Fprintln(os.Stderr, "fatal: VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set (see -gen-keys)")
		os.Exit(1)
	}

	log := logx.NewConsole("INFO").With(logx.String("comp", "pushserver"))

	srv, err := devserver.NewServer(devserver.Config{
		Addr:            addr,
		VAPIDPublicKey:  pub,
		VAPIDPrivateKey: priv,
		Subscriber:      subject,
		CronToken:       cronToken,
		CronSpec:        cronSpec,
		Title:           title,
		StorePath:       storePath,
	}, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := srv.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
