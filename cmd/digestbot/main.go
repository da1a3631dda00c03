package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"digestbot/internal/app"
)

func main() {
	var (
		cfgPath   string
		once      bool
		subscribe int64
		username  string
		at        string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (yaml or json)")
	flag.BoolVar(&once, "once", false, "run one digest cycle for every enabled recipient and exit")
	flag.Int64Var(&subscribe, "subscribe", 0, "enable daily delivery to this chat id and exit")
	flag.StringVar(&username, "username", "", "label for -subscribe")
	flag.StringVar(&at, "at", "09:00", "delivery time (HH:MM) for -subscribe")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	switch {
	case subscribe != 0:
		err = a.Subscribe(ctx, subscribe, username, at)
	case once:
		err = a.RunOnce(ctx)
	default:
		err = a.Run(ctx)
	}
	a.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
