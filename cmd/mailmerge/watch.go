package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mailmerge/backend/internal/config"
)

func watchCommand(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath(), "path to the XML configuration file")
	dir := fs.String("dir", "", "directory to watch (defaults to the configured inbox)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	a, err := setup(*configPath, func(cfg *config.AppConfig) {
		cfg.Watcher.Enabled = true
		if *dir != "" {
			cfg.Storage.WatchDirectory = *dir
		}
	})
	if err != nil {
		fmt.Println(errStyle.Render("error: ") + err.Error())
		return exitFatal
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx, cancel := context.WithCancel(ctx)
	w := a.NewWatcher()
	announced := announceWhenReady(w.Ready(), runCtx.Done(), func() {
		fmt.Println(titleStyle.Render("Watching "+a.Config.Storage.WatchDirectory) + mutedStyle.Render("  (Ctrl+C to stop)"))
	})

	err = w.Run(runCtx)
	cancel()
	<-announced
	if err != nil {
		fmt.Println(errStyle.Render("watcher: ") + err.Error())
		return exitFatal
	}
	fmt.Println(mutedStyle.Render("watcher stopped"))
	return exitComplete
}

// announceWhenReady calls announce once ready is closed, unless done is closed
// first. The returned channel is closed when the helper goroutine has exited.
func announceWhenReady(ready, done <-chan struct{}, announce func()) <-chan struct{} {
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ready:
			announce()
		case <-done:
		}
	}()
	return exited
}
