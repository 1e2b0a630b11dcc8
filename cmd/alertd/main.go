// Command alertd runs the monitor scheduler and alert engine as a
// standalone daemon. Monitors are loaded from JSON definitions in the
// configured monitor dir; alert state lives in a local bbolt database.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "alertd:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("alertd", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the toml configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	config, err := LoadConfig(*configPath)
	if err != nil {
		return err
	}

	srv := NewServer(config)
	if err := srv.Open(); err != nil {
		srv.Close()
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	<-signals

	return srv.Close()
}
