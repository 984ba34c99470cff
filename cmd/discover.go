package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/termsync/client/internal/config"
	"github.com/termsync/client/internal/discovery"
)

func runDiscover(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	timeout := fs.Duration("timeout", discovery.DefaultTimeout, "Browse timeout")
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fmt.Fprintf(stdout, "Browsing for hosts (%s)...\n", timeout.Round(time.Millisecond))
	hosts, err := discovery.Browse(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(hosts) == 0 {
		fmt.Fprintln(stdout, "No hosts found")
		return 1
	}
	for _, h := range hosts {
		fmt.Fprintf(stdout, "%s\t%s:%d\tversion=%s\n", h.Name, h.Addr, h.Port, h.Version)
	}
	return 0
}

func runInit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	configPath := fs.String("config", "", "Config file path")
	host := fs.String("host", config.DefaultHostAddr, "Host address (host:port)")
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	path := *configPath
	if path == "" {
		var err error
		path, err = config.DefaultConfigPath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}
	if err := config.WriteDefault(path, *host); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Config written to %s\n", path)
	fmt.Fprintln(stdout, "Fill in auth_key before connecting.")
	return 0
}
