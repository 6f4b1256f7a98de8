package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/veesix-networks/osvdhcp/pkg/config"
)

var (
	serverAddr = flag.String("server", config.DefaultAPIAddress, "Control API address of osvdhcpd or osvdhcpc")
	format     = flag.String("format", string(FormatCLI), "Output format: cli, json or yaml")
	timeout    = flag.Duration("timeout", 10*time.Second, "Per-command timeout")
)

func main() {
	flag.Parse()

	outFormat, err := ParseOutputFormat(*format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	client := NewAPIClient(*serverAddr, *timeout)
	cli := NewCLI(client, *serverAddr, outFormat, *timeout, os.Stdout)

	// Arguments run one command and exit.
	if flag.NArg() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		if err := cli.tree.Execute(ctx, cli, strings.Join(flag.Args(), " ")); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		cli.Stop()
		os.Exit(0)
	}()

	if err := cli.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runOnce(cli *CLI, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cli.timeout)
	defer cancel()
	return cli.tree.Execute(ctx, cli, strings.Join(args, " "))
}
