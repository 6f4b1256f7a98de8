package main

import (
	"context"
	"fmt"
	"io"
	"time"
)

var leaseStates = []string{"free", "offered", "bound", "expired", "released", "declined"}

func RegisterCommands(tree *CommandTree) {
	tree.AddRoot([]string{"show"}, "Display server or client state")
	tree.AddRoot([]string{"clear"}, "Reset server state")

	tree.AddCommand([]string{"show", "leases"},
		"Display the lease table",
		cmdShowLeases,
		&Argument{Name: "state", Description: "Only leases in this state", Type: ArgKeyword, Values: leaseStates},
	)

	tree.AddCommand([]string{"show", "lease"},
		"Display one lease",
		cmdShowLease,
		&Argument{Name: "address", Description: "Leased IPv4 address", Type: ArgUserInput},
	)

	tree.AddCommand([]string{"show", "pool"},
		"Display pool utilisation and server counters",
		cmdShowPool,
	)

	tree.AddCommand([]string{"show", "sessions"},
		"Display DHCP client sessions",
		cmdShowSessions,
	)

	tree.AddCommand([]string{"clear", "lease"},
		"Return an address to the pool",
		cmdClearLease,
		&Argument{Name: "address", Description: "Leased IPv4 address", Type: ArgUserInput},
	)

	tree.AddCommand([]string{"release"},
		"Release the lease held on a client interface",
		cmdRelease,
		&Argument{Name: "interface", Description: "Client interface name", Type: ArgUserInput},
	)

	tree.AddCommand([]string{"renew"},
		"Renew the lease held on a client interface now",
		cmdRenew,
		&Argument{Name: "interface", Description: "Client interface name", Type: ArgUserInput},
	)

	tree.AddCommand([]string{"help"},
		"Display available commands",
		cmdHelp,
	)
}

func cmdShowLeases(ctx context.Context, cli *CLI, args []string) error {
	leases, err := cli.client.Leases(ctx, Keywords(args, 0)["state"])
	if err != nil {
		return err
	}
	return cli.Render(leases, func(w io.Writer) { formatLeases(w, leases) })
}

func cmdShowLease(ctx context.Context, cli *CLI, args []string) error {
	l, err := cli.client.Lease(ctx, args[0])
	if err != nil {
		return err
	}
	return cli.Render(l, func(w io.Writer) { formatLease(w, l) })
}

func cmdShowPool(ctx context.Context, cli *CLI, _ []string) error {
	p, err := cli.client.Pool(ctx)
	if err != nil {
		return err
	}
	return cli.Render(p, func(w io.Writer) { formatPool(w, p) })
}

func cmdShowSessions(ctx context.Context, cli *CLI, _ []string) error {
	sessions, err := cli.client.Sessions(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	return cli.Render(sessions, func(w io.Writer) { formatSessions(w, sessions, now) })
}

func cmdClearLease(ctx context.Context, cli *CLI, args []string) error {
	l, err := cli.client.ClearLease(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "Lease %s cleared (was %s)\n", l.Address, l.State)
	return nil
}

func cmdRelease(ctx context.Context, cli *CLI, args []string) error {
	resp, err := cli.client.Release(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%s: %s\n", resp.Interface, resp.Status)
	return nil
}

func cmdRenew(ctx context.Context, cli *CLI, args []string) error {
	resp, err := cli.client.Renew(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%s: %s\n", resp.Interface, resp.Status)
	return nil
}

func cmdHelp(_ context.Context, cli *CLI, _ []string) error {
	cli.tree.ShowHelp(cli.out, "")
	return nil
}
