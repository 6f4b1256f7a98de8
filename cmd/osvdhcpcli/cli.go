package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
)

type CLI struct {
	client      *APIClient
	serverAddr  string
	format      OutputFormat
	timeout     time.Duration
	out         io.Writer
	rl          *readline.Instance
	running     bool
	tree        *CommandTree
	currentLine string
}

func NewCLI(client *APIClient, serverAddr string, format OutputFormat, timeout time.Duration, out io.Writer) *CLI {
	c := &CLI{
		client:     client,
		serverAddr: serverAddr,
		format:     format,
		timeout:    timeout,
		out:        out,
		running:    true,
		tree:       NewCommandTree(),
	}
	RegisterCommands(c.tree)
	return c
}

// Render prints data in the selected format, using table for cli output.
func (c *CLI) Render(data any, table func(w io.Writer)) error {
	if c.format == FormatCLI {
		table(c.out)
		return nil
	}
	return writeStructured(c.out, data, c.format)
}

func (c *CLI) Run() error {
	var err error
	c.rl, err = readline.NewEx(&readline.Config{
		Prompt:              "osvdhcp> ",
		HistoryFile:         os.ExpandEnv("$HOME/.osvdhcpcli_history"),
		AutoComplete:        &treeCompleter{tree: c.tree},
		InterruptPrompt:     "^C",
		EOFPrompt:           "exit",
		FuncFilterInputRune: c.filterInputWithHelp,
		Listener:            c,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer c.rl.Close()
	c.out = c.rl.Stdout()

	c.printBanner()

	for c.running {
		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if len(line) == 0 {
					break
				}
				continue
			} else if errors.Is(err, io.EOF) {
				break
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if err := c.processCommand(line); err != nil {
			fmt.Fprintf(c.rl.Stderr(), "Error: %v\n", err)
		}
	}
	return nil
}

func (c *CLI) Stop() {
	c.running = false
}

func (c *CLI) printBanner() {
	fmt.Fprintln(c.out, "=====================================")
	fmt.Fprintln(c.out, "    osvdhcp Interactive CLI")
	fmt.Fprintln(c.out, "=====================================")
	fmt.Fprintf(c.out, "Connected to: %s\n", c.serverAddr)
	fmt.Fprintln(c.out, "Type 'help' or '?' for available commands")
	fmt.Fprintln(c.out, "Type 'exit' or 'quit' to exit")
	fmt.Fprintln(c.out)
}

func (c *CLI) OnChange(line []rune, pos int, key rune) (newLine []rune, newPos int, ok bool) {
	c.currentLine = string(line)
	return nil, 0, false
}

func (c *CLI) filterInputWithHelp(r rune) (rune, bool) {
	switch r {
	case '?':
		fmt.Fprint(c.out, "?\n")
		c.showInlineHelp(c.currentLine)
		c.rl.Write([]byte(c.currentLine))
		return 0, false
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func (c *CLI) showInlineHelp(input string) {
	if strings.HasSuffix(input, " ") || input == "" {
		c.tree.ShowHelp(c.out, strings.TrimSpace(input))
		return
	}
	completions := c.tree.GetCompletions(input)
	if len(completions) == 0 {
		c.tree.ShowHelp(c.out, input)
		return
	}
	fmt.Fprintln(c.out)
	for _, comp := range completions {
		fmt.Fprintf(c.out, "  %s\n", comp)
	}
	fmt.Fprintln(c.out)
}

func (c *CLI) processCommand(line string) error {
	switch {
	case line == "exit" || line == "quit":
		c.running = false
		return nil
	case strings.HasSuffix(line, "?"):
		c.showInlineHelp(strings.TrimSuffix(line, "?"))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.tree.Execute(ctx, c, line)
}

type treeCompleter struct {
	tree *CommandTree
}

func (tc *treeCompleter) Do(line []rune, pos int) (newLine [][]rune, length int) {
	input := string(line[:pos])
	completions := tc.tree.GetCompletions(input)
	if len(completions) == 0 {
		return nil, 0
	}

	partial := ""
	if i := strings.LastIndexByte(input, ' '); i >= 0 {
		partial = input[i+1:]
	} else {
		partial = input
	}

	result := make([][]rune, len(completions))
	for i, comp := range completions {
		result[i] = []rune(strings.TrimPrefix(comp, partial) + " ")
	}
	return result, len([]rune(partial))
}
