package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrUnrecognized = errors.New("unrecognized command")
	ErrIncomplete   = errors.New("incomplete command")
)

type CommandHandler func(ctx context.Context, cli *CLI, args []string) error

type ArgumentType int

const (
	// ArgUserInput is a positional value the user types.
	ArgUserInput ArgumentType = iota
	// ArgKeyword is an optional "name value" pair, completed from Values.
	ArgKeyword
)

type Argument struct {
	Name        string
	Description string
	Type        ArgumentType
	Values      []string
}

type CommandNode struct {
	Name        string
	Description string
	Handler     CommandHandler
	Children    []*CommandNode
	Arguments   []*Argument
}

func (n *CommandNode) child(name string) *CommandNode {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

type CommandTree struct {
	root *CommandNode
}

func NewCommandTree() *CommandTree {
	return &CommandTree{root: &CommandNode{Name: "root"}}
}

// AddRoot describes an intermediate word such as "show".
func (t *CommandTree) AddRoot(path []string, description string) {
	current := t.root
	for _, part := range path {
		next := current.child(part)
		if next == nil {
			next = &CommandNode{Name: part}
			current.Children = append(current.Children, next)
		}
		current = next
	}
	current.Description = description
}

func (t *CommandTree) AddCommand(path []string, description string, handler CommandHandler, args ...*Argument) {
	current := t.root
	for _, part := range path {
		next := current.child(part)
		if next == nil {
			next = &CommandNode{Name: part}
			current.Children = append(current.Children, next)
		}
		current = next
	}
	current.Description = description
	current.Handler = handler
	current.Arguments = args
}

// walk follows tokens down the tree and returns the deepest node reached
// and how many tokens it consumed.
func (t *CommandTree) walk(tokens []string) (*CommandNode, int) {
	current := t.root
	for i, token := range tokens {
		next := current.child(token)
		if next == nil {
			return current, i
		}
		current = next
	}
	return current, len(tokens)
}

func (t *CommandTree) Execute(ctx context.Context, cli *CLI, input string) error {
	tokens := strings.Fields(input)
	if len(tokens) == 0 {
		return nil
	}

	node, depth := t.walk(tokens)
	if node.Handler == nil {
		if depth < len(tokens) || node == t.root {
			return fmt.Errorf("%w: %s", ErrUnrecognized, input)
		}
		return fmt.Errorf("%w: %s", ErrIncomplete, input)
	}

	args := tokens[depth:]
	if err := validateArguments(node, args); err != nil {
		return err
	}
	return node.Handler(ctx, cli, args)
}

func validateArguments(cmd *CommandNode, args []string) error {
	var required []string
	for _, arg := range cmd.Arguments {
		if arg.Type == ArgUserInput {
			required = append(required, arg.Name)
		}
	}

	if len(args) < len(required) {
		if len(required) == 1 {
			return fmt.Errorf("%s required", required[0])
		}
		return fmt.Errorf("missing required arguments: %s", strings.Join(required, ", "))
	}

	rest := args[len(required):]
	for i := 0; i < len(rest); i += 2 {
		arg := keyword(cmd, rest[i])
		if arg == nil {
			return fmt.Errorf("unexpected argument %q", rest[i])
		}
		if i+1 >= len(rest) {
			return fmt.Errorf("%s needs a value", arg.Name)
		}
	}
	return nil
}

func keyword(cmd *CommandNode, name string) *Argument {
	for _, arg := range cmd.Arguments {
		if arg.Type == ArgKeyword && arg.Name == name {
			return arg
		}
	}
	return nil
}

// Keywords collects the "name value" pairs following the positional
// arguments of cmd.
func Keywords(args []string, positional int) map[string]string {
	out := make(map[string]string)
	if positional > len(args) {
		return out
	}
	rest := args[positional:]
	for i := 0; i+1 < len(rest); i += 2 {
		out[rest[i]] = rest[i+1]
	}
	return out
}

func (t *CommandTree) GetCompletions(input string) []string {
	tokens := strings.Fields(input)
	endsWithSpace := strings.HasSuffix(input, " ")

	prefix := ""
	if !endsWithSpace && len(tokens) > 0 {
		prefix = tokens[len(tokens)-1]
		tokens = tokens[:len(tokens)-1]
	}

	node, depth := t.walk(tokens)
	argTokens := tokens[depth:]
	if depth < len(tokens) && node.Handler == nil {
		return nil
	}

	var completions []string
	if len(argTokens) == 0 {
		for _, child := range node.Children {
			if strings.HasPrefix(child.Name, prefix) {
				completions = append(completions, child.Name)
			}
		}
	}
	if node.Handler == nil {
		return completions
	}

	positional := 0
	for _, arg := range node.Arguments {
		if arg.Type == ArgUserInput {
			positional++
		}
	}
	if len(argTokens) < positional {
		return completions
	}

	rest := argTokens[positional:]
	if len(rest)%2 == 1 {
		if arg := keyword(node, rest[len(rest)-1]); arg != nil {
			for _, v := range arg.Values {
				if strings.HasPrefix(v, prefix) {
					completions = append(completions, v)
				}
			}
		}
		return completions
	}

	used := Keywords(argTokens, positional)
	for _, arg := range node.Arguments {
		if arg.Type != ArgKeyword {
			continue
		}
		if _, ok := used[arg.Name]; !ok && strings.HasPrefix(arg.Name, prefix) {
			completions = append(completions, arg.Name)
		}
	}
	return completions
}

func (t *CommandTree) ShowHelp(w io.Writer, input string) {
	tokens := strings.Fields(input)
	node, depth := t.walk(tokens)
	argTokens := tokens[depth:]

	if node.Handler != nil && len(argTokens) > 0 {
		if arg := keyword(node, argTokens[len(argTokens)-1]); arg != nil && len(arg.Values) > 0 {
			fmt.Fprintln(w)
			for _, v := range arg.Values {
				fmt.Fprintf(w, "  %s\n", v)
			}
			fmt.Fprintln(w)
			return
		}
	}

	if len(node.Children) > 0 && len(argTokens) == 0 {
		fmt.Fprintln(w)
		for _, child := range node.Children {
			fmt.Fprintf(w, "  %-20s %s\n", child.Name, child.Description)
		}
		fmt.Fprintln(w)
		return
	}

	if node.Handler != nil && len(node.Arguments) > 0 {
		fmt.Fprintln(w)
		for _, arg := range node.Arguments {
			switch arg.Type {
			case ArgUserInput:
				fmt.Fprintf(w, "  %-20s %s\n", "<"+arg.Name+">", arg.Description)
			case ArgKeyword:
				fmt.Fprintf(w, "  %-20s %s\n", arg.Name, arg.Description)
			}
		}
		fmt.Fprintln(w)
		return
	}

	fmt.Fprintln(w, "\n  <cr>")
}
