package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the command surface the REPL dispatches to. The real App
// satisfies it; tests provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	Open(ctx context.Context, args []string) error
	More(ctx context.Context) error
	List(ctx context.Context) error
	Send(ctx context.Context, args []string) error
	Reply(ctx context.Context, args []string) error
	Image(ctx context.Context, args []string) error
	Edit(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	Status(ctx context.Context) error
	Close(ctx context.Context) error
	afterCommand()
}

const (
	helpLoggedOut = "Available commands: login, open <group>, more, list, status, close, exit"
	helpLoggedIn  = "Available commands: open <group>, more, list, send <text>, reply <id> <text>, " +
		"image <path> [caption], edit <id> <text>, delete <id>, status, close, login, logout, exit"
)

// runREPL reads commands line by line and dispatches them to a. The loop
// exits on EOF or when the user types "exit" or "quit". Commands that prompt
// for more input (login, multiline send) read from the same reader, so it is
// never read past the current line.
//
// Errors returned by command handlers are not printed here; handlers report
// them through the status line and the log. afterCommand runs after every
// dispatched command so terminal statuses are shown once.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("chat %s> ", statusFn()))
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn(helpLoggedIn)
			} else {
				printlnFn(helpLoggedOut)
			}
			continue

		case "login":
			_ = a.Login(ctx)

		case "logout":
			_ = a.Logout(ctx)

		case "open":
			if len(args) != 1 {
				printlnFn("Usage: open <group>")
				continue
			}
			_ = a.Open(ctx, args)

		case "more":
			_ = a.More(ctx)

		case "l", "list":
			_ = a.List(ctx)

		case "send":
			_ = a.Send(ctx, args)

		case "reply":
			if len(args) < 2 {
				printlnFn("Usage: reply <id> <text>")
				continue
			}
			_ = a.Reply(ctx, args)

		case "image":
			if len(args) < 1 {
				printlnFn("Usage: image <path> [caption]")
				continue
			}
			_ = a.Image(ctx, args)

		case "edit":
			if len(args) < 2 {
				printlnFn("Usage: edit <id> <text>")
				continue
			}
			_ = a.Edit(ctx, args)

		case "delete", "rm":
			if len(args) != 1 {
				printlnFn("Usage: delete <id>")
				continue
			}
			_ = a.Delete(ctx, args)

		case "status":
			_ = a.Status(ctx)

		case "close":
			_ = a.Close(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
			continue
		}

		a.afterCommand()
	}
}
