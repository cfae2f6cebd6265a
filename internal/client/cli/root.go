package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	SendFile(ctx context.Context, path string) error
	SendText(ctx context.Context) error
	List(ctx context.Context) error
	Get(ctx context.Context, contentID, path string) error
	Remove(ctx context.Context, contentID string) error
	Rename(ctx context.Context, contentID, name string) error
	CancelTransfer(ctx context.Context, contentID string) error
	Clear(ctx context.Context) error
}

// runREPL reads commands line by line and dispatches them to a. Unknown
// commands are reported back to the user. The loop exits on scanner EOF or
// when the user types "exit" or "quit".
//
// Commands:
//
//	help                 — show available commands
//	send <path>          — encrypt and upload a file
//	paste                — enter a text snippet and upload it
//	l | list             — list transfers and content
//	get <id> [path]      — write a received item to disk (or print text)
//	rm <id>              — remove an item from the session
//	rename <id> <name>   — relabel an item
//	cancel <id>          — abort an in-flight transfer
//	clear                — wipe the whole session
//	exit | quit          — leave the program
//
// Command handlers report their own errors; the loop prints them and keeps
// going.
func runREPL(ctx context.Context, a execIface, scanner *bufio.Scanner) {
	for {
		fmt.Print("cb> ")
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var err error
		switch cmd {
		case "help":
			printlnFn("Available commands: send <path>, paste, (l)ist, get <id> [path], rm <id>, rename <id> <name>, cancel <id>, clear, exit")

		case "send":
			if len(args) == 0 {
				printlnFn("Usage: send <path>")
				continue
			}
			err = a.SendFile(ctx, args[0])

		case "paste":
			err = a.SendText(ctx)

		case "l", "list":
			err = a.List(ctx)

		case "get":
			if len(args) == 0 {
				printlnFn("Usage: get <id> [path]")
				continue
			}
			path := ""
			if len(args) > 1 {
				path = args[1]
			}
			err = a.Get(ctx, args[0], path)

		case "rm":
			if len(args) == 0 {
				printlnFn("Usage: rm <id>")
				continue
			}
			err = a.Remove(ctx, args[0])

		case "rename":
			if len(args) < 2 {
				printlnFn("Usage: rename <id> <name>")
				continue
			}
			err = a.Rename(ctx, args[0], strings.Join(args[1:], " "))

		case "cancel":
			if len(args) == 0 {
				printlnFn("Usage: cancel <id>")
				continue
			}
			err = a.CancelTransfer(ctx, args[0])

		case "clear":
			err = a.Clear(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			printlnFn("Error:", err.Error())
		}
	}
}

// Run joins a session and drives the REPL until the user leaves.
func (a *App) Run(ctx context.Context) error {
	if err := a.Join(ctx); err != nil {
		return err
	}
	defer a.Close()

	runREPL(ctx, a, bufio.NewScanner(os.Stdin))
	a.waitIdle(5 * time.Second)
	return nil
}
