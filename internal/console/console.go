// Package console drives a session from text commands, one per line.
package console

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"sincroniza-dispositivos/internal/device"
)

// ErrQuit is returned by Execute for the quit command.
var ErrQuit = errors.New("quit")

// DefaultCycleInterval is the pause between two steps of "cycle on".
const DefaultCycleInterval = 15 * time.Second

// Controller is the session the console drives.
type Controller interface {
	Print(ctx context.Context, w io.Writer) error
	PrintSnapshot(ctx context.Context, w io.Writer) error
	Set(ctx context.Context, deviceID string, p device.Property, args []string) error
	SetAll(ctx context.Context, value string) error
	CreateDevice(ctx context.Context) error
	ClearDatastore(ctx context.Context, deviceID string) error
	PutDatastore(ctx context.Context, v any) (string, error)
	RefreshSnapshot(ctx context.Context) error
	StartCycle(ctx context.Context, interval time.Duration)
	StopCycle()
}

// CommandDefinition describes one console command.
type CommandDefinition struct {
	Name    string
	Aliases []string
	Syntax  string
	Summary string
	Run     func(ctx context.Context, c *Console, args []string) error
}

// CommandTable lists every command, in help order.
var CommandTable = []CommandDefinition{
	{
		Name:    "list",
		Aliases: []string{"ls", "devices"},
		Syntax:  "list",
		Summary: "show every device card",
		Run: func(ctx context.Context, c *Console, _ []string) error {
			return c.ctrl.Print(ctx, c.out)
		},
	},
	{
		Name:    "set",
		Syntax:  "set <device_id> <contact|temp|air|switch|level> <value> [C|F]",
		Summary: "edit one property; the write goes out after the quiet period",
		Run: func(ctx context.Context, c *Console, args []string) error {
			if len(args) < 3 {
				return errUsage
			}
			p, err := device.ParseProperty(args[1])
			if err != nil {
				return err
			}
			return c.ctrl.Set(ctx, args[0], p, args[2:])
		},
	},
	{
		Name:    "all",
		Syntax:  "all on|off",
		Summary: "switch every device on or off",
		Run: func(ctx context.Context, c *Console, args []string) error {
			if len(args) != 1 {
				return errUsage
			}
			return c.ctrl.SetAll(ctx, args[0])
		},
	},
	{
		Name:    "cycle",
		Syntax:  "cycle on|off",
		Summary: "keep switching every device on and off",
		Run: func(ctx context.Context, c *Console, args []string) error {
			if len(args) != 1 {
				return errUsage
			}
			switch args[0] {
			case "on":
				c.ctrl.StartCycle(ctx, c.cycleInterval)
			case "off":
				c.ctrl.StopCycle()
			default:
				return errUsage
			}
			return nil
		},
	},
	{
		Name:    "new",
		Syntax:  "new",
		Summary: "create a device and wait for it to appear",
		Run: func(ctx context.Context, c *Console, _ []string) error {
			if err := c.ctrl.CreateDevice(ctx); err != nil {
				return err
			}
			return c.ctrl.Print(ctx, c.out)
		},
	},
	{
		Name:    "clear",
		Syntax:  "clear <device_id>",
		Summary: "delete the datastore entries of a device",
		Run: func(ctx context.Context, c *Console, args []string) error {
			if len(args) != 1 {
				return errUsage
			}
			return c.ctrl.ClearDatastore(ctx, args[0])
		},
	},
	{
		Name:    "store",
		Syntax:  "store [json]",
		Summary: "write a datastore entry keyed by the current time",
		Run: func(ctx context.Context, c *Console, args []string) error {
			var v any
			if raw := strings.Join(args, " "); raw != "" {
				if !json.Valid([]byte(raw)) {
					return fmt.Errorf("invalid json: %s", raw)
				}
				v = json.RawMessage(raw)
			}
			key, err := c.ctrl.PutDatastore(ctx, v)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "stored %s\n", key)
			return nil
		},
	},
	{
		Name:    "snapshot",
		Aliases: []string{"datastore"},
		Syntax:  "snapshot [refresh]",
		Summary: "show the last datastore snapshot",
		Run: func(ctx context.Context, c *Console, args []string) error {
			if len(args) == 1 && args[0] == "refresh" {
				return c.ctrl.RefreshSnapshot(ctx)
			}
			return c.ctrl.PrintSnapshot(ctx, c.out)
		},
	},
	{
		Name:    "help",
		Aliases: []string{"?"},
		Syntax:  "help",
		Summary: "show this list",
		Run: func(_ context.Context, c *Console, _ []string) error {
			c.Usage()
			return nil
		},
	},
	{
		Name:    "quit",
		Aliases: []string{"exit"},
		Syntax:  "quit",
		Summary: "stop the session",
		Run: func(context.Context, *Console, []string) error {
			return ErrQuit
		},
	},
}

var errUsage = errors.New("wrong arguments")

type Options struct {
	// Prompt is printed before each line is read; empty for none.
	Prompt        string
	CycleInterval time.Duration
}

type Console struct {
	commands      []CommandDefinition
	ctrl          Controller
	out           io.Writer
	prompt        string
	cycleInterval time.Duration
}

func New(ctrl Controller, out io.Writer, opts Options) *Console {
	if opts.CycleInterval <= 0 {
		opts.CycleInterval = DefaultCycleInterval
	}
	return &Console{
		commands:      CommandTable,
		ctrl:          ctrl,
		out:           out,
		prompt:        opts.Prompt,
		cycleInterval: opts.CycleInterval,
	}
}

func (c *Console) lookup(name string) (CommandDefinition, bool) {
	for _, def := range c.commands {
		if def.Name == name {
			return def, true
		}
		for _, alias := range def.Aliases {
			if alias == name {
				return def, true
			}
		}
	}
	return CommandDefinition{}, false
}

// Execute runs one command line. Empty lines do nothing.
func (c *Console) Execute(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	def, ok := c.lookup(strings.ToLower(parts[0]))
	if !ok {
		return fmt.Errorf("unknown command %q, try help", parts[0])
	}
	err := def.Run(ctx, c, parts[1:])
	if errors.Is(err, errUsage) {
		return fmt.Errorf("usage: %s", def.Syntax)
	}
	return err
}

// Usage prints the command table.
func (c *Console) Usage() {
	for _, def := range c.commands {
		fmt.Fprintf(c.out, "  %-60s %s\n", def.Syntax, def.Summary)
	}
}

// Run reads commands from in until EOF, quit or ctx is done. Command
// errors are printed and never end the loop.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(c.out, "help for usage, quit to exit")
	scanner := bufio.NewScanner(in)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if c.prompt != "" {
			fmt.Fprint(c.out, c.prompt)
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		err := c.Execute(ctx, scanner.Text())
		switch {
		case errors.Is(err, ErrQuit):
			return nil
		case err != nil:
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}
