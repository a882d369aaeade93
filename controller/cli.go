package controller

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/calvinmclean/needlegantry"
	"github.com/calvinmclean/needlegantry/protocol"
)

var errQuit = errors.New("quit")

type cliCommand struct {
	usage string
	run   func(ctx context.Context, c *Controller, args []string, out io.Writer) error
}

var cliCommands = map[string]cliCommand{
	"echo": {"echo TEXT", func(ctx context.Context, c *Controller, args []string, out io.Writer) error {
		reply, err := c.Echo(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(out, reply)
		return nil
	}},
	"coord": {"coord X Y", func(ctx context.Context, c *Controller, args []string, out io.Writer) error {
		coord, err := parseCoordinate(args)
		if err != nil {
			return err
		}
		err = c.SendCoordinate(ctx, coord)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "coordinate", coord)
		return nil
	}},
	"go": {"go", func(ctx context.Context, c *Controller, _ []string, out io.Writer) error {
		result, err := c.GoToWork(ctx)
		if err != nil {
			return err
		}
		printResult(out, result)
		return nil
	}},
	"work": {"work X Y", func(ctx context.Context, c *Controller, args []string, out io.Writer) error {
		coord, err := parseCoordinate(args)
		if err != nil {
			return err
		}
		result, err := c.Work(ctx, coord)
		if err != nil {
			return err
		}
		printResult(out, result)
		return nil
	}},
	"home": {"home", func(ctx context.Context, c *Controller, _ []string, out io.Writer) error {
		err := c.MoveYHome(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, needlegantry.StatusHomed)
		return nil
	}},
	"move": {"move AXIS F|B MM", func(ctx context.Context, c *Controller, args []string, out io.Writer) error {
		if len(args) != 3 || len(args[0]) != 1 || len(args[1]) != 1 {
			return errors.New("usage: move AXIS F|B MM")
		}
		axis, ok := needlegantry.ParseAxis(strings.ToUpper(args[0])[0])
		if !ok {
			return fmt.Errorf("invalid axis %q", args[0])
		}
		dir, ok := needlegantry.ParseDirection(strings.ToUpper(args[1])[0])
		if !ok {
			return fmt.Errorf("invalid direction %q", args[1])
		}
		mm, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid distance: %w", err)
		}
		err = c.MoveStepper(ctx, axis, dir, mm)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, needlegantry.StatusMoved)
		return nil
	}},
	"reset": {"reset", func(ctx context.Context, c *Controller, _ []string, out io.Writer) error {
		err := c.Reset(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "initialized")
		return nil
	}},
	"pos": {"pos", func(_ context.Context, c *Controller, _ []string, out io.Writer) error {
		p := c.Position()
		fmt.Fprintf(out, "X=%d Y=%d Z=%d\n", p[needlegantry.AxisX], p[needlegantry.AxisY], p[needlegantry.AxisZ])
		return nil
	}},
	"quit": {"quit", func(context.Context, *Controller, []string, io.Writer) error {
		return errQuit
	}},
}

// Run reads commands line by line from in and writes results to out. It returns when in
// is exhausted, "quit" is read or ctx is done. Command errors are printed and do not stop
// the loop.
func (c *Controller) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		name := strings.ToLower(fields[0])
		if name == "help" {
			printHelp(out)
			continue
		}

		cmd, ok := cliCommands[name]
		if !ok {
			fmt.Fprintf(out, "unknown command %q, try help\n", fields[0])
			continue
		}

		err := cmd.run(ctx, c, fields[1:], out)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintln(out, "error:", err)
		}
	}

	return scanner.Err()
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "Available Commands:")
	for _, name := range []string{"echo", "coord", "go", "work", "home", "move", "reset", "pos", "quit"} {
		fmt.Fprintln(out, "  "+cliCommands[name].usage)
	}
}

func printResult(out io.Writer, result CycleResult) {
	fmt.Fprintf(out, "finished %s depth=%d duration=%s\n", result.Coordinate, result.Depth, result.Finished.Sub(result.Started))
}

func parseCoordinate(args []string) (protocol.Coordinate, error) {
	if len(args) != 2 {
		return protocol.Coordinate{}, errors.New("expected X and Y")
	}
	x, err := strconv.Atoi(args[0])
	if err != nil {
		return protocol.Coordinate{}, fmt.Errorf("invalid x: %w", err)
	}
	y, err := strconv.Atoi(args[1])
	if err != nil {
		return protocol.Coordinate{}, fmt.Errorf("invalid y: %w", err)
	}
	return protocol.Coordinate{X: x, Y: y}, nil
}
