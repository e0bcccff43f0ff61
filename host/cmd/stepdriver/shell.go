package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/google/shlex"

	"stepdriver/core"
	"stepdriver/host/mcu"
)

var errQuit = errors.New("quit")

// shell interprets one command line at a time
type shell struct {
	b   backend
	mcu *mcu.MCU // nil in local mode
	out io.Writer
}

// exec runs one line. It returns errQuit when the user asks to leave.
func (s *shell) exec(line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if len(args) == 0 {
		return nil
	}
	cmd, args := args[0], args[1:]

	switch cmd {
	case "quit", "exit", "q":
		return errQuit

	case "help", "?":
		s.printHelp()
		return nil

	case "chips":
		for i, c := range core.Chips() {
			tm := c.Timing()
			fmt.Fprintf(s.out, "  [%d] %-10s max 1/%-4d high %dns low %dns wake %dns\n",
				i, c.Name(), c.MaxMicrostep(), tm.StepHighMinNs, tm.StepLowMinNs, tm.WakeUpNs)
		}
		return nil

	case "dict":
		if s.mcu == nil {
			return errors.New("dict needs a connected MCU")
		}
		s.mcu.PrintDictionary(s.out)
		return nil

	case "send":
		if s.mcu == nil {
			return errors.New("send needs a connected MCU")
		}
		if len(args) < 1 {
			return errors.New("usage: send <command> [args...]")
		}
		vals := make([]int64, len(args)-1)
		for i, a := range args[1:] {
			v, err := strconv.ParseInt(a, 0, 64)
			if err != nil {
				return fmt.Errorf("argument %q: %w", a, err)
			}
			vals[i] = v
		}
		return s.mcu.SendCommand(args[0], vals...)
	}

	if len(args) < 1 {
		return fmt.Errorf("usage: %s <driver> ...", cmd)
	}
	name := args[0]

	switch cmd {
	case "microstep":
		n, err := argUint(args, 1, 16)
		if err != nil {
			return err
		}
		got, err := s.b.SetMicrostep(name, uint16(n))
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s: 1/%d\n", name, got)

	case "rpm":
		rpm, err := argFloat(args, 1)
		if err != nil {
			return err
		}
		return s.b.SetRPM(name, rpm)

	case "enable":
		return s.b.Enable(name, true)

	case "disable":
		return s.b.Enable(name, false)

	case "move":
		if len(args) < 2 {
			return errors.New("usage: move <driver> <steps>")
		}
		steps, err := strconv.ParseInt(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("steps %q: %w", args[1], err)
		}
		return s.b.Move(name, int32(steps))

	case "rotate":
		deg, err := argFloat(args, 1)
		if err != nil {
			return err
		}
		return s.b.Rotate(name, deg)

	case "status":
		st, err := s.b.Status(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s: 1/%d %.3f rpm, %d steps remaining\n", name, st.Microsteps, st.RPM, st.Remaining)

	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmd)
	}
	return nil
}

func argUint(args []string, i int, bits int) (uint64, error) {
	if len(args) <= i {
		return 0, errors.New("missing argument")
	}
	v, err := strconv.ParseUint(args[i], 10, bits)
	if err != nil {
		return 0, fmt.Errorf("argument %q: %w", args[i], err)
	}
	return v, nil
}

func argFloat(args []string, i int) (float64, error) {
	if len(args) <= i {
		return 0, errors.New("missing argument")
	}
	v, err := strconv.ParseFloat(args[i], 64)
	if err != nil {
		return 0, fmt.Errorf("argument %q: %w", args[i], err)
	}
	return v, nil
}

func (s *shell) printHelp() {
	fmt.Fprintln(s.out, "Available commands:")
	fmt.Fprintln(s.out, "  microstep <driver> <n>  - Set resolution 1/n")
	fmt.Fprintln(s.out, "  rpm <driver> <rpm>      - Set speed")
	fmt.Fprintln(s.out, "  enable|disable <driver> - Switch driver outputs")
	fmt.Fprintln(s.out, "  move <driver> <steps>   - Move relative, negative is reverse")
	fmt.Fprintln(s.out, "  rotate <driver> <deg>   - Rotate by degrees")
	fmt.Fprintln(s.out, "  status <driver>         - Show resolution and speed")
	fmt.Fprintln(s.out, "  chips                   - List supported chips")
	fmt.Fprintln(s.out, "  dict                    - Print MCU dictionary")
	fmt.Fprintln(s.out, "  send <cmd> [args...]    - Send a raw MCU command")
	fmt.Fprintln(s.out, "  quit/exit/q             - Exit the program")
}
