package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/shlex"

	"can29/host/axis"
	"can29/host/bus"
	"can29/protocol"
)

var errQuit = errors.New("quit")

// console is the interactive command loop over the configured axes.
type console struct {
	bus     *bus.Bus
	mu      sync.Mutex // serialises writes to out
	out     io.Writer
	axes    map[string]*axis.Axis
	current string
}

func newConsole(b *bus.Bus, out io.Writer) *console {
	return &console{
		bus:  b,
		out:  out,
		axes: make(map[string]*axis.Axis),
	}
}

func (c *console) addAxis(name string, a *axis.Axis) {
	c.axes[name] = a
	if c.current == "" {
		c.current = name
	}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) printUpdate(name string, s axis.State) {
	c.printf("[%s] status=%s position=%d\n", name, s.Status, s.Position)
}

// run reads commands until quit, EOF or a link fault.
func (c *console) run() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "can29> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	c.mu.Lock()
	c.out = rl.Stdout()
	c.mu.Unlock()

	c.printHelp()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			return nil
		}

		if err := c.execute(line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			c.printf("Error: %v\n", err)
			if c.bus.State() == bus.StateClosed {
				return err
			}
		}
	}
}

// execute runs one command line.
func (c *console) execute(line string) error {
	parts, err := shlex.Split(line)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(parts[0]), parts[1:]

	switch cmd {
	case "quit", "exit", "q":
		return errQuit
	case "help", "?":
		c.printHelp()
		return nil
	case "axes":
		c.cmdAxes()
		return nil
	case "use":
		return c.cmdUse(args)
	case "link":
		c.printf("link %s, session %s\n", c.bus.State(), c.bus.SessionID())
		return nil
	}

	a, err := c.axis()
	if err != nil {
		return err
	}

	switch cmd {
	case "name":
		name, err := a.GetApplicationName()
		if err != nil {
			return err
		}
		c.printf("%s\n", name)

	case "present":
		if len(args) != 1 {
			return errors.New("usage: present <application name>")
		}
		present, err := a.GetPresent(args[0])
		if err != nil {
			return err
		}
		c.printf("present: %t\n", present)

	case "status":
		status, err := a.GetStatusCmd()
		if err != nil {
			return err
		}
		c.printf("status: %s\n", status)

	case "state":
		s := a.Snapshot()
		c.printf("status=%s busy=%t position=%d velocity=%d acceleration=%d monitoring=%t updates=%d mode=%s\n",
			s.Status, s.Busy, s.Position, s.Velocity, s.Acceleration, s.Monitoring, s.Updates, a.MoveMode())

	case "pos", "position":
		pos, err := a.GetPositionCmd()
		if err != nil {
			return err
		}
		c.printf("position: %d\n", pos)

	case "move", "rel":
		value, mode, err := moveArgs(args, cmd == "rel")
		if err != nil {
			return err
		}
		if cmd == "rel" {
			return a.SetRelativePosition(value, mode)
		}
		return a.SetPosition(value, mode)

	case "stop":
		return a.Stop()
	case "lock":
		return a.Lock()
	case "unlock":
		return a.Unlock()

	case "lower", "upper":
		get := a.GetLowerHardwareStop
		if cmd == "upper" {
			get = a.GetUpperHardwareStop
		}
		pos, err := get()
		if err != nil {
			return err
		}
		c.printf("%s stop: %d\n", cmd, pos)

	case "find-lower":
		return a.FindLowerHardwareStop()
	case "find-upper":
		return a.FindUpperHardwareStop()

	case "vel", "acc":
		return c.cmdTrajectory(a, cmd, args)

	case "monitor":
		if len(args) != 1 {
			return errors.New("usage: monitor on|off")
		}
		switch args[0] {
		case "on":
			return a.StartMonitoring()
		case "off":
			return a.StopMonitoring()
		}
		return fmt.Errorf("monitor: expected on or off, got %q", args[0])

	case "wait":
		return c.cmdWait(a, args)

	default:
		return fmt.Errorf("unknown command: %s (type 'help' for commands)", cmd)
	}
	return nil
}

func (c *console) axis() (*axis.Axis, error) {
	a, ok := c.axes[c.current]
	if !ok {
		return nil, errors.New("no axis selected")
	}
	return a, nil
}

func (c *console) cmdAxes() {
	names := make([]string, 0, len(c.axes))
	for name := range c.axes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		marker := " "
		if name == c.current {
			marker = "*"
		}
		c.printf("%s %-10s %s\n", marker, name, c.axes[name].Identity())
	}
}

func (c *console) cmdUse(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: use <axis>")
	}
	if _, ok := c.axes[args[0]]; !ok {
		return fmt.Errorf("unknown axis %q", args[0])
	}
	c.current = args[0]
	return nil
}

func (c *console) cmdTrajectory(a *axis.Axis, cmd string, args []string) error {
	if len(args) == 0 {
		get := a.GetTrajectoryVelocityCmd
		if cmd == "acc" {
			get = a.GetTrajectoryAccelerationCmd
		}
		v, err := get()
		if err != nil {
			return err
		}
		c.printf("%s: %d\n", cmd, v)
		return nil
	}

	v, err := strconv.ParseInt(args[0], 0, 32)
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	if cmd == "acc" {
		return a.SetTrajectoryAcceleration(int32(v))
	}
	return a.SetTrajectoryVelocity(int32(v))
}

// cmdWait polls the cached busy flag until the move finishes.
func (c *console) cmdWait(a *axis.Axis, args []string) error {
	limit := 10 * time.Second
	if len(args) > 0 {
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return fmt.Errorf("wait: %w", err)
		}
		limit = d
	}

	deadline := time.Now().Add(limit)
	for a.IsBusy() {
		if time.Now().After(deadline) {
			return fmt.Errorf("axis still busy after %v", limit)
		}
		if !a.Snapshot().Monitoring {
			if _, err := a.GetStatusCmd(); err != nil {
				return err
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	c.printf("position: %d\n", a.GetPosition())
	return nil
}

func moveArgs(args []string, relative bool) (int32, protocol.MoveMode, error) {
	if len(args) < 1 || len(args) > 2 {
		return 0, 0, errors.New("usage: move|rel <value> [absolute|relative|velocity]")
	}
	v, err := strconv.ParseInt(args[0], 0, 32)
	if err != nil {
		return 0, 0, err
	}
	mode := protocol.MoveAbsolute
	if relative {
		mode = protocol.MoveRelative
	}
	if len(args) == 2 {
		if mode, err = protocol.ParseMoveMode(args[1]); err != nil {
			return 0, 0, err
		}
	}
	return int32(v), mode, nil
}

func (c *console) printHelp() {
	c.printf(`
Commands:
  axes                 List configured axes (* = selected)
  use <axis>           Select an axis
  link                 Show link state
  name                 Query application name
  present "<name>"     Check the application name
  status | state       Query status / show cached state
  pos                  Query position
  move <pos> [mode]    Move to position (absolute|relative|velocity)
  rel <dist> [mode]    Move by distance
  stop | lock | unlock
  lower | upper        Query hardware stop positions
  find-lower | find-upper
  vel [v] | acc [a]    Query or set trajectory velocity / acceleration
  monitor on|off       Enable or disable push updates
  wait [timeout]       Wait until the axis is idle
  quit                 Exit

`)
}
