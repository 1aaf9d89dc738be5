package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/devicelab-dev/publish-agent/pkg/agent"
	"github.com/devicelab-dev/publish-agent/pkg/config"
	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/store"
)

// controller is the part of the agent the operator console drives.
type controller interface {
	Pause() error
	Resume() error
	Stop() error
	TriggerManualPublish() error
	ApplyConfig(ctx context.Context, partial map[string]interface{}) (config.Config, error)
	Snapshot() store.Snapshot
}

var _ controller = (*agent.Agent)(nil)

const consoleHelp = `commands:
  pause              hold the run at the next step
  resume             continue a paused run
  stop               stop after the current step
  publish            release an item waiting before its publish step
  status             show progress
  set key=value ...  change agent settings for this and later runs
  help               show this help`

// console reads operator commands line by line.
type console struct {
	ctrl controller
	out  io.Writer
	now  func() time.Time
}

// run reads commands from in until EOF or ctx ends.
func (c *console) run(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			c.handle(ctx, line)
		}
	}
}

// handle executes one command line.
func (c *console) handle(ctx context.Context, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	var err error
	switch cmd {
	case "pause", "p":
		err = c.ctrl.Pause()
	case "resume", "r":
		err = c.ctrl.Resume()
	case "stop", "q", "quit":
		err = c.ctrl.Stop()
	case "publish", "submit":
		err = c.ctrl.TriggerManualPublish()
	case "status", "s":
		fmt.Fprintln(c.out, "  "+formatStatus(c.ctrl.Snapshot(), c.now()))
	case "set":
		var partial map[string]interface{}
		if len(args) == 0 {
			err = errors.New("usage: set key=value ...")
			break
		}
		if partial, err = parseAssignments(args); err == nil {
			_, err = c.ctrl.ApplyConfig(ctx, partial)
		}
	case "help", "?":
		fmt.Fprintln(c.out, consoleHelp)
	default:
		err = fmt.Errorf("unknown command %q, type help", cmd)
	}
	if err != nil {
		fmt.Fprintf(c.out, "  %s%v%s\n", color(colorRed), err, color(colorReset))
	}
}

// printer writes store changes to the terminal: new log lines, state
// transitions and the manual publish prompt.
type printer struct {
	out io.Writer

	mu       sync.Mutex
	last     core.LogEntry
	seen     bool
	state    core.RunState
	awaiting bool
}

// onChange is a store listener.
func (p *printer) onChange(s store.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.unseen(s.Logs) {
		fmt.Fprintln(p.out, formatLogEntry(e))
	}
	if s.State != p.state {
		p.state = s.State
		if s.State == core.RunPaused {
			fmt.Fprintf(p.out, "  %s⏸ paused%s, type resume to continue\n", color(colorYellow), color(colorReset))
		}
	}
	if s.AwaitingManual && !p.awaiting {
		code := ""
		if s.Current != nil {
			code = s.Current.Code + " "
		}
		fmt.Fprintf(p.out, "  %s➜ %sis ready, type publish to submit it%s\n", color(colorCyan), code, color(colorReset))
	}
	p.awaiting = s.AwaitingManual
}

// unseen returns entries logged after the last printed one.
func (p *printer) unseen(logs []core.LogEntry) []core.LogEntry {
	if len(logs) == 0 {
		return nil
	}
	start := 0
	if p.seen {
		for i := len(logs) - 1; i >= 0; i-- {
			if logs[i] == p.last {
				start = i + 1
				break
			}
		}
	}
	p.last, p.seen = logs[len(logs)-1], true
	return logs[start:]
}
