package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/vasanthgoud799/connectify-sub001/internal/adapter/driven/media/pion"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/domain"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/service"
)

var errUsage = errors.New("usage: call <user> [audio|video] | answer | decline | hangup | mute | camera | share | unshare | status | quit")

// callControl is the part of the call machine the console drives.
type callControl interface {
	StartCall(target domain.RemoteUser, callType domain.CallType) error
	Answer() error
	Decline() error
	HangUp() error
	ToggleMute() (bool, error)
	ToggleCamera() (bool, error)
	StartScreenShare() error
	StopScreenShare() error
	Snapshot() service.Session
}

type console struct {
	machine callControl
	stats   func() (pion.CandidateStats, bool)
	out     io.Writer
}

// exec runs one command line and reports whether the client should quit.
func (c *console) exec(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	if fields[0] == "quit" || fields[0] == "exit" {
		return true
	}
	if err := c.run(fields[0], fields[1:]); err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
	}
	return false
}

func (c *console) run(cmd string, args []string) error {
	switch cmd {
	case "call":
		if len(args) == 0 || len(args) > 2 {
			return errUsage
		}
		callType := domain.CallVideo
		if len(args) == 2 {
			callType = domain.CallType(args[1])
		}
		return c.machine.StartCall(domain.RemoteUser{ID: domain.UserID(args[0])}, callType)
	case "answer":
		return c.machine.Answer()
	case "decline":
		return c.machine.Decline()
	case "hangup":
		return c.machine.HangUp()
	case "mute":
		muted, err := c.machine.ToggleMute()
		if err == nil {
			fmt.Fprintf(c.out, "muted: %t\n", muted)
		}
		return err
	case "camera":
		off, err := c.machine.ToggleCamera()
		if err == nil {
			fmt.Fprintf(c.out, "camera off: %t\n", off)
		}
		return err
	case "share":
		return c.machine.StartScreenShare()
	case "unshare":
		return c.machine.StopScreenShare()
	case "status":
		c.status()
		return nil
	default:
		return errUsage
	}
}

func (c *console) status() {
	s := c.machine.Snapshot()
	fmt.Fprintf(c.out, "state: %s\n", s.State)
	if s.Remote != nil {
		fmt.Fprintf(c.out, "remote: %s %s (%s)\n", s.Remote.ID, s.Remote.Name, s.CallType)
	}
	if s.State == domain.StateIdle {
		return
	}
	if s.LocalMedia != nil {
		fmt.Fprintf(c.out, "local media: %v\n", s.LocalMedia.Kinds())
	} else {
		fmt.Fprintln(c.out, "local media: none")
	}
	if s.RemoteMedia != nil {
		fmt.Fprintf(c.out, "remote media: %v\n", s.RemoteMedia.Kinds())
	}
	fmt.Fprintf(c.out, "muted: %t camera off: %t sharing: %t\n", s.Muted, s.CameraOff, s.ScreenSharing)
	if stats, ok := c.stats(); ok {
		fmt.Fprintf(c.out, "candidates: queued=%d applied=%d failed=%d dropped=%d\n",
			stats.Queued, stats.Applied, stats.Failed, stats.Dropped)
	}
}
