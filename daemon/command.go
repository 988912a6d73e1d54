package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/eudore/tinyhttpd"
	"golang.org/x/sys/unix"
)

// Commands.
const (
	CommandStart  = "start"
	CommandDaemon = "daemon"
	CommandStatus = "status"
	CommandStop   = "stop"
	CommandReload = "reload"
	CommandBusy   = "busy"
)

// ErrDetached is returned by [Command.Run] in the parent of a detached process.
var ErrDetached = fmt.Errorf("daemon started in background: %w", context.Canceled)

// Command runs a daemon command against the process named in Pidfile.
//
// start and daemon are served by the caller after Run returns nil;
// status, stop, reload and busy signal the running supervisor.
type Command struct {
	Command string
	Pidfile string
	// User is the account the detached process runs as.
	User  string
	Print func(string, ...any)
	// Wait is the number of seconds stop waits for the process to exit.
	Wait int
}

// NewCommand creates a [Command] printing to stdout.
func NewCommand(command, pidfile string) *Command {
	wait := tinyhttpd.DefaultDaemonWaitSeconds
	if n, err := strconv.Atoi(os.Getenv(tinyhttpd.EnvDaemonTimeout)); err == nil {
		wait = n
	}
	return &Command{
		Command: command,
		Pidfile: pidfile,
		Print: func(format string, args ...any) {
			fmt.Printf(format+"\n", args...)
		},
		Wait: wait,
	}
}

// Run executes the command.
//
// For start it returns nil; for daemon it detaches and returns [ErrDetached]
// in the parent and nil in the detached child.
func (cmd *Command) Run(ctx context.Context) error {
	switch cmd.Command {
	case CommandStart:
		return nil
	case CommandDaemon:
		if os.Getenv(tinyhttpd.EnvDaemonEnable) != "" {
			return nil
		}
		if pid, err := cmd.Check(); err != nil {
			cmd.Print("daemon is false, error: %v, pid is %d.", err, pid)
			return err
		}
		pid, err := Detach(cmd.User)
		if err != nil {
			cmd.Print("daemon is false, error: %v.", err)
			return err
		}
		cmd.Print("daemon is true, pid is %d, pidfile in %s.", pid, cmd.Pidfile)
		return ErrDetached
	}

	var err error
	switch cmd.Command {
	case CommandStatus:
		err = cmd.Signal(syscall.Signal(0))
	case CommandStop:
		err = cmd.Signal(syscall.SIGTERM)
	case CommandReload:
		err = cmd.Signal(syscall.SIGHUP)
	case CommandBusy:
		err = cmd.Signal(syscall.SIGUSR1)
	default:
		err = errors.New("undefined command " + cmd.Command)
		cmd.Print("undefined command %s, support command: start/daemon/status/stop/reload/busy.", cmd.Command)
		return err
	}
	if err != nil {
		cmd.Print("%s is false, error: %v.", cmd.Command, err)
		return err
	}

	pid, _ := cmd.readpid()
	cmd.Print("%s is true, pid is %d, pidfile in %s.", cmd.Command, pid, cmd.Pidfile)
	return cmd.wait(ctx, pid)
}

func (cmd *Command) wait(ctx context.Context, p int) error {
	if cmd.Wait <= 0 || cmd.Command != CommandStop {
		return nil
	}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(time.Duration(cmd.Wait) * time.Second)
	for time.Now().Before(deadline) {
		pid, err := cmd.readpid()
		if err != nil || pid != p || !alive(p) {
			cmd.Print("stop successfully.")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	err := fmt.Errorf("stop wait %ds timeout", cmd.Wait)
	cmd.Print("%s failed, %v.", cmd.Command, err)
	return err
}

// Check returns [tinyhttpd.ErrInstanceRunning] and the pid when the pid file
// names a live process.
func (cmd *Command) Check() (int, error) {
	pid, err := cmd.readpid()
	if err != nil {
		var numErr *strconv.NumError
		if errors.Is(err, fs.ErrNotExist) || errors.As(err, &numErr) {
			return 0, nil
		}
		return 0, err
	}
	if pid > 0 && pid != os.Getpid() && alive(pid) {
		return pid, tinyhttpd.ErrInstanceRunning
	}
	return pid, nil
}

// Acquire writes the current pid to the pid file.
//
// A pid file naming a live process is refused unless it names parent,
// the pid of a supervisor handing off to this one (0 for none).
// A stale pid file is overwritten and reported through stale.
func (cmd *Command) Acquire(parent int) (stale int, err error) {
	pid, err := cmd.Check()
	if err != nil && !(errors.Is(err, tinyhttpd.ErrInstanceRunning) && parent != 0 && pid == parent) {
		return 0, err
	}
	if err == nil && pid != 0 && pid != os.Getpid() {
		stale = pid
	}
	if err = cmd.writepid(); err != nil {
		return 0, err
	}
	return stale, nil
}

// Release removes the pid file if it still names the current process.
func (cmd *Command) Release() error {
	pid, err := cmd.readpid()
	if err != nil || pid != os.Getpid() {
		return nil
	}
	return os.Remove(cmd.Pidfile)
}

// Owned reports whether the pid file names the current process.
func (cmd *Command) Owned() bool {
	pid, err := cmd.readpid()
	return err == nil && pid == os.Getpid()
}

// Signal sends sig to the process named in the pid file.
// A signal that cannot be delivered removes the stale pid file.
func (cmd *Command) Signal(sig syscall.Signal) error {
	pid, err := cmd.readpid()
	if err != nil {
		return err
	}
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d in %s", pid, cmd.Pidfile)
	}
	if err = unix.Kill(pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			os.Remove(cmd.Pidfile)
		}
		return fmt.Errorf("signal process %d error: %w", pid, err)
	}
	return nil
}

func (cmd *Command) readpid() (int, error) {
	data, err := os.ReadFile(cmd.Pidfile)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// writepid replaces the pid file through a rename, so readers never see
// a partial pid.
func (cmd *Command) writepid() error {
	tmp := fmt.Sprintf("%s.%d", cmd.Pidfile, os.Getpid())
	err := os.WriteFile(tmp, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
	if err != nil {
		return err
	}
	if err = os.Rename(tmp, cmd.Pidfile); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// alive reports whether the process exists; EPERM means it exists under
// another user.
func alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
