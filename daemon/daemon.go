/*
Package daemon implements the process supervisor: daemon commands,
the pid file, signal handling, the worker pool and reloads.

# Commands

The command key selects what the process does.

	tinyhttpd --config=config.ini --command=start

command:

	start   Run the supervisor in the foreground and write the pid.
	daemon  Detach from the terminal, then run as start.
	status  Read the pid and send signal 0.
	stop    Read the pid and send syscall.SIGTERM (15), wait for the exit.
	reload  Read the pid and send syscall.SIGHUP (1).
	busy    Read the pid and send syscall.SIGUSR1 (10), the pool grows by one.

# Signals

SIGTERM, SIGINT and SIGQUIT terminate the supervisor,
SIGHUP reloads the configuration and restarts workers,
SIGUSR1 starts one more worker if under max_workers.

# Reload

In graceful mode the supervisor retires its workers, they finish the
connection in progress, and starts a worker built from the new configuration.
In handoff mode the supervisor starts a new copy of the executable with
[tinyhttpd.EnvDaemonParentPID] set; the copy takes over the pid file and
sends SIGTERM to its parent.

not supported by windows.
*/
package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/eudore/tinyhttpd"
)

// Detach starts a copy of the current process in a new session with
// [tinyhttpd.EnvDaemonEnable] set and returns its pid.
//
// If username is not empty the copy runs as that user.
// The working directory is kept; stdio is redirected to /dev/null.
func Detach(username string) (int, error) {
	path, err := executable()
	if err != nil {
		return 0, err
	}
	cmd := exec.Command(path, os.Args[1:]...)
	cmd.Env = append(filterEnvirons(),
		fmt.Sprintf("%s=%d", tinyhttpd.EnvDaemonEnable, 1),
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if username != "" {
		cred, err := lookupCredential(username)
		if err != nil {
			return 0, err
		}
		cmd.SysProcAttr.Credential = cred
	}
	if err = cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	return pid, cmd.Process.Release()
}

// IsDetached reports whether the process was started by [Detach].
func IsDetached() bool {
	return os.Getenv(tinyhttpd.EnvDaemonEnable) != ""
}

func lookupCredential(username string) (*syscall.Credential, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return nil, err
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, err
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, err
	}
	return &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}, nil
}

func executable() (string, error) {
	path, err := os.Executable()
	if err == nil {
		return path, nil
	}
	path = os.Args[0]
	if filepath.Base(path) == path {
		return exec.LookPath(path)
	}
	return path, nil
}

// filterEnvirons drops the daemon flags of the current process.
func filterEnvirons() []string {
	filters := [...]string{
		tinyhttpd.EnvDaemonEnable + "=",
		tinyhttpd.EnvDaemonParentPID + "=",
	}
	envs := make([]string, 0, len(os.Environ()))
	for _, value := range os.Environ() {
		switch {
		case strings.HasPrefix(value, filters[0]):
		case strings.HasPrefix(value, filters[1]):
		default:
			envs = append(envs, value)
		}
	}
	return envs
}
