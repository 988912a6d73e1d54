package daemon

import (
	"fmt"
	"os"
	"strconv"

	"github.com/eudore/tinyhttpd"
	"golang.org/x/sys/unix"
)

// Handoff starts a new copy of the current process that takes over from it
// and returns the pid of the copy.
//
// The copy inherits stdio, the arguments and the environment, plus
// [tinyhttpd.EnvDaemonParentPID]. The copy accepts a pid file naming this
// process and sends it SIGTERM once its workers run.
func Handoff() (int, error) {
	path, err := executable()
	if err != nil {
		return 0, err
	}
	dir, err := os.Getwd()
	if err != nil {
		return 0, err
	}

	envs := filterEnvirons()
	if IsDetached() {
		envs = append(envs, fmt.Sprintf("%s=%d", tinyhttpd.EnvDaemonEnable, 1))
	}
	envs = append(envs, fmt.Sprintf("%s=%d", tinyhttpd.EnvDaemonParentPID, os.Getpid()))

	process, err := os.StartProcess(path, os.Args, &os.ProcAttr{
		Dir:   dir,
		Env:   envs,
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr},
	})
	if err != nil {
		return 0, err
	}
	pid := process.Pid
	return pid, process.Release()
}

// ParentPID returns the pid of the supervisor handing off to this process,
// 0 when there is none.
func ParentPID() int {
	pid, _ := strconv.Atoi(os.Getenv(tinyhttpd.EnvDaemonParentPID))
	if pid <= 1 {
		return 0
	}
	return pid
}

// stopParent sends SIGTERM to the supervisor handing off to this process.
func stopParent(pid int) error {
	if pid == 0 {
		return nil
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return fmt.Errorf("stop parent process %d error: %w", pid, err)
	}
	return nil
}
