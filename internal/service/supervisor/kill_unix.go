//go:build !windows

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureProcAttr puts the child in its own process group.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killTree sends SIGKILL to the process group of pid and to every known
// descendant, including ones that moved to another group.
func killTree(_ context.Context, pid int) error {
	var errs []error

	children, err := descendants(pid)
	if err != nil {
		errs = append(errs, err)
	}

	if err = unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		errs = append(errs, fmt.Errorf("kill process group %d: %w", pid, err))
	}

	for _, target := range append(children, pid) {
		if err = unix.Kill(target, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			errs = append(errs, fmt.Errorf("kill process %d: %w", target, err))
		}
	}

	return errors.Join(errs...)
}
