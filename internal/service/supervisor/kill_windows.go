//go:build windows

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/windows"
)

// configureProcAttr starts the child without a console window in its own group.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.CREATE_NO_WINDOW,
	}
}

// killTree force-terminates pid and its children with taskkill. When taskkill
// fails, known descendants and pid are killed one by one.
func killTree(ctx context.Context, pid int) error {
	children, listErr := descendants(pid)

	cmd := exec.CommandContext(ctx, "taskkill", "/PID", strconv.Itoa(pid), "/T", "/F")
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true, CreationFlags: windows.CREATE_NO_WINDOW}

	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	errs := []error{fmt.Errorf("taskkill: %w: %s", err, strings.TrimSpace(string(output)))}
	if listErr != nil {
		errs = append(errs, listErr)
	}

	for _, target := range append(children, pid) {
		process, findErr := os.FindProcess(target)
		if findErr != nil {
			continue
		}

		if killErr := process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			errs = append(errs, fmt.Errorf("kill process %d: %w", target, killErr))
		}
	}

	return errors.Join(errs...)
}
