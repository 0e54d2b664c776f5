//go:build linux

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr makes the kernel send SIGTERM to the worker when the
// host dies, so workers do not outlive it.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGTERM,
	}
}
