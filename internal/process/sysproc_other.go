//go:build !linux

package process

import "os/exec"

// configureSysProcAttr does nothing; parent-death signals are Linux only.
func configureSysProcAttr(_ *exec.Cmd) {}
