// Package process runs the external worker processes that serve shared apps.
//
// A Worker starts one command with its output captured in log files, exposes
// an Exited channel for early-exit detection, and stops with SIGTERM followed
// by SIGKILL once a grace period passes. WaitReady polls a condition while
// watching for the process to die.
package process
