package ipc

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/abusi/clhorde/internal/log"
)

// acquireSingleInstance enforces that only one daemon owns pidPath at a
// time. A stale PID file (one whose process no longer exists) is
// reclaimed; a live one fails the acquire.
func acquireSingleInstance(pidPath string) error {
	if data, err := os.ReadFile(pidPath); err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil && pid > 0 {
			if processAlive(pid) {
				return fmt.Errorf("ipc: daemon already running with pid %d (%s)", pid, pidPath)
			}
			log.Warn(log.CatIPC, "reclaiming stale pid file", "pid", pid, "path", pidPath)
		}
		if err := os.Remove(pidPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("ipc: removing stale pid file %s: %w", pidPath, err)
		}
	}
	f, err := os.OpenFile(pidPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) //nolint:gosec // G302: pid file is not sensitive
	if err != nil {
		return fmt.Errorf("ipc: creating pid file %s: %w", pidPath, err)
	}
	if _, err := f.WriteString(strconv.Itoa(os.Getpid()) + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("ipc: writing pid file %s: %w", pidPath, err)
	}
	return f.Close()
}

// processAlive reports whether pid names a live process, using the
// signal-0 idiom: sending signal 0 performs only existence/permission
// checks and delivers nothing.
func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
