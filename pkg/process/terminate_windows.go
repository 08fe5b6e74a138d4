//go:build windows

package process

import (
	"fmt"
	"sync"
	"syscall"
	"time"
)

const ctrlBreakTimeout = 5 * time.Second

// Windows console operation lock to prevent race conditions
var consoleOperationLock sync.Mutex

// sendCtrlBreak delivers Ctrl+Break to the process group of pid
func sendCtrlBreak(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}

	consoleOperationLock.Lock()
	defer consoleOperationLock.Unlock()

	dll, err := syscall.LoadDLL("kernel32.dll")
	if err != nil {
		return fmt.Errorf("failed to load kernel32.dll: %v", err)
	}
	defer dll.Release()

	done := make(chan error, 1)
	go func() {
		done <- generateConsoleCtrlEvent(dll, pid)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send Ctrl+Break to PID %d: %v", pid, err)
		}
		return nil
	case <-time.After(ctrlBreakTimeout):
		return fmt.Errorf("timeout sending Ctrl+Break to PID %d after %v", pid, ctrlBreakTimeout)
	}
}

func generateConsoleCtrlEvent(dll *syscall.DLL, pid int) error {
	generateConsoleCtrlEvent, err := dll.FindProc("GenerateConsoleCtrlEvent")
	if err != nil {
		return err
	}

	result, _, err := generateConsoleCtrlEvent.Call(
		uintptr(syscall.CTRL_BREAK_EVENT),
		uintptr(pid),
	)
	if result == 0 {
		return err
	}
	return nil
}
