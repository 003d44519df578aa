// Package infra implements infrastructure concerns (process, probe, storage).
package infra

import (
	"github.com/shirou/gopsutil/v3/process"

	"github.com/focusforge/forged/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// Processes lists currently running processes with their names.
func (pm *ProcessManagerImpl) Processes() ([]domain.ProcessInfo, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	infos := make([]domain.ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue // Process may have exited
		}
		infos = append(infos, domain.ProcessInfo{PID: p.Pid, Name: name})
	}

	return infos, nil
}

// Terminate kills a process by PID using SIGKILL. Protected or system
// processes may refuse; callers retry on their next tick.
func (pm *ProcessManagerImpl) Terminate(pid int32) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
