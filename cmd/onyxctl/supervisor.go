package main

import (
	"os"

	"github.com/onyxsvc/onyx/internal/repo"
	"github.com/onyxsvc/onyx/internal/status"
	"github.com/onyxsvc/onyx/internal/supervisor"
)

// openSupervisor wires a FifoClient to the control/event fifos named by
// AA_CONTROL_FIFO / AA_EVENT_FIFO, when both are set. The real
// supervisor process is an external collaborator (spec.md §1); onyxctl
// only knows how to talk to one already running with its fifos in
// place. Without both variables this returns a nil Client, and longrun
// services are simply not managed by this invocation.
func openSupervisor(rp *repo.Repo) (supervisor.Client, error) {
	controlPath := os.Getenv("AA_CONTROL_FIFO")
	eventPath := os.Getenv("AA_EVENT_FIFO")
	if controlPath == "" || eventPath == "" {
		return nil, nil
	}

	controlW, err := os.OpenFile(controlPath, os.O_WRONLY, 0)
	if err != nil {
		return nil, err
	}
	eventR, err := os.OpenFile(eventPath, os.O_RDONLY, 0)
	if err != nil {
		controlW.Close()
		return nil, err
	}

	statusOf := func(name string) (status.Record, bool, error) {
		return status.Read(rp.ServiceDir(name))
	}
	return supervisor.NewFifoClient(controlW, eventR, statusOf), nil
}
