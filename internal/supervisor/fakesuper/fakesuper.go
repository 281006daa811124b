//go:build integration

// Package fakesuper runs a minimal reference supervisor in a container
// for integration tests: a tiny program speaking the same
// control-fifo/event-channel protocol as the real supervisor, so
// internal/supervisor and internal/scheduler can be exercised against a
// real process rather than a mock. The real supervisor is an external
// collaborator out of this module's scope (spec.md §1); this is a
// disposable stand-in for it.
package fakesuper

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Supervisor is a running fake supervisor container exposing its control
// and event endpoints over TCP (the container-friendly substitute for
// local fifos).
type Supervisor struct {
	container testcontainers.Container
	ControlAddr string
	EventAddr   string
}

// Start launches the fake supervisor image. The image is expected to
// listen on two ports: 7001 for control commands, 7002 for the event
// stream, speaking the same one-byte alphabet as internal/supervisor.
func Start(ctx context.Context, image string) (*Supervisor, error) {
	req := testcontainers.ContainerRequest{
		Image:        image,
		ExposedPorts: []string{"7001/tcp", "7002/tcp"},
		WaitingFor:   wait.ForListeningPort("7001/tcp").WithStartupTimeout(30 * time.Second),
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.AutoRemove = true
		},
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("fakesuper: starting container: %w", err)
	}

	controlAddr, err := endpoint(ctx, c, "7001/tcp")
	if err != nil {
		c.Terminate(ctx)
		return nil, err
	}
	eventAddr, err := endpoint(ctx, c, "7002/tcp")
	if err != nil {
		c.Terminate(ctx)
		return nil, err
	}

	return &Supervisor{container: c, ControlAddr: controlAddr, EventAddr: eventAddr}, nil
}

func endpoint(ctx context.Context, c testcontainers.Container, port string) (string, error) {
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		return "", fmt.Errorf("fakesuper: mapped port %s: %w", port, err)
	}
	host, err := c.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("fakesuper: host: %w", err)
	}
	return net.JoinHostPort(host, mapped.Port()), nil
}

// Stop terminates the fake supervisor container.
func (s *Supervisor) Stop(ctx context.Context) error {
	return s.container.Terminate(ctx)
}

// Dial opens TCP connections to both endpoints, suitable for wiring into
// supervisor.NewFifoClient in place of the real fifo pair.
func (s *Supervisor) Dial() (control net.Conn, event net.Conn, err error) {
	control, err = net.Dial("tcp", s.ControlAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("fakesuper: dialing control: %w", err)
	}
	event, err = net.Dial("tcp", s.EventAddr)
	if err != nil {
		control.Close()
		return nil, nil, fmt.Errorf("fakesuper: dialing event: %w", err)
	}
	return control, event, nil
}
