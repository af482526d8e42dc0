// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

package main

import (
	"context"
	"sync"

	"github.com/knowly/knowly/internal/store"
)

type fakeControlServer struct {
	mu       sync.Mutex
	startErr error
	errCh    chan error
	serving  []bool
	stopped  bool
}

func (f *fakeControlServer) Start(string) (<-chan error, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	if f.errCh != nil {
		return f.errCh, nil
	}
	return make(chan error), nil
}

func (f *fakeControlServer) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeControlServer) SetServing(serving bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serving = append(f.serving, serving)
}

func (f *fakeControlServer) Addr() string { return "127.0.0.1:0" }

func (f *fakeControlServer) servingCalls() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.serving...)
}

// fakeMigrator records the calls made against it.
type fakeMigrator struct {
	calls    []string
	version  uint
	dirty    bool
	upErr    error
	steps    int
	forced   int
	status   *store.Status
	closeErr error
}

func (f *fakeMigrator) Up() error {
	f.calls = append(f.calls, "up")
	return f.upErr
}

func (f *fakeMigrator) Down() error {
	f.calls = append(f.calls, "down")
	return nil
}

func (f *fakeMigrator) Steps(n int) error {
	f.calls = append(f.calls, "steps")
	f.steps = n
	return nil
}

func (f *fakeMigrator) Version() (uint, bool, error) {
	f.calls = append(f.calls, "version")
	return f.version, f.dirty, nil
}

func (f *fakeMigrator) Force(version int) error {
	f.calls = append(f.calls, "force")
	f.forced = version
	return nil
}

func (f *fakeMigrator) Status() (*store.Status, error) {
	f.calls = append(f.calls, "status")
	return f.status, nil
}

func (f *fakeMigrator) Close() error {
	f.calls = append(f.calls, "close")
	return f.closeErr
}
