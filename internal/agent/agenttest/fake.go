// Package agenttest provides a scripted Capability for worker tests.
package agenttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/dyluth/warren/internal/agent"
)

// Invocation is one scripted capability response. Before is called with the
// request prior to returning, letting tests mutate the working copy or the
// ticket store the way a real capability would.
type Invocation struct {
	Output string
	Err    error
	Before func(req agent.Request)
}

// Fake is a Capability that replays scripted invocations in order and records
// every request it receives. Safe for use from the worker goroutine plus the
// test goroutine.
type Fake struct {
	mu       sync.Mutex
	script   []Invocation
	requests []agent.Request
}

// NewFake creates a fake capability with the given script. When the script is
// exhausted, further calls return an empty successful result.
func NewFake(script ...Invocation) *Fake {
	return &Fake{script: script}
}

// Execute replays the next scripted invocation.
func (f *Fake) Execute(_ context.Context, req agent.Request) (*agent.Result, error) {
	f.mu.Lock()
	var inv Invocation
	if len(f.script) > 0 {
		inv = f.script[0]
		f.script = f.script[1:]
	}
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if inv.Before != nil {
		inv.Before(req)
	}
	if inv.Err != nil {
		return &agent.Result{Output: inv.Output, ExitCode: 1}, inv.Err
	}
	return &agent.Result{Output: inv.Output}, nil
}

// Requests returns a copy of every request seen so far.
func (f *Fake) Requests() []agent.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.Request(nil), f.requests...)
}

// Calls returns how many times Execute ran.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Failing returns an invocation that fails with the given message.
func Failing(msg string) Invocation {
	return Invocation{Err: fmt.Errorf("%s", msg)}
}
