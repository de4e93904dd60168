package warehouse

import (
	"context"
	"sync"
)

// Fake is an in-memory Client used by strategy and materializer tests:
// it records every statement it was asked to execute and returns
// pre-programmed rows for Execute(fetch=true) calls, without requiring a
// live warehouse connection.
type Fake struct {
	mu sync.Mutex

	Executed    []string
	TxBatches   [][]string
	FetchResult []Row
	FetchErr    error
	ExecErr     error
	Healthy     bool

	// SessionVarsSeen records the sessionVars map passed to the most
	// recent Execute/ExecuteTx call.
	SessionVarsSeen map[string]string
}

// NewFake returns a Fake that reports healthy and has no queued errors.
func NewFake() *Fake {
	return &Fake{Healthy: true}
}

func (f *Fake) Execute(_ context.Context, sql string, sessionVars map[string]string, fetch bool) ([]Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Executed = append(f.Executed, sql)
	f.SessionVarsSeen = sessionVars
	if f.ExecErr != nil {
		return nil, f.ExecErr
	}
	if !fetch {
		return nil, nil
	}
	return f.FetchResult, f.FetchErr
}

func (f *Fake) ExecuteTx(_ context.Context, sqls []string, sessionVars map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TxBatches = append(f.TxBatches, sqls)
	f.Executed = append(f.Executed, sqls...)
	f.SessionVarsSeen = sessionVars
	return f.ExecErr
}

func (f *Fake) HealthCheck(context.Context) bool {
	return f.Healthy
}

func (f *Fake) Close() {}

var _ Client = (*Fake)(nil)
