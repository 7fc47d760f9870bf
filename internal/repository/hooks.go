package repository

import (
	"context"
	"sync"
)

type txKey struct{}

// txState is what a Transactor stores in the context for the lifetime of
// one transaction.
type txState struct {
	hooks *CommitHooks
	conn  interface{}
}

// CommitHooks collects callbacks to run after a successful commit.
type CommitHooks struct {
	mu  sync.Mutex
	ctx context.Context
	fns []func(ctx context.Context)
}

// Begin marks ctx as carrying a transaction. conn is the driver handle
// (nil for the memory store). The returned hooks must be Run after commit.
func Begin(ctx context.Context, conn interface{}) (context.Context, *CommitHooks) {
	h := &CommitHooks{ctx: Detach(ctx)}
	return context.WithValue(ctx, txKey{}, &txState{hooks: h, conn: conn}), h
}

// InTx reports whether ctx carries an open transaction.
func InTx(ctx context.Context) bool {
	st, _ := ctx.Value(txKey{}).(*txState)
	return st != nil
}

// Conn returns the driver handle of the transaction in ctx.
func Conn(ctx context.Context) interface{} {
	if st, _ := ctx.Value(txKey{}).(*txState); st != nil {
		return st.conn
	}
	return nil
}

// Detach returns ctx without its transaction, keeping values and deadline.
func Detach(ctx context.Context) context.Context {
	if !InTx(ctx) {
		return ctx
	}
	return context.WithValue(ctx, txKey{}, (*txState)(nil))
}

// AfterCommit defers fn until the surrounding transaction commits; fn then
// receives a context outside the transaction. Outside a transaction fn
// runs immediately.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	st, _ := ctx.Value(txKey{}).(*txState)
	if st == nil {
		fn(ctx)
		return
	}
	h := st.hooks
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

// Run executes the hooks in registration order.
func (h *CommitHooks) Run() {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()

	for _, fn := range fns {
		fn(h.ctx)
	}
}
