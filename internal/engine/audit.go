package engine

import (
	"context"

	"stashd/internal/store"
	"stashd/pkg/logx"
)

// StoreAudit appends audit events to the store's audit trail. Failures are
// logged and swallowed: an unavailable sink must never block or fail a pass.
type StoreAudit struct {
	St  store.Store
	Log logx.Logger
}

func (a StoreAudit) Record(ctx context.Context, e store.AuditEntry) {
	if a.St == nil {
		return
	}
	if err := a.St.AppendAudit(ctx, e); err != nil {
		a.Log.Debug("audit record dropped", logx.String("event", e.Event), logx.Err(err))
	}
}

// NopAudit discards everything.
type NopAudit struct{}

func (NopAudit) Record(ctx context.Context, e store.AuditEntry) {}
