package bridge

import (
	"time"

	"github.com/joestump/claude-relay/internal/wire"
)

// pendingPerms tracks unanswered can_use_tool requests by request_id.
// Guarded by the session lock.
type pendingPerms struct {
	byID  map[string]wire.PermissionRecord
	order []string
}

func newPendingPerms() *pendingPerms {
	return &pendingPerms{byID: make(map[string]wire.PermissionRecord)}
}

func (p *pendingPerms) put(rec wire.PermissionRecord) {
	if _, ok := p.byID[rec.RequestID]; !ok {
		p.order = append(p.order, rec.RequestID)
	}
	p.byID[rec.RequestID] = rec
}

func (p *pendingPerms) get(requestID string) (wire.PermissionRecord, bool) {
	rec, ok := p.byID[requestID]
	return rec, ok
}

func (p *pendingPerms) remove(requestID string) (wire.PermissionRecord, bool) {
	rec, ok := p.byID[requestID]
	if !ok {
		return wire.PermissionRecord{}, false
	}
	delete(p.byID, requestID)
	for i, id := range p.order {
		if id == requestID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return rec, true
}

// drain removes and returns every pending record in arrival order.
func (p *pendingPerms) drain() []wire.PermissionRecord {
	out := make([]wire.PermissionRecord, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.byID[id])
	}
	p.byID = make(map[string]wire.PermissionRecord)
	p.order = p.order[:0]
	return out
}

// all returns the pending records in arrival order without removing them.
func (p *pendingPerms) all() []wire.PermissionRecord {
	out := make([]wire.PermissionRecord, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.byID[id])
	}
	return out
}

func (p *pendingPerms) len() int { return len(p.order) }

func (p *pendingPerms) restore(recs []wire.PermissionRecord) {
	p.byID = make(map[string]wire.PermissionRecord, len(recs))
	p.order = p.order[:0]
	for _, rec := range recs {
		if rec.RequestedAt.IsZero() {
			rec.RequestedAt = time.Now().UTC()
		}
		p.put(rec)
	}
}

// ctrlCallback completes a bridge-initiated control-request. Called with the
// typed response payload on success, or an error string on the error subtype.
type ctrlCallback func(response []byte, errMsg string)

// pendingCtrl tracks bridge-originated control-requests awaiting a typed
// control_response from upstream. Entries are in-memory only: upstream close
// discards the callbacks. Guarded by the session lock.
type pendingCtrl struct {
	byID map[string]pendingCtrlEntry
}

type pendingCtrlEntry struct {
	subtype string
	done    ctrlCallback
}

func newPendingCtrl() *pendingCtrl {
	return &pendingCtrl{byID: make(map[string]pendingCtrlEntry)}
}

func (p *pendingCtrl) put(requestID, subtype string, done ctrlCallback) {
	p.byID[requestID] = pendingCtrlEntry{subtype: subtype, done: done}
}

func (p *pendingCtrl) remove(requestID string) (pendingCtrlEntry, bool) {
	e, ok := p.byID[requestID]
	if ok {
		delete(p.byID, requestID)
	}
	return e, ok
}

// clear discards every awaiting callback.
func (p *pendingCtrl) clear() {
	p.byID = make(map[string]pendingCtrlEntry)
}
