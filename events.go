package svchost

import "context"

// StatusQuerier is the subset of the host adapter the monitors need
type StatusQuerier interface {
	QueryStatus(ctx context.Context, id string) ServiceStatus
}

// BaselineEvent is one batch of records whose status changed during a
// baseline sweep. Records are clones; consumers may keep them.
type BaselineEvent struct {
	Changed []*ServiceRecord
}

// PollEvent is one coordinator tick's worth of status observations. It
// carries every id queried that tick, changed or not; consumers decide what
// to do with unchanged values. Both event streams are equally authoritative:
// last write wins per (service, status).
type PollEvent struct {
	Statuses map[string]ServiceStatus
}
