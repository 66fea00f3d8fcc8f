package psock

import "sync/atomic"

// Stats is a point-in-time snapshot of a Socket's counters.
type Stats struct {
	SendBatch     uint64
	RecvBatch     uint64
	SendDrop      uint64
	SendFail      uint64
	QueueFull     uint64
	DecodeFail    uint64
	AvgSendDelayS float64
}

// recvStats holds the receiver-side counters not owned by sendqueue.Stats.
type recvStats struct {
	recvBatch  atomic.Uint64
	decodeFail atomic.Uint64
}
