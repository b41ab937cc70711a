package audit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/clinicore/clinicsync/internal/store"
	"go.uber.org/zap"
)

// Appender writes audit entries through a bounded queue so a slow event log
// sink never adds latency to the broadcast paths that produce the entries.
// When the queue is full the entry is dropped and counted; audit loss under
// sink outage is accepted.
type Appender struct {
	logger  *zap.Logger
	log     store.EventLog
	timeout time.Duration

	queue   chan store.Entry
	done    chan struct{}
	stopped chan struct{}
	dropped atomic.Int64
}

func NewAppender(logger *zap.Logger, log store.EventLog, queueSize int, timeout time.Duration) *Appender {
	a := &Appender{
		logger:  logger,
		log:     log,
		timeout: timeout,
		queue:   make(chan store.Entry, queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	go a.run()

	return a
}

// Append enqueues an entry without blocking the caller.
func (a *Appender) Append(entry store.Entry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	select {
	case a.queue <- entry:
	default:
		dropped := a.dropped.Add(1)
		a.logger.Warn("audit queue full, dropping entry",
			zap.String("action", entry.Action),
			zap.Int64("totalDropped", dropped))
	}
}

// Dropped returns how many entries have been discarded since start.
func (a *Appender) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting entries and drains the queue.
func (a *Appender) Close() {
	close(a.done)
	<-a.stopped
}

func (a *Appender) run() {
	defer close(a.stopped)

	for {
		select {
		case entry := <-a.queue:
			a.append(entry)
		case <-a.done:
			for {
				select {
				case entry := <-a.queue:
					a.append(entry)
				default:
					return
				}
			}
		}
	}
}

func (a *Appender) append(entry store.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	err := a.log.Append(ctx, entry)
	if err != nil {
		a.logger.Warn("failed to append audit entry",
			zap.String("action", entry.Action),
			zap.Error(err))
	}
}

// SeverityForPriority maps a notification priority onto an audit severity,
// matching the log levels the original clinic backend recorded.
func SeverityForPriority(priority store.Priority) store.Severity {
	switch priority {
	case store.PriorityUrgent:
		return store.SeverityCritical
	case store.PriorityHigh:
		return store.SeverityHigh
	case store.PriorityMedium:
		return store.SeverityMedium
	default:
		return store.SeverityLow
	}
}
