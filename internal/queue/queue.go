// Package queue implements the durable write queue: an ordered log of
// pending backing-store writes drained by a single background worker.
//
// Mutations are accepted into the in-memory cache synchronously; the
// corresponding backing-store statements ride this queue and execute in
// enqueue order, never reordered or batched out of order, since later
// statements may depend on ids allocated by earlier ones. Listing and
// mail creates additionally leave a recovery row in the backing queue
// table until their primary row is confirmed written; a row still
// present at startup is replayed before normal operation resumes.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DrkMatr1984/GlobalMarket/internal/metrics"
	"github.com/DrkMatr1984/GlobalMarket/internal/model"
	"github.com/DrkMatr1984/GlobalMarket/internal/store"
)

// Op is one backing-store statement.
type Op interface {
	// Describe identifies the statement for failure logs.
	Describe() string
	// Apply executes the statement.
	Apply(ctx context.Context, st store.Store) error
}

type job struct {
	desc string
	run  func(ctx context.Context) error
}

// Queue is the write queue. One worker goroutine owns the backing-store
// side; the pending map is the only state shared with the callers'
// goroutine and is mutex-guarded.
type Queue struct {
	st store.Store

	mu      sync.Mutex
	pending map[int]model.QueueEntry
	next    int
	closed  bool

	jobs chan job
	done chan struct{}
}

// New creates a queue over the given backing store. Start must be called
// before the first submit.
func New(st store.Store) *Queue {
	return &Queue{
		st:      st,
		pending: make(map[int]model.QueueEntry),
		next:    1,
		jobs:    make(chan job, 256),
		done:    make(chan struct{}),
	}
}

// Start launches the background worker.
func (q *Queue) Start() {
	go q.run()
}

func (q *Queue) run() {
	defer close(q.done)
	for j := range q.jobs {
		if err := j.run(context.Background()); err != nil {
			// In-memory state is not rolled back: the cache is the
			// bootstrap source of truth. Log with enough context for
			// manual repair.
			slog.Error("persistence failure", "op", j.desc, "err", err)
			metrics.PersistenceFailures.WithLabelValues(j.desc).Inc()
		}
		metrics.QueueDepth.Set(float64(q.Depth()))
	}
}

func (q *Queue) submit(j job) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		slog.Error("queue closed, dropping write", "op", j.desc)
		return
	}
	q.jobs <- j
	metrics.QueueDepth.Set(float64(q.Depth()))
}

// Submit schedules a plain asynchronous statement with no recovery row.
// Fire-and-forget: the caller never waits for the backing write.
func (q *Queue) Submit(op Op) {
	q.submit(job{desc: op.Describe(), run: func(ctx context.Context) error {
		return op.Apply(ctx, q.st)
	}})
}

// EnqueueListing records a pending listing create: a recovery row is
// written ahead of the primary row and deleted once the primary write is
// confirmed.
func (q *Queue) EnqueueListing(l model.Listing) model.QueueEntry {
	return q.enqueue(model.QueueEntry{Kind: model.KindListing, Listing: &l})
}

// EnqueueMail records a pending mail create, as EnqueueListing.
func (q *Queue) EnqueueMail(m model.Mail) model.QueueEntry {
	return q.enqueue(model.QueueEntry{Kind: model.KindMail, Mail: &m})
}

func (q *Queue) enqueue(e model.QueueEntry) model.QueueEntry {
	q.mu.Lock()
	e.ID = q.next
	q.next++
	e.Time = time.Now().UnixMilli()
	q.pending[e.ID] = e
	q.mu.Unlock()

	data, _ := json.Marshal(e)
	desc := fmt.Sprintf("queue entry %d (%s)", e.ID, e.Kind)
	q.submit(job{desc: desc, run: func(ctx context.Context) error {
		// Recovery row first. A failure here is logged but does not block
		// the primary write; it only weakens crash recovery for this one
		// entry.
		if err := q.st.InsertQueueRow(ctx, e.ID, string(data)); err != nil {
			slog.Error("recovery row write failed", "op", desc, "err", err)
			metrics.PersistenceFailures.WithLabelValues("insert queue row").Inc()
		}
		var err error
		switch e.Kind {
		case model.KindListing:
			err = q.st.InsertListing(ctx, *e.Listing)
		case model.KindMail:
			err = q.st.InsertMail(ctx, *e.Mail)
		default:
			err = fmt.Errorf("unknown queue entry kind %q", e.Kind)
		}
		if err != nil {
			// Leave the recovery row and the pending entry: the next
			// startup replays this write.
			return err
		}
		q.resolve(ctx, e.ID)
		return nil
	}})
	return e
}

// Resolve marks a queue entry's primary row as confirmed durable,
// removing the entry from the in-memory queue and, asynchronously, from
// the backing recovery table. Used by startup replay; the worker
// resolves its own entries inline.
func (q *Queue) Resolve(id int) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
	q.submit(job{desc: fmt.Sprintf("resolve queue entry %d", id), run: func(ctx context.Context) error {
		return q.st.DeleteQueueRow(ctx, id)
	}})
}

func (q *Queue) resolve(ctx context.Context, id int) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
	if err := q.st.DeleteQueueRow(ctx, id); err != nil {
		slog.Error("recovery row delete failed", "entry", id, "err", err)
		metrics.PersistenceFailures.WithLabelValues("delete queue row").Inc()
	}
}

// DecodeEntry parses a serialized recovery row.
func DecodeEntry(data string) (model.QueueEntry, error) {
	var e model.QueueEntry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return model.QueueEntry{}, fmt.Errorf("decode queue entry: %w", err)
	}
	switch e.Kind {
	case model.KindListing, model.KindMail:
		return e, nil
	default:
		return model.QueueEntry{}, fmt.Errorf("queue entry %d: unknown kind %q", e.ID, e.Kind)
	}
}

// SyncIndex bumps the id counter past ids seen during recovery.
func (q *Queue) SyncIndex(maxSeen int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if maxSeen >= q.next {
		q.next = maxSeen + 1
	}
}

// Pending returns a snapshot of unconfirmed entries.
func (q *Queue) Pending() []model.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.QueueEntry, 0, len(q.pending))
	for _, e := range q.pending {
		out = append(out, e)
	}
	return out
}

// Depth returns the number of unconfirmed entries.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Flush blocks until every statement submitted before the call has been
// executed, or the context expires.
func (q *Queue) Flush(ctx context.Context) error {
	flushed := make(chan struct{})
	q.submit(job{desc: "flush", run: func(context.Context) error {
		close(flushed)
		return nil
	}})
	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains outstanding statements best-effort and stops the worker.
// Submissions after Close are dropped with a logged error.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	close(q.jobs)
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- Async convenience submitters ---

// InsertItemAsync implements registry.Syncer.
func (q *Queue) InsertItemAsync(id int, data string) {
	q.Submit(InsertItem{ID: id, Data: data})
}

// --- Plain statements ---

// InsertItem writes a canonical item row.
type InsertItem struct {
	ID   int
	Data string
}

func (o InsertItem) Describe() string { return fmt.Sprintf("insert item %d", o.ID) }
func (o InsertItem) Apply(ctx context.Context, st store.Store) error {
	return st.InsertItem(ctx, o.ID, o.Data)
}

// InsertListing writes a listing row under an explicit id (restore path).
type InsertListing struct{ Listing model.Listing }

func (o InsertListing) Describe() string { return fmt.Sprintf("insert listing %d", o.Listing.ID) }
func (o InsertListing) Apply(ctx context.Context, st store.Store) error {
	return st.InsertListing(ctx, o.Listing)
}

// DeleteListing removes a listing row.
type DeleteListing struct{ ID int }

func (o DeleteListing) Describe() string { return fmt.Sprintf("delete listing %d", o.ID) }
func (o DeleteListing) Apply(ctx context.Context, st store.Store) error {
	return st.DeleteListing(ctx, o.ID)
}

// InsertMail writes a mail row under an explicit id (restore path).
type InsertMail struct{ Mail model.Mail }

func (o InsertMail) Describe() string { return fmt.Sprintf("insert mail %d", o.Mail.ID) }
func (o InsertMail) Apply(ctx context.Context, st store.Store) error {
	return st.InsertMail(ctx, o.Mail)
}

// DeleteMail removes a mail row.
type DeleteMail struct{ ID int }

func (o DeleteMail) Describe() string { return fmt.Sprintf("delete mail %d", o.ID) }
func (o DeleteMail) Apply(ctx context.Context, st store.Store) error {
	return st.DeleteMail(ctx, o.ID)
}

// ClearMailPickup zeroes a mail row's pickup value.
type ClearMailPickup struct{ ID int }

func (o ClearMailPickup) Describe() string { return fmt.Sprintf("clear mail pickup %d", o.ID) }
func (o ClearMailPickup) Apply(ctx context.Context, st store.Store) error {
	return st.ClearMailPickup(ctx, o.ID)
}

// InsertHistory appends an immutable action record.
type InsertHistory struct{ Entry model.HistoryEntry }

func (o InsertHistory) Describe() string {
	return fmt.Sprintf("history %s %s", o.Entry.Player, o.Entry.Action)
}
func (o InsertHistory) Apply(ctx context.Context, st store.Store) error {
	return st.InsertHistory(ctx, o.Entry)
}

// AddUserTotals adds to a player's earned/spent aggregates.
type AddUserTotals struct{ Totals model.UserTotals }

func (o AddUserTotals) Describe() string { return fmt.Sprintf("user totals %s", o.Totals.Name) }
func (o AddUserTotals) Apply(ctx context.Context, st store.Store) error {
	return st.AddUserTotals(ctx, o.Totals.Name, o.Totals.Earned, o.Totals.Spent)
}
