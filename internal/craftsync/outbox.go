package craftsync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
)

type OutboxOp string

const (
	OutboxOpUpsert OutboxOp = "upsert"
	OutboxOpDelete OutboxOp = "delete"
)

// OutboxTask is one pending remote write produced by a local mutation. Tasks
// reference the mutated row, not its payload: the worker reads the current
// row at drain time, so a task always uploads the latest local state.
type OutboxTask struct {
	ID         string     `json:"id"`
	Op         OutboxOp   `json:"op"`
	Collection Collection `json:"collection"`
	DocID      string     `json:"docId"`
	Attempts   int        `json:"attempts"`
	EnqueuedAt time.Time  `json:"enqueuedAt"`
}

// OutboxQueue is the durable buffer between local mutations and the remote
// store. Implementations: in-memory, JSON file, Postgres.
type OutboxQueue interface {
	TryEnqueue(task OutboxTask) bool
	Enqueue(ctx context.Context, task OutboxTask) bool
	Dequeue(ctx context.Context) (OutboxTask, bool)
	Depth() int
	Capacity() int
	Close() error
}

type outboxQueueSnapshotter interface {
	SnapshotTasks() []OutboxTask
}

type inMemoryOutboxQueue struct {
	ch    chan OutboxTask
	mu    sync.Mutex
	items map[string]OutboxTask
}

func NewInMemoryOutboxQueue(capacity int) OutboxQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &inMemoryOutboxQueue{
		ch:    make(chan OutboxTask, capacity),
		items: make(map[string]OutboxTask),
	}
}

func (q *inMemoryOutboxQueue) TryEnqueue(task OutboxTask) bool {
	if q == nil || task.ID == "" {
		return false
	}
	select {
	case q.ch <- task:
		q.mu.Lock()
		q.items[task.ID] = task
		q.mu.Unlock()
		return true
	default:
		return false
	}
}

func (q *inMemoryOutboxQueue) Enqueue(ctx context.Context, task OutboxTask) bool {
	if q == nil || task.ID == "" {
		return false
	}
	select {
	case q.ch <- task:
		q.mu.Lock()
		q.items[task.ID] = task
		q.mu.Unlock()
		return true
	case <-ctx.Done():
		return false
	}
}

func (q *inMemoryOutboxQueue) Dequeue(ctx context.Context) (OutboxTask, bool) {
	if q == nil {
		return OutboxTask{}, false
	}
	select {
	case task := <-q.ch:
		q.mu.Lock()
		delete(q.items, task.ID)
		q.mu.Unlock()
		return task, true
	case <-ctx.Done():
		return OutboxTask{}, false
	}
}

func (q *inMemoryOutboxQueue) SnapshotTasks() []OutboxTask {
	if q == nil {
		return []OutboxTask{}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	result := make([]OutboxTask, 0, len(q.items))
	for _, task := range q.items {
		result = append(result, task)
	}
	return result
}

func (q *inMemoryOutboxQueue) Depth() int {
	if q == nil {
		return 0
	}
	return len(q.ch)
}

func (q *inMemoryOutboxQueue) Capacity() int {
	if q == nil {
		return 0
	}
	return cap(q.ch)
}

func (q *inMemoryOutboxQueue) Close() error {
	return nil
}

// OutboxEvent is one observable outcome of draining a task.
type OutboxEvent struct {
	TaskID     string     `json:"taskId"`
	Op         OutboxOp   `json:"op"`
	Collection Collection `json:"collection"`
	DocID      string     `json:"docId"`
	Attempt    int        `json:"attempt"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	At         time.Time  `json:"at"`
}

const (
	OutboxStatusSynced       = "synced"
	OutboxStatusRetrying     = "retrying"
	OutboxStatusDropped      = "dropped"
	OutboxStatusDeadLettered = "dead_lettered"
)

type OutboxDeadLetter struct {
	Task      OutboxTask `json:"task"`
	LastError string     `json:"lastError"`
	FailedAt  time.Time  `json:"failedAt"`
}

type OutboxOptions struct {
	Queue         OutboxQueue
	Syncer        *Syncer
	Local         LocalStore
	Logger        zerolog.Logger
	MaxAttempts   int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	Workers       int
}

// Outbox makes per-mutation sync durable and observable: mutations publish
// tasks, worker goroutines drain them against the remote store with
// exponential backoff, and exhausted tasks land in a dead-letter list instead
// of vanishing. The mutation caller never waits on any of this.
type Outbox struct {
	queue         OutboxQueue
	syncer        *Syncer
	local         LocalStore
	log           zerolog.Logger
	maxAttempts   int
	retryDelay    time.Duration
	maxRetryDelay time.Duration
	workers       int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	wctx        WorkspaceContext
	started     bool
	deadLetters []OutboxDeadLetter
	subscribers map[int]chan OutboxEvent
	nextSub     int

	closeOnce sync.Once
}

func NewOutbox(opts OutboxOptions) *Outbox {
	queue := opts.Queue
	if queue == nil {
		queue = NewInMemoryOutboxQueue(1024)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 50 * time.Millisecond
	}
	maxRetryDelay := opts.MaxRetryDelay
	if maxRetryDelay <= 0 {
		maxRetryDelay = 5 * time.Second
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Outbox{
		queue:         queue,
		syncer:        opts.Syncer,
		local:         opts.Local,
		log:           opts.Logger,
		maxAttempts:   maxAttempts,
		retryDelay:    retryDelay,
		maxRetryDelay: maxRetryDelay,
		workers:       workers,
		ctx:           ctx,
		cancel:        cancel,
		subscribers:   map[int]chan OutboxEvent{},
	}
}

// Start binds the outbox to a resolved workspace and begins draining.
// Tasks already sitting in a durable queue from a previous run are picked up
// by the workers as usual.
func (o *Outbox) Start(wctx WorkspaceContext) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return
	}
	o.wctx = wctx
	o.started = true
	o.mu.Unlock()

	o.wg.Add(o.workers)
	for i := 0; i < o.workers; i++ {
		go func() {
			defer o.wg.Done()
			o.worker()
		}()
	}
}

// Rebind points the workers at a different workspace. Tasks drained after
// the call upload into the new workspace; tasks already in flight finish
// against the old one.
func (o *Outbox) Rebind(wctx WorkspaceContext) {
	o.mu.Lock()
	o.wctx = wctx
	o.mu.Unlock()
}

func (o *Outbox) Close() {
	o.closeOnce.Do(func() {
		o.cancel()
		_ = o.queue.Close()
		o.wg.Wait()
		o.mu.Lock()
		for id, ch := range o.subscribers {
			close(ch)
			delete(o.subscribers, id)
		}
		o.mu.Unlock()
	})
}

// Publish enqueues one mutation for background sync. The caller's local write
// has already committed; a full queue is reported but must not fail the
// mutation.
func (o *Outbox) Publish(op OutboxOp, c Collection, docID string) error {
	if docID == "" {
		return ErrInvalidInput
	}
	task := OutboxTask{
		ID:         ksuid.New().String(),
		Op:         op,
		Collection: c,
		DocID:      docID,
		EnqueuedAt: time.Now().UTC(),
	}
	if !o.queue.TryEnqueue(task) {
		o.log.Error().Str("collection", string(c)).Str("doc", docID).Msg("outbox queue full, dropping sync task")
		return ErrQueueFull
	}
	return nil
}

// PublishEntity is Publish for a freshly written row with a numeric id.
func (o *Outbox) PublishEntity(c Collection, id int64) error {
	return o.Publish(OutboxOpUpsert, c, strconv.FormatInt(id, 10))
}

func (o *Outbox) Depth() int    { return o.queue.Depth() }
func (o *Outbox) Capacity() int { return o.queue.Capacity() }

func (o *Outbox) DeadLetters() []OutboxDeadLetter {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]OutboxDeadLetter, len(o.deadLetters))
	copy(out, o.deadLetters)
	return out
}

// Subscribe returns a channel of task outcomes. Slow subscribers miss events
// rather than stalling the workers.
func (o *Outbox) Subscribe(buffer int) (<-chan OutboxEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan OutboxEvent, buffer)
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subscribers[id] = ch
	o.mu.Unlock()
	cancel := func() {
		o.mu.Lock()
		if existing, ok := o.subscribers[id]; ok {
			close(existing)
			delete(o.subscribers, id)
		}
		o.mu.Unlock()
	}
	return ch, cancel
}

func (o *Outbox) worker() {
	for {
		task, ok := o.queue.Dequeue(o.ctx)
		if !ok {
			return
		}
		o.process(task)
	}
}

func (o *Outbox) process(task OutboxTask) {
	o.mu.Lock()
	wctx := o.wctx
	o.mu.Unlock()

	attempt := task.Attempts + 1
	err := o.apply(task, wctx)
	if err == nil {
		o.emit(OutboxEvent{
			TaskID: task.ID, Op: task.Op, Collection: task.Collection, DocID: task.DocID,
			Attempt: attempt, Status: OutboxStatusSynced, At: time.Now().UTC(),
		})
		return
	}
	if errors.Is(err, ErrNotFound) {
		// Row deleted before the task drained; nothing left to upload.
		o.emit(OutboxEvent{
			TaskID: task.ID, Op: task.Op, Collection: task.Collection, DocID: task.DocID,
			Attempt: attempt, Status: OutboxStatusDropped, At: time.Now().UTC(),
		})
		return
	}

	if attempt >= o.maxAttempts {
		failed := task
		failed.Attempts = attempt
		o.deadLetter(failed, err)
		return
	}

	o.log.Warn().Err(err).Str("collection", string(task.Collection)).Str("doc", task.DocID).
		Int("attempt", attempt).Msg("outbox task failed, scheduling retry")
	o.emit(OutboxEvent{
		TaskID: task.ID, Op: task.Op, Collection: task.Collection, DocID: task.DocID,
		Attempt: attempt, Status: OutboxStatusRetrying, Error: err.Error(), At: time.Now().UTC(),
	})
	retry := task
	retry.Attempts = attempt
	retryErr := err
	time.AfterFunc(o.backoff(attempt), func() {
		select {
		case <-o.ctx.Done():
		default:
			// A full queue must not lose the task: dead-letter it so the
			// failure stays visible.
			if !o.queue.TryEnqueue(retry) {
				o.deadLetter(retry, fmt.Errorf("retry enqueue failed, queue full: %w", retryErr))
			}
		}
	})
}

func (o *Outbox) deadLetter(task OutboxTask, cause error) {
	dead := OutboxDeadLetter{Task: task, LastError: cause.Error(), FailedAt: time.Now().UTC()}
	o.mu.Lock()
	o.deadLetters = append(o.deadLetters, dead)
	o.mu.Unlock()
	o.log.Error().Err(cause).Str("collection", string(task.Collection)).Str("doc", task.DocID).
		Int("attempts", task.Attempts).Msg("outbox task dead-lettered")
	o.emit(OutboxEvent{
		TaskID: task.ID, Op: task.Op, Collection: task.Collection, DocID: task.DocID,
		Attempt: task.Attempts, Status: OutboxStatusDeadLettered, Error: cause.Error(), At: time.Now().UTC(),
	})
}

func (o *Outbox) apply(task OutboxTask, wctx WorkspaceContext) error {
	ctx, cancel := context.WithTimeout(o.ctx, 30*time.Second)
	defer cancel()
	switch task.Op {
	case OutboxOpDelete:
		return o.syncer.DeleteRemote(ctx, wctx, task.Collection, task.DocID)
	default:
		id, err := strconv.ParseInt(task.DocID, 10, 64)
		if err != nil {
			return ErrInvalidInput
		}
		doc, err := o.local.GetDocument(task.Collection, id)
		if err != nil {
			return err
		}
		return o.syncer.SyncUp(ctx, wctx, task.Collection, []Document{doc})
	}
}

func (o *Outbox) backoff(attempt int) time.Duration {
	delay := o.retryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= o.maxRetryDelay {
			return o.maxRetryDelay
		}
	}
	if delay > o.maxRetryDelay {
		return o.maxRetryDelay
	}
	return delay
}

func (o *Outbox) emit(event OutboxEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ch := range o.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
