package craftsync

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// fileOutboxQueue persists pending tasks as a JSON snapshot so mutations made
// while offline survive a process restart.
type fileOutboxQueue struct {
	path         string
	capacity     int
	pollInterval time.Duration
	mu           sync.Mutex
	items        []OutboxTask
}

type fileOutboxQueueState struct {
	Items []OutboxTask `json:"items"`
}

func NewFileOutboxQueue(path string, capacity int) (OutboxQueue, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	if capacity <= 0 {
		capacity = 1024
	}
	q := &fileOutboxQueue{
		path:         path,
		capacity:     capacity,
		pollInterval: 10 * time.Millisecond,
		items:        []OutboxTask{},
	}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *fileOutboxQueue) TryEnqueue(task OutboxTask) bool {
	if strings.TrimSpace(task.ID) == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, task)
	if err := q.saveLocked(); err != nil {
		q.items = q.items[:len(q.items)-1]
		return false
	}
	return true
}

func (q *fileOutboxQueue) Enqueue(ctx context.Context, task OutboxTask) bool {
	for {
		if q.TryEnqueue(task) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *fileOutboxQueue) Dequeue(ctx context.Context) (OutboxTask, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			if err := q.saveLocked(); err != nil {
				q.items = append([]OutboxTask{item}, q.items...)
				q.mu.Unlock()
				select {
				case <-ctx.Done():
					return OutboxTask{}, false
				case <-time.After(q.pollInterval):
					continue
				}
			}
			q.mu.Unlock()
			return item, true
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return OutboxTask{}, false
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *fileOutboxQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *fileOutboxQueue) Capacity() int {
	return q.capacity
}

func (q *fileOutboxQueue) SnapshotTasks() []OutboxTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]OutboxTask(nil), q.items...)
}

func (q *fileOutboxQueue) Close() error {
	return nil
}

func (q *fileOutboxQueue) load() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	data, err := os.ReadFile(q.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var snapshot fileOutboxQueueState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	if len(snapshot.Items) > q.capacity {
		q.items = append([]OutboxTask(nil), snapshot.Items[len(snapshot.Items)-q.capacity:]...)
		return q.saveLocked()
	}
	q.items = append([]OutboxTask(nil), snapshot.Items...)
	return nil
}

func (q *fileOutboxQueue) saveLocked() error {
	snapshot := fileOutboxQueueState{
		Items: append([]OutboxTask(nil), q.items...),
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}
