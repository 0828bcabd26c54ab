// Copyright 2017 Inca Roads LLC.  All rights reserved.
// Use of this source code is governed by licenses granted by the
// copyright holder including that found in the LICENSE file.

// Queue of work generated by inbound uplinks
package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Task is one independent unit of downstream work for a reading
type Task struct {
	Name     string
	SensorID string
	Run      func(ctx context.Context) error
}

// TaskQueue runs tasks on a fixed set of workers.  With a single worker, tasks run in
// the order in which they were submitted.  Task failures are logged here, and never
// affect any other task.
type TaskQueue struct {
	tasks  chan Task
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewTaskQueue makes the queue and starts its workers
func NewTaskQueue(workers int, depth int, logger *slog.Logger) *TaskQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &TaskQueue{
		tasks:  make(chan Task, depth),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Submit enqueues a task without blocking.  It returns false, and the task is dropped,
// if the queue is full or shutting down.
func (q *TaskQueue) Submit(t Task) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.logger.Warn("queue closed, dropping task", "task", t.Name, "sensor", t.SensorID)
		return false
	}

	select {
	case q.tasks <- t:
		return true
	default:
		q.logger.Warn("queue full, dropping task", "task", t.Name, "sensor", t.SensorID, "pending", len(q.tasks))
		return false
	}
}

// Shutdown stops accepting tasks and waits for those already queued to finish.  If ctx
// expires first, tasks still running are cancelled and the context error is returned.
func (q *TaskQueue) Shutdown(ctx context.Context) error {

	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		q.logger.Warn("shutdown grace period expired", "pending", len(q.tasks))
		return ctx.Err()
	}

}

// Dequeue and process the tasks as they're enqueued
func (q *TaskQueue) worker() {
	defer q.wg.Done()
	for t := range q.tasks {
		q.run(t)
	}
}

// Run a task, logging its failure
func (q *TaskQueue) run(t Task) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task panicked", "task", t.Name, "sensor", t.SensorID, "panic", fmt.Sprint(r))
		}
	}()

	err := t.Run(q.ctx)
	if err != nil {
		q.logger.Warn(t.Name+" failed", "sensor", t.SensorID, "error", err)
	}
}
