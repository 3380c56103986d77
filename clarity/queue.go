// autofocus - pick the sharpest fiber end-face images during a stage sweep
//  Copyright (C) 2026, The Fiberend Project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package clarity

import (
	"image"
	"sync"
	"time"
)

// Task is one frame waiting to be scored.
type Task struct {
	CameraID string
	Image    *image.Gray
	Received time.Time

	endOfSweep bool
}

// TaskQueue is a FIFO of frames fed by camera callbacks and drained by the
// engine worker.
type TaskQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []Task
	closed bool
	idle   bool
}

func NewTaskQueue() *TaskQueue {
	q := &TaskQueue{idle: true}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *TaskQueue) Push(cameraID string, img *image.Gray) {
	q.push(Task{CameraID: cameraID, Image: img, Received: time.Now()})
}

// pushMarker queues a task that tells the worker the stage has stopped.
func (q *TaskQueue) pushMarker() {
	q.push(Task{endOfSweep: true, Received: time.Now()})
}

func (q *TaskQueue) push(t Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.tasks = append(q.tasks, t)
	q.cond.Broadcast()
}

// Pop blocks until a task is available. It returns false once the queue
// has been closed and drained.
func (q *TaskQueue) Pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.idle = true
	q.cond.Broadcast()
	for len(q.tasks) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.tasks) == 0 {
		return Task{}, false
	}
	t := q.tasks[0]
	q.tasks[0] = Task{}
	q.tasks = q.tasks[1:]
	q.idle = false
	return t, true
}

func (q *TaskQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Purge drops every queued task.
func (q *TaskQueue) Purge() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.tasks)
	q.tasks = nil
	q.cond.Broadcast()
	return n
}

// WaitIdle blocks until the queue is empty and the consumer has finished
// the last task it popped, or until done is closed.
func (q *TaskQueue) WaitIdle(done <-chan struct{}) bool {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-done:
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-stop:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	for !(q.idle && len(q.tasks) == 0) && !q.closed {
		select {
		case <-done:
			return false
		default:
		}
		q.cond.Wait()
	}
	return true
}

func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
