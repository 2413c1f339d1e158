// Package scheduler runs background work: a bounded queue drained by a
// fixed set of workers, plus periodic low-priority tasks.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("tinymist.scheduler")

// ErrStopped is returned when scheduling on a stopped scheduler.
var ErrStopped = errors.New("scheduler: stopped")

type Task struct {
	Name string
	// Key coalesces tasks: a task is dropped while another with the same
	// non-empty key is still queued.
	Key     string
	Execute func(ctx context.Context) error
}

type Scheduler struct {
	taskQueue chan Task
	workers   int

	mu      sync.Mutex
	queued  map[string]bool
	stopped bool

	// lowPriorityLock keeps one periodic task running at a time.
	lowPriorityLock sync.Mutex
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	running         sync.WaitGroup
}

// NewScheduler creates a new Scheduler with the specified queue size and
// number of workers.
func NewScheduler(queueSize, workers int) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		taskQueue: make(chan Task, queueSize),
		workers:   workers,
		queued:    make(map[string]bool),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// RunScheduler starts the workers.
func (s *Scheduler) RunScheduler() {
	for i := 0; i < s.workers; i++ {
		s.running.Add(1)
		go func() {
			defer s.running.Done()
			for task := range s.taskQueue {
				s.execute(task)
			}
		}()
	}
}

func (s *Scheduler) execute(task Task) {
	defer s.wg.Done()
	if task.Key != "" {
		s.mu.Lock()
		delete(s.queued, task.Key)
		s.mu.Unlock()
	}
	log.Debugf("executing %s", task.Name)
	if err := task.Execute(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warningf("task %s: %s", task.Name, err)
	}
}

// enqueue adds the task unless the queue is full or an equal key is
// pending. It reports whether the task was queued.
func (s *Scheduler) enqueue(task Task, block bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false, ErrStopped
	}
	if task.Key != "" && s.queued[task.Key] {
		return false, nil
	}
	s.wg.Add(1)
	if block {
		// The lock is held so StopScheduler cannot close the queue
		// underneath a blocked send.
		select {
		case s.taskQueue <- task:
		case <-s.ctx.Done():
			s.wg.Done()
			return false, ErrStopped
		}
	} else {
		select {
		case s.taskQueue <- task:
		default:
			s.wg.Done()
			log.Debugf("skipped scheduling %s, queue is full", task.Name)
			return false, nil
		}
	}
	if task.Key != "" {
		s.queued[task.Key] = true
	}
	return true, nil
}

// ScheduleHighPriorityTask queues a task, waiting for room in the queue.
func (s *Scheduler) ScheduleHighPriorityTask(task Task) error {
	_, err := s.enqueue(task, true)
	return err
}

// SchedulePeriodicTask runs lowTask at startup and then every interval,
// skipping a tick when the queue is full.
func (s *Scheduler) SchedulePeriodicTask(interval time.Duration, lowTask Task) {
	ticker := time.NewTicker(interval)

	go func() {
		s.lowPriorityLock.Lock()
		defer s.lowPriorityLock.Unlock()
		if err := lowTask.Execute(s.ctx); err != nil {
			log.Warningf("task %s: %s", lowTask.Name, err)
		}
	}()

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.lowPriorityLock.Lock()
				queued, err := s.enqueue(lowTask, false)
				s.lowPriorityLock.Unlock()
				if errors.Is(err, ErrStopped) {
					return
				}
				if queued {
					log.Debugf("scheduled %s", lowTask.Name)
				}
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

// Wait blocks until every queued task has run.
func (s *Scheduler) Wait() { s.wg.Wait() }

// StopScheduler drains the queue and stops the workers. Tasks still
// running see their context cancelled.
func (s *Scheduler) StopScheduler() {
	log.Info("stopping scheduler")
	s.cancel()
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.taskQueue)
	s.mu.Unlock()
	s.running.Wait()
	log.Info("scheduler stopped")
}
