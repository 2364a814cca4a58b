// SPDX-FileCopyrightText: 2025 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package sched is gmesh's scheduled-task facility. It provides one-shot
// tasks, e.g. a retransmission timer, and named periodic jobs, e.g. the sweep
// of an age-out cache. All tasks die with the Scheduler.
package sched

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// MinInterval is the lowest interval accepted for a periodic job.
const MinInterval = 10 * time.Millisecond

// Task is a scheduled one-shot function.
type Task struct {
	mutex     sync.Mutex
	timer     *time.Timer
	scheduler *Scheduler
	done      bool
}

// Cancel stops the Task. It returns false if the Task already fired or was
// cancelled before.
func (task *Task) Cancel() bool {
	task.mutex.Lock()
	defer task.mutex.Unlock()

	if task.done {
		return false
	}
	task.done = true

	if task.timer != nil {
		task.timer.Stop()
	}
	if task.scheduler != nil {
		task.scheduler.forget(task)
	}
	return true
}

func (task *Task) markFired() bool {
	task.mutex.Lock()
	defer task.mutex.Unlock()

	if task.done {
		return false
	}
	task.done = true
	return true
}

type periodicJob struct {
	interval time.Duration
	task     func()
	stopSyn  chan struct{}
	stopAck  chan struct{}
}

// Scheduler manages one-shot Tasks and named periodic jobs.
type Scheduler struct {
	mutex   sync.Mutex
	stopped bool
	tasks   map[*Task]struct{}
	jobs    map[string]*periodicJob
}

// NewScheduler creates an empty, running Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		tasks: make(map[*Task]struct{}),
		jobs:  make(map[string]*periodicJob),
	}
}

// ScheduleOnce runs f once after the given delay. The returned Task may be
// cancelled until then. Scheduling on a stopped Scheduler is an error.
func (s *Scheduler) ScheduleOnce(delay time.Duration, f func()) (*Task, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.stopped {
		return nil, fmt.Errorf("scheduler is stopped")
	}

	task := &Task{scheduler: s}
	task.timer = time.AfterFunc(delay, func() {
		if !task.markFired() {
			return
		}
		s.forget(task)
		f()
	})

	s.tasks[task] = struct{}{}
	return task, nil
}

func (s *Scheduler) forget(task *Task) {
	s.mutex.Lock()
	delete(s.tasks, task)
	s.mutex.Unlock()
}

// RegisterPeriodic runs f every interval under the given unique name, until
// unregistered or the Scheduler stops. The first execution happens one
// interval from now.
func (s *Scheduler) RegisterPeriodic(name string, interval time.Duration, f func()) error {
	if interval < MinInterval {
		return fmt.Errorf("interval %v is shorter than %v", interval, MinInterval)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("a job named %s is already registered", name)
	}

	job := &periodicJob{
		interval: interval,
		task:     f,
		stopSyn:  make(chan struct{}),
		stopAck:  make(chan struct{}),
	}
	s.jobs[name] = job

	go job.loop(name)

	log.WithFields(log.Fields{
		"job":      name,
		"interval": interval,
	}).Debug("Scheduler registered periodic job")

	return nil
}

func (job *periodicJob) loop(name string) {
	ticker := time.NewTicker(job.interval)
	defer ticker.Stop()

	for {
		select {
		case <-job.stopSyn:
			close(job.stopAck)
			return

		case <-ticker.C:
			job.task()
		}
	}
}

// UnregisterPeriodic stops and removes the named periodic job.
func (s *Scheduler) UnregisterPeriodic(name string) {
	s.mutex.Lock()
	job, exists := s.jobs[name]
	if exists {
		delete(s.jobs, name)
	}
	s.mutex.Unlock()

	if exists {
		close(job.stopSyn)
		<-job.stopAck
	}
}

// Stop cancels all pending Tasks and periodic jobs. Afterwards, every
// scheduling attempt errors. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	if s.stopped {
		s.mutex.Unlock()
		return
	}
	s.stopped = true

	tasks := make([]*Task, 0, len(s.tasks))
	for task := range s.tasks {
		tasks = append(tasks, task)
	}
	s.tasks = make(map[*Task]struct{})

	jobs := s.jobs
	s.jobs = make(map[string]*periodicJob)
	s.mutex.Unlock()

	for _, task := range tasks {
		task.mutex.Lock()
		if !task.done {
			task.done = true
			task.timer.Stop()
		}
		task.mutex.Unlock()
	}

	for _, job := range jobs {
		close(job.stopSyn)
		<-job.stopAck
	}
}
