// Package scheduler implements the cooperative, non-preemptive task
// scheduler driven by package socket. Its loop shape — compare elapsed
// time against a period, run due work, log a periodic summary — follows
// collector/collector.go's ticker loop; the per-task due-time bookkeeping
// follows original_source's Task/TaskScheduler (next_run instants,
// resorted after every run).
package scheduler

import (
	"log"
	"sort"
	"time"
)

// Task is a single named periodic callback. fn receives whatever state
// the owner (package socket) closes over; the scheduler itself is
// state-agnostic.
type Task struct {
	Name     string
	Period   time.Duration
	nextRun  time.Time
	fn       func()
}

// NewTask returns a Task due immediately, to run every period thereafter.
func NewTask(name string, period time.Duration, fn func()) *Task {
	return &Task{Name: name, Period: period, fn: fn}
}

// Scheduler owns a list of tasks and runs the due ones in next-run order.
// It is not internally synchronized; the owning Socket must not call Run
// re-entrantly. Package socket enforces this by moving the Scheduler out
// of itself for the duration of Run, per the source's re-entrance
// avoidance strategy — see Scheduler.Detach/Attach below.
type Scheduler struct {
	tasks      []*Task
	runs       uint64
	summary    time.Duration
	lastLogged time.Time
}

// New returns an empty Scheduler. summaryEvery controls how often Run
// logs a debug summary line (0 disables it).
func New(summaryEvery time.Duration) *Scheduler {
	return &Scheduler{summary: summaryEvery}
}

// Register adds t to the scheduler, due to run at its first Run call.
func (s *Scheduler) Register(t *Task) {
	s.tasks = append(s.tasks, t)
}

// Run executes every task whose next-run instant is due as of now, in
// next-run order, resetting each to now+period as it runs. Tasks are not
// preempted and must be short; Run does not yield mid-task.
func (s *Scheduler) Run(now time.Time) {
	sort.Slice(s.tasks, func(i, j int) bool { return s.tasks[i].nextRun.Before(s.tasks[j].nextRun) })
	for _, t := range s.tasks {
		if t.nextRun.After(now) {
			break
		}
		t.fn()
		t.nextRun = now.Add(t.Period)
	}
	s.runs++
	if s.summary > 0 && now.Sub(s.lastLogged) >= s.summary {
		log.Printf("scheduler: %d tasks, %d runs so far", len(s.tasks), s.runs)
		s.lastLogged = now
	}
}

// Detach removes and returns s's current task list, leaving the scheduler
// empty. Attach restores it. Socket.RunTasks calls these around Run to
// guarantee a task cannot re-enter the scheduler it is itself running
// inside of: the scheduler simply isn't there to call into.
func (s *Scheduler) Detach() []*Task {
	out := s.tasks
	s.tasks = nil
	return out
}

// Attach restores a task list previously returned by Detach.
func (s *Scheduler) Attach(tasks []*Task) {
	s.tasks = tasks
}
