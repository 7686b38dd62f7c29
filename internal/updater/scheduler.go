// Package updater contains the update orchestration engine: the persistent
// scheduling and backoff state machine that decides when to check for
// updates, and the on-demand check/apply operations serialized against it.
package updater

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Scheduler is an interface which implementations can schedule and cancel jobs
type Scheduler interface {
	Cancel(IDs []string)
	Schedule(in time.Duration, ID string, job func() (nextRunIn time.Duration, reschedule bool))
}

// MockScheduler is a mock implementation of Scheduler
type MockScheduler struct {
	CancelFunc   func(IDs []string)
	ScheduleFunc func(in time.Duration, ID string, job func() (nextRunIn time.Duration, reschedule bool))
}

// Cancel mocks the Cancel function of the Scheduler interface
func (mock *MockScheduler) Cancel(IDs []string) {
	if mock.CancelFunc != nil {
		mock.CancelFunc(IDs)
		return
	}
	log.Errorf("MockScheduler doesn't have Cancel function defined")
}

// Schedule mocks the Schedule function of the Scheduler interface
func (mock *MockScheduler) Schedule(in time.Duration, ID string, job func() (nextRunIn time.Duration, reschedule bool)) {
	if mock.ScheduleFunc != nil {
		mock.ScheduleFunc(in, ID, job)
		return
	}
	log.Errorf("MockScheduler doesn't have Schedule function defined")
}

// DefaultScheduler runs jobs (functions) in the future and cancels them. A
// job body returns how long to wait before the next run, so schedules whose
// interval changes between runs (daily anchor vs backoff days) re-arm
// themselves. Cancelling a job prevents future firings but never interrupts
// a run that is already in progress.
type DefaultScheduler struct {
	// jobs map holds cancellation channels indexed by the job ID
	jobs map[string]chan struct{}
	mu   sync.Mutex
}

// NewDefaultScheduler creates an instance of a DefaultScheduler
func NewDefaultScheduler() *DefaultScheduler {
	return &DefaultScheduler{
		jobs: make(map[string]chan struct{}),
	}
}

func (s *DefaultScheduler) cancel(ID string) bool {
	cancel, ok := s.jobs[ID]
	if ok {
		delete(s.jobs, ID)
		close(cancel)
		log.Debugf("cancelled scheduled job %s", ID)
	}
	return ok
}

// Cancel cancels the scheduled jobs by ID if present.
func (s *DefaultScheduler) Cancel(IDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range IDs {
		s.cancel(id)
	}
}

// Schedule a job to run in some time in the future. If the job returns
// reschedule=true it is re-armed with the duration it returned. If a job
// with the provided ID already exists, a new one won't be scheduled.
func (s *DefaultScheduler) Schedule(in time.Duration, ID string, job func() (nextRunIn time.Duration, reschedule bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[ID]; ok {
		log.Debugf("couldn't schedule job %s because it already exists. There are %d total jobs scheduled.",
			ID, len(s.jobs))
		return
	}

	cancel := make(chan struct{})
	s.jobs[ID] = cancel
	log.Debugf("scheduled job %s to run in %s. There are %d total jobs scheduled.", ID, in, len(s.jobs))

	go func() {
		timer := time.NewTimer(in)
		defer timer.Stop()

		for {
			select {
			case <-timer.C:
				select {
				case <-cancel:
					log.Debugf("scheduled job %s was canceled, stop timer", ID)
					return
				default:
				}
				runIn, reschedule := job()
				if !reschedule {
					s.remove(ID)
					log.Debugf("job %s is not scheduled to run again", ID)
					return
				}
				timer.Reset(runIn)
			case <-cancel:
				log.Debugf("job %s was canceled, stopping timer", ID)
				return
			}
		}
	}()
}

func (s *DefaultScheduler) remove(ID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, ID)
}
