package updater

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduler_Schedule(t *testing.T) {
	jobID := "test-scheduler-job-1"
	scheduler := NewDefaultScheduler()
	wg := sync.WaitGroup{}
	wg.Add(1)
	// job without reschedule should be triggered once
	job := func() (time.Duration, bool) {
		wg.Done()
		return 0, false
	}
	scheduler.Schedule(20*time.Millisecond, jobID, job)
	wg.Wait()

	// job with reschedule should be triggered at least twice
	wg = sync.WaitGroup{}
	wg.Add(2)
	job = func() (time.Duration, bool) {
		wg.Done()
		return 20 * time.Millisecond, true
	}

	scheduler.Schedule(20*time.Millisecond, jobID, job)
	wg.Wait()
	scheduler.Cancel([]string{jobID})
}

func TestScheduler_Cancel(t *testing.T) {
	jobID1 := "test-scheduler-job-1"
	jobID2 := "test-scheduler-job-2"
	scheduler := NewDefaultScheduler()
	scheduler.Schedule(2*time.Second, jobID1, func() (time.Duration, bool) {
		return 0, false
	})
	scheduler.Schedule(2*time.Second, jobID2, func() (time.Duration, bool) {
		return 0, false
	})

	assert.Len(t, scheduler.jobs, 2)
	scheduler.Cancel([]string{jobID1})
	assert.Len(t, scheduler.jobs, 1)
	assert.NotNil(t, scheduler.jobs[jobID2])

	scheduler.Cancel([]string{jobID2})
	assert.Len(t, scheduler.jobs, 0)
}

func TestScheduler_DuplicateID(t *testing.T) {
	jobID := "test-scheduler-job-1"
	scheduler := NewDefaultScheduler()

	fired := make(chan struct{}, 2)
	scheduler.Schedule(30*time.Millisecond, jobID, func() (time.Duration, bool) {
		fired <- struct{}{}
		return 0, false
	})
	// second schedule with the same ID must be ignored
	scheduler.Schedule(time.Millisecond, jobID, func() (time.Duration, bool) {
		fired <- struct{}{}
		return 0, false
	})

	<-fired
	select {
	case <-fired:
		t.Fatal("duplicate job was scheduled")
	case <-time.After(100 * time.Millisecond):
	}
}
