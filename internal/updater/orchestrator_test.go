package updater

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetward/fleetward/internal/detect"
	"github.com/fleetward/fleetward/internal/store"
	"github.com/fleetward/fleetward/internal/validate"
)

type detectorFunc func(ctx context.Context) (bool, *detect.UpdateDescriptor, error)

func (f detectorFunc) CheckForUpdate(ctx context.Context) (bool, *detect.UpdateDescriptor, error) {
	return f(ctx)
}

type executorFunc func(ctx context.Context, descriptor *detect.UpdateDescriptor) bool

func (f executorFunc) ExecuteUpdate(ctx context.Context, descriptor *detect.UpdateDescriptor) bool {
	return f(ctx, descriptor)
}

type restorerFunc func(ctx context.Context, ref string) bool

func (f restorerFunc) RestoreBackup(ctx context.Context, ref string) bool {
	return f(ctx, ref)
}

func noUpdateDetector() detectorFunc {
	return func(context.Context) (bool, *detect.UpdateDescriptor, error) {
		return false, nil, nil
	}
}

func foundDetector(version string) detectorFunc {
	return func(context.Context) (bool, *detect.UpdateDescriptor, error) {
		return true, &detect.UpdateDescriptor{Version: version, ArtifactURL: "http://releases.local/a.img"}, nil
	}
}

func failingDetector() detectorFunc {
	return func(context.Context) (bool, *detect.UpdateDescriptor, error) {
		return false, nil, errors.New("manifest endpoint unreachable")
	}
}

// healthyValidator validates against a version file that exists.
func healthyValidator(t *testing.T) *validate.Validator {
	return validatorAtVersion(t, "1.0.0")
}

// validatorAtVersion validates against a marker file pinned to version.
func validatorAtVersion(t *testing.T, version string) *validate.Validator {
	t.Helper()
	versionFile := filepath.Join(t.TempDir(), "version")
	require.NoError(t, os.WriteFile(versionFile, []byte(version+"\n"), 0644))
	return validate.NewValidator("test-product", validate.Rules{VersionFile: versionFile})
}

// brokenValidator fails its version domain (marker file missing).
func brokenValidator(t *testing.T) *validate.Validator {
	t.Helper()
	return validate.NewValidator("test-product", validate.Rules{
		VersionFile: filepath.Join(t.TempDir(), "does-not-exist"),
	})
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSqliteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func newTestOrchestrator(t *testing.T, st store.Store, detector detect.Detector,
	executor executorFunc, validator *validate.Validator) *Orchestrator {
	t.Helper()
	if validator == nil {
		validator = healthyValidator(t)
	}
	if executor == nil {
		executor = func(context.Context, *detect.UpdateDescriptor) bool { return true }
	}
	restorer := restorerFunc(func(context.Context, string) bool { return true })
	return New(Config{ProductType: "test-product", CheckHour: 3, CheckMinute: 0},
		st, detector, executor, restorer, validator, &MockScheduler{
			ScheduleFunc: func(time.Duration, string, func() (time.Duration, bool)) {},
			CancelFunc:   func([]string) {},
		})
}

func TestOrchestrator_BackoffMonotonicity(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	o := newTestOrchestrator(t, st, failingDetector(), nil, nil)

	for n := 1; n <= 8; n++ {
		_, reschedule := o.runRecurringJob(ctx)
		assert.True(t, reschedule)

		expected := 1 << n
		if expected > defaultMaxBackoff {
			expected = defaultMaxBackoff
		}
		assert.Equal(t, expected, o.Status(ctx).BackoffFactor, "after %d failures", n)
	}

	// a single success resets the factor regardless of prior value
	o.detector = noUpdateDetector()
	_, reschedule := o.runRecurringJob(ctx)
	assert.True(t, reschedule)
	assert.Equal(t, 1, o.Status(ctx).BackoffFactor)
}

func TestOrchestrator_BackoffSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	o := newTestOrchestrator(t, st, failingDetector(), nil, nil)
	o.runRecurringJob(ctx)
	o.runRecurringJob(ctx)
	assert.Equal(t, 4, o.Status(ctx).BackoffFactor)

	// a fresh engine on the same store restores the persisted factor
	restarted := newTestOrchestrator(t, st, failingDetector(), nil, nil)
	require.NoError(t, restarted.Start(ctx))
	defer restarted.Stop()
	assert.Equal(t, 4, restarted.Status(ctx).BackoffFactor)
}

func TestOrchestrator_CheckNow_NoUpdate(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	o := newTestOrchestrator(t, st, noUpdateDetector(), nil, nil)

	before, err := st.CountHistory(ctx)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		result, err := o.CheckNow(ctx)
		require.NoError(t, err)
		assert.False(t, result.UpdateAvailable)
		assert.Nil(t, o.Status(ctx).PendingUpdate)
	}

	// each check appends exactly one record, none claiming an update
	after, err := st.CountHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+3, after)

	records, err := o.History(ctx, 10)
	require.NoError(t, err)
	for _, r := range records {
		assert.False(t, r.UpdateAvailable)
		assert.True(t, r.Success)
		assert.Equal(t, CheckTypeManual, r.CheckType)
	}
}

func TestOrchestrator_CheckNow_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	o := newTestOrchestrator(t, st, foundDetector("1.1.0"), nil, nil)

	_, err := o.CheckNow(ctx)
	require.NoError(t, err)
	require.NotNil(t, o.Status(ctx).PendingUpdate)
	assert.Equal(t, "1.1.0", o.Status(ctx).PendingUpdate.Version)

	o.detector = foundDetector("1.2.0")
	_, err = o.CheckNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", o.Status(ctx).PendingUpdate.Version)
}

func TestOrchestrator_CheckNow_DetectionError(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	o := newTestOrchestrator(t, st, failingDetector(), nil, nil)

	_, err := o.CheckNow(ctx)
	var detectionErr *DetectionError
	require.ErrorAs(t, err, &detectionErr)

	// on-demand failures never touch the recurring job's backoff
	assert.Equal(t, 1, o.Status(ctx).BackoffFactor)

	records, err := o.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Contains(t, records[0].ErrorMessage, "unreachable")
}

func TestOrchestrator_ApplyPendingUpdate_Empty(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	o := newTestOrchestrator(t, st, noUpdateDetector(), nil, nil)

	_, err := o.ApplyPendingUpdate(ctx)
	require.ErrorIs(t, err, ErrNoPendingUpdate)

	// no record with update_executed=true may be written
	records, err := o.History(ctx, 10)
	require.NoError(t, err)
	for _, r := range records {
		assert.False(t, r.UpdateExecuted)
	}
}

func TestOrchestrator_ApplyPendingUpdate_Success(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	var executed []string
	executor := executorFunc(func(_ context.Context, d *detect.UpdateDescriptor) bool {
		executed = append(executed, d.Version)
		return true
	})
	o := newTestOrchestrator(t, st, foundDetector("2.0.0"), executor, nil)

	_, err := o.CheckNow(ctx)
	require.NoError(t, err)

	result, err := o.ApplyPendingUpdate(ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "2.0.0", result.Version)
	assert.Equal(t, []string{"2.0.0"}, executed)

	// pending slot consumed
	assert.Nil(t, o.Status(ctx).PendingUpdate)
	_, err = o.ApplyPendingUpdate(ctx)
	require.ErrorIs(t, err, ErrNoPendingUpdate)
}

func TestOrchestrator_ApplyPendingUpdate_FailureRetainsPending(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	executor := executorFunc(func(context.Context, *detect.UpdateDescriptor) bool { return false })
	o := newTestOrchestrator(t, st, foundDetector("2.0.0"), executor, nil)

	_, err := o.CheckNow(ctx)
	require.NoError(t, err)

	_, err = o.ApplyPendingUpdate(ctx)
	var executionErr *ExecutionError
	require.ErrorAs(t, err, &executionErr)
	assert.Equal(t, "2.0.0", executionErr.Version)

	// descriptor stays queued for retry
	require.NotNil(t, o.Status(ctx).PendingUpdate)
	assert.Equal(t, "2.0.0", o.Status(ctx).PendingUpdate.Version)
}

func TestOrchestrator_ScheduledCheck_AppliesAndValidates(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	// the marker file already carries the target version, standing in for the
	// installer having rewritten it
	executor := executorFunc(func(context.Context, *detect.UpdateDescriptor) bool { return true })
	o := newTestOrchestrator(t, st, foundDetector("3.0.0"), executor, validatorAtVersion(t, "3.0.0"))

	require.NoError(t, o.runScheduledCheck(ctx))

	records, err := o.History(ctx, 10)
	require.NoError(t, err)
	// one record for the find, one for the executed update
	require.Len(t, records, 2)
	assert.True(t, records[0].UpdateExecuted)
	assert.True(t, records[0].Success)
	assert.Equal(t, CheckTypeScheduled, records[0].CheckType)
	assert.False(t, records[1].UpdateExecuted)
}

func TestOrchestrator_ScheduledCheck_RollbackOnFailedValidation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	restored := false
	executor := executorFunc(func(context.Context, *detect.UpdateDescriptor) bool { return true })
	o := newTestOrchestrator(t, st, foundDetector("3.0.0"), executor, brokenValidator(t))
	o.restorer = restorerFunc(func(_ context.Context, ref string) bool {
		restored = true
		assert.Equal(t, "pre-update", ref)
		return true
	})

	err := o.runScheduledCheck(ctx)
	var executionErr *ExecutionError
	require.ErrorAs(t, err, &executionErr)
	assert.True(t, restored)

	records, histErr := o.History(ctx, 1)
	require.NoError(t, histErr)
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Contains(t, records[0].ErrorMessage, "rollback")
}

func TestOrchestrator_HistoryAppendOnly(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	o := newTestOrchestrator(t, st, noUpdateDetector(), nil, nil)

	const k = 5
	for i := 0; i < k; i++ {
		_, err := o.CheckNow(ctx)
		require.NoError(t, err)
	}

	count, err := st.CountHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(k), count)

	first, err := o.History(ctx, k)
	require.NoError(t, err)

	// further operations never mutate existing records
	_, err = o.CheckNow(ctx)
	require.NoError(t, err)

	again, err := o.History(ctx, k+1)
	require.NoError(t, err)
	require.Len(t, again, k+1)
	for i, r := range first {
		assert.Equal(t, r, again[i+1])
	}
}

func TestOrchestrator_StartStop(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	scheduled := make(chan string, 1)
	cancelled := make(chan []string, 1)
	o := newTestOrchestrator(t, st, noUpdateDetector(), nil, nil)
	o.scheduler = &MockScheduler{
		ScheduleFunc: func(in time.Duration, id string, _ func() (time.Duration, bool)) {
			assert.Positive(t, in)
			scheduled <- id
		},
		CancelFunc: func(ids []string) { cancelled <- ids },
	}

	require.NoError(t, o.Start(ctx))
	assert.Equal(t, checkJobID, <-scheduled)
	assert.True(t, o.Status(ctx).Active)
	assert.False(t, o.Status(ctx).NextCheck.IsZero())

	// Start is idempotent
	require.NoError(t, o.Start(ctx))
	select {
	case id := <-scheduled:
		t.Fatalf("second Start scheduled another job %s", id)
	default:
	}

	o.Stop()
	assert.Equal(t, []string{checkJobID}, <-cancelled)
	assert.False(t, o.Status(ctx).Active)

	// Stop is idempotent too
	o.Stop()
	select {
	case <-cancelled:
		t.Fatal("second Stop cancelled again")
	default:
	}
}

func TestOrchestrator_EventsPublished(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	o := newTestOrchestrator(t, st, foundDetector("4.0.0"), nil, nil)

	var events []EventType
	o.SetEventListener(func(e Event) {
		assert.NotEmpty(t, e.ID)
		events = append(events, e.Type)
	})

	_, err := o.CheckNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, []EventType{EventCheckStarted, EventUpdateAvailable}, events)
}

func TestOrchestrator_HistoryPruned(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	o := newTestOrchestrator(t, st, noUpdateDetector(), nil, nil)
	o.cfg.HistoryLimit = 3

	for i := 0; i < 7; i++ {
		_, err := o.CheckNow(ctx)
		require.NoError(t, err)
	}

	count, err := st.CountHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestOrchestrator_DegradedStoreStatus(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	o := newTestOrchestrator(t, st, foundDetector("5.0.0"), nil, nil)

	_, err := o.CheckNow(ctx)
	require.NoError(t, err)

	// closing the store makes it unreachable; status must fall back to the
	// in-memory mirror instead of failing
	require.NoError(t, st.Close())

	status := o.Status(ctx)
	require.NotNil(t, status.PendingUpdate)
	assert.Equal(t, "5.0.0", status.PendingUpdate.Version)
}

func TestOrchestrator_RecordsDistinguishCheckTypes(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	o := newTestOrchestrator(t, st, noUpdateDetector(), nil, nil)

	_, err := o.CheckNow(ctx)
	require.NoError(t, err)
	require.NoError(t, o.runScheduledCheck(ctx))

	records, err := o.History(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	types := []string{records[0].CheckType, records[1].CheckType}
	assert.Contains(t, types, CheckTypeScheduled)
	assert.Contains(t, types, CheckTypeManual)
}
