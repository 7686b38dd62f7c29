package updater

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/fleetward/fleetward/internal/backup"
	"github.com/fleetward/fleetward/internal/detect"
	"github.com/fleetward/fleetward/internal/execute"
	"github.com/fleetward/fleetward/internal/store"
	"github.com/fleetward/fleetward/internal/validate"
)

const (
	// CheckTypeScheduled marks history records written by the recurring job.
	CheckTypeScheduled = "scheduled"
	// CheckTypeManual marks history records written by on-demand operations.
	CheckTypeManual = "manual"

	checkJobID = "scheduled-update-check"

	stateKeyBackoff = "backoff_factor"
	stateKeyPending = "pending_update"

	applyFailedMessage = "failed to apply update"

	defaultMaxBackoff   = 64
	defaultHistoryLimit = 500
)

// Config tunes the orchestration engine.
type Config struct {
	ProductType string
	// MaxBackoff caps the backoff factor (in days). Default 64.
	MaxBackoff int
	// HistoryLimit is the number of history rows retained. Default 500.
	HistoryLimit int
	// CheckHour and CheckMinute pin the daily anchor. Negative values pick a
	// pseudo-random anchor (hour in [3,5), any minute) to spread fleet load.
	CheckHour   int
	CheckMinute int
	// RollbackRef names the backup snapshot restored after a failed
	// post-update validation.
	RollbackRef string
}

func (c Config) withDefaults() Config {
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = defaultHistoryLimit
	}
	if c.CheckHour < 0 || c.CheckHour > 23 {
		c.CheckHour = 3 + rand.Intn(2)
		c.CheckMinute = rand.Intn(60)
	}
	if c.CheckMinute < 0 || c.CheckMinute > 59 {
		c.CheckMinute = rand.Intn(60)
	}
	if c.RollbackRef == "" {
		c.RollbackRef = "pre-update"
	}
	return c
}

// CheckResult is the outcome of an on-demand update check.
type CheckResult struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	UpdateAvailable bool      `json:"update_available"`
	Version         string    `json:"version,omitempty"`
}

// ApplyResult is the outcome of applying a pending update.
type ApplyResult struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Success   bool      `json:"success"`
}

// Status reports the engine state for the API layer.
type Status struct {
	Active        bool                     `json:"active"`
	NextCheck     time.Time                `json:"next_check"`
	BackoffFactor int                      `json:"backoff_factor"`
	PendingUpdate *detect.UpdateDescriptor `json:"pending_update,omitempty"`
}

// Orchestrator owns the recurring update check job, the persistent backoff
// state and the pending update slot. It is the single writer of scheduler
// state and update history.
type Orchestrator struct {
	eventPublisher

	cfg       Config
	store     store.Store
	detector  detect.Detector
	executor  execute.Executor
	restorer  backup.Restorer
	validator *validate.Validator
	scheduler Scheduler

	// mu guards the mutable engine state below. The in-memory copies mirror
	// the durable store so reads keep working when the store degrades.
	mu            sync.Mutex
	backoffFactor int
	pending       *detect.UpdateDescriptor
	nextCheck     time.Time
	running       bool
	cancel        context.CancelFunc
}

// New wires an orchestration engine from its collaborators. Nothing runs
// until Start is called.
func New(cfg Config, st store.Store, detector detect.Detector, executor execute.Executor,
	restorer backup.Restorer, validator *validate.Validator, scheduler Scheduler) *Orchestrator {
	return &Orchestrator{
		cfg:           cfg.withDefaults(),
		store:         st,
		detector:      detector,
		executor:      executor,
		restorer:      restorer,
		validator:     validator,
		scheduler:     scheduler,
		backoffFactor: 1,
	}
}

// Start restores persisted state and installs the recurring check job.
// Calling Start on a running engine is a no-op.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return nil
	}

	o.restoreState(ctx)

	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.running = true

	next := nextFireTime(o.backoffFactor, o.cfg.CheckHour, o.cfg.CheckMinute, time.Now())
	o.nextCheck = next
	o.scheduler.Schedule(time.Until(next), checkJobID, func() (time.Duration, bool) {
		return o.runRecurringJob(ctx)
	})

	log.Infof("update orchestrator started, first check at %s (backoff factor %d, anchor %02d:%02d)",
		next.Format(time.RFC3339), o.backoffFactor, o.cfg.CheckHour, o.cfg.CheckMinute)
	return nil
}

// Stop cancels future timer firings without interrupting an in-flight check.
// Idempotent.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return
	}
	o.scheduler.Cancel([]string{checkJobID})
	o.cancel()
	o.running = false
	log.Infof("update orchestrator stopped")
}

// restoreState loads persisted backoff factor and pending update. Store
// failures leave the in-memory defaults in place.
func (o *Orchestrator) restoreState(ctx context.Context) {
	var factor int
	switch err := o.store.GetState(ctx, stateKeyBackoff, &factor); {
	case err == nil && factor >= 1:
		o.backoffFactor = factor
	case err != nil && !errors.Is(err, store.ErrStateNotFound):
		log.Warnf("could not restore backoff factor, starting at 1: %v", err)
	}

	var pending detect.UpdateDescriptor
	switch err := o.store.GetState(ctx, stateKeyPending, &pending); {
	case err == nil:
		o.pending = &pending
	case !errors.Is(err, store.ErrStateNotFound):
		log.Warnf("could not restore pending update: %v", err)
	}
}

// runRecurringJob executes one scheduled check and computes when to run the
// next one. An error outcome doubles the backoff factor up to the cap; a
// clean run resets it to 1.
func (o *Orchestrator) runRecurringJob(ctx context.Context) (time.Duration, bool) {
	if ctx.Err() != nil {
		return 0, false
	}

	err := o.runScheduledCheck(ctx)
	now := time.Now()

	o.mu.Lock()
	if err != nil {
		o.backoffFactor = min(o.backoffFactor*2, o.cfg.MaxBackoff)
		log.Errorf("scheduled update check failed, backoff factor now %d: %v", o.backoffFactor, err)
	} else {
		o.backoffFactor = 1
	}
	factor := o.backoffFactor
	o.mu.Unlock()

	if perr := o.store.PutState(ctx, stateKeyBackoff, factor); perr != nil {
		log.Warnf("could not persist backoff factor %d: %v", factor, perr)
	}

	next := nextFireTime(factor, o.cfg.CheckHour, o.cfg.CheckMinute, now)
	o.mu.Lock()
	o.nextCheck = next
	o.mu.Unlock()

	log.Infof("next scheduled update check at %s", next.Format(time.RFC3339))
	return time.Until(next), true
}

// runScheduledCheck performs detection and, when an update is found,
// executes it immediately and validates the result. The returned error is
// what drives backoff.
func (o *Orchestrator) runScheduledCheck(ctx context.Context) error {
	log.Infof("running scheduled update check")
	o.publish(EventCheckStarted, map[string]any{"check_type": CheckTypeScheduled})

	available, descriptor, err := o.detector.CheckForUpdate(ctx)
	if err != nil {
		o.appendHistory(ctx, &store.UpdateRecord{
			CheckType: CheckTypeScheduled, Success: false, ErrorMessage: err.Error(),
		})
		o.publish(EventCheckFailed, map[string]any{"error": err.Error()})
		return &DetectionError{Cause: err}
	}

	if !available {
		log.Infof("no update available in scheduled check")
		o.appendHistory(ctx, &store.UpdateRecord{CheckType: CheckTypeScheduled, Success: true})
		o.publish(EventCheckCompleted, map[string]any{"update_available": false})
		return nil
	}

	log.Infof("update %s available in scheduled check", descriptor.Version)
	o.appendHistory(ctx, &store.UpdateRecord{
		CheckType: CheckTypeScheduled, UpdateAvailable: true, Version: descriptor.Version, Success: true,
	})
	o.publish(EventUpdateAvailable, map[string]any{"version": descriptor.Version})

	// scheduled checks apply the update right away; user confirmation flows
	// go through CheckNow/ApplyPendingUpdate instead
	if !o.executor.ExecuteUpdate(ctx, descriptor) {
		o.appendHistory(ctx, &store.UpdateRecord{
			CheckType: CheckTypeScheduled, UpdateAvailable: true, UpdateExecuted: true,
			Version: descriptor.Version, Success: false, ErrorMessage: applyFailedMessage,
		})
		return &ExecutionError{Version: descriptor.Version, Reason: applyFailedMessage}
	}

	result := o.validator.ValidateSystem(ctx, descriptor.Version)
	if result.NeedsRollback {
		o.publish(EventValidationFailed, map[string]any{"version": descriptor.Version})
		o.rollback(ctx, descriptor.Version)
		o.appendHistory(ctx, &store.UpdateRecord{
			CheckType: CheckTypeScheduled, UpdateAvailable: true, UpdateExecuted: true,
			Version: descriptor.Version, Success: false,
			ErrorMessage: "post-update validation failed, rollback triggered",
		})
		return &ExecutionError{Version: descriptor.Version, Reason: "post-update validation failed"}
	}

	o.clearPending(ctx)
	o.appendHistory(ctx, &store.UpdateRecord{
		CheckType: CheckTypeScheduled, UpdateAvailable: true, UpdateExecuted: true,
		Version: descriptor.Version, Success: true,
	})
	o.publish(EventUpdateApplied, map[string]any{"version": descriptor.Version})
	log.Infof("scheduled update %s applied and validated", descriptor.Version)
	return nil
}

// CheckNow runs detection synchronously. A found update is stored as the
// pending update (last write wins) for a later ApplyPendingUpdate call.
// Errors are surfaced to the caller and do not affect the recurring job's
// backoff.
func (o *Orchestrator) CheckNow(ctx context.Context) (*CheckResult, error) {
	log.Infof("running immediate update check")
	o.publish(EventCheckStarted, map[string]any{"check_type": CheckTypeManual})

	result := &CheckResult{ID: uuid.New().String(), Timestamp: time.Now()}

	available, descriptor, err := o.detector.CheckForUpdate(ctx)
	if err != nil {
		o.appendHistory(ctx, &store.UpdateRecord{
			CheckType: CheckTypeManual, Success: false, ErrorMessage: err.Error(),
		})
		o.publish(EventCheckFailed, map[string]any{"error": err.Error()})
		return nil, &DetectionError{Cause: err}
	}

	if available {
		result.UpdateAvailable = true
		result.Version = descriptor.Version
		o.setPending(ctx, descriptor)
		o.appendHistory(ctx, &store.UpdateRecord{
			CheckType: CheckTypeManual, UpdateAvailable: true, Version: descriptor.Version, Success: true,
		})
		o.publish(EventUpdateAvailable, map[string]any{"version": descriptor.Version})
	} else {
		o.appendHistory(ctx, &store.UpdateRecord{CheckType: CheckTypeManual, Success: true})
		o.publish(EventCheckCompleted, map[string]any{"update_available": false})
	}

	return result, nil
}

// ApplyPendingUpdate executes the currently stored pending update. With
// nothing queued it returns ErrNoPendingUpdate. On execution failure the
// pending update stays queued for retry.
func (o *Orchestrator) ApplyPendingUpdate(ctx context.Context) (*ApplyResult, error) {
	descriptor := o.loadPending(ctx)
	if descriptor == nil {
		return nil, ErrNoPendingUpdate
	}

	log.Infof("applying pending update %s", descriptor.Version)
	result := &ApplyResult{ID: uuid.New().String(), Timestamp: time.Now(), Version: descriptor.Version}

	if !o.executor.ExecuteUpdate(ctx, descriptor) {
		o.appendHistory(ctx, &store.UpdateRecord{
			CheckType: CheckTypeManual, UpdateAvailable: true, UpdateExecuted: true,
			Version: descriptor.Version, Success: false, ErrorMessage: applyFailedMessage,
		})
		return nil, &ExecutionError{Version: descriptor.Version, Reason: applyFailedMessage}
	}

	o.clearPending(ctx)
	o.appendHistory(ctx, &store.UpdateRecord{
		CheckType: CheckTypeManual, UpdateAvailable: true, UpdateExecuted: true,
		Version: descriptor.Version, Success: true,
	})
	o.publish(EventUpdateApplied, map[string]any{"version": descriptor.Version})

	result.Success = true
	return result, nil
}

// TriggerRollback restores the configured backup snapshot on demand.
func (o *Orchestrator) TriggerRollback(ctx context.Context) bool {
	return o.rollback(ctx, "")
}

func (o *Orchestrator) rollback(ctx context.Context, version string) bool {
	log.Warnf("triggering rollback to snapshot %s", o.cfg.RollbackRef)
	restored := o.restorer.RestoreBackup(ctx, o.cfg.RollbackRef)
	o.publish(EventRollback, map[string]any{
		"snapshot": o.cfg.RollbackRef,
		"version":  version,
		"restored": restored,
	})
	if !restored {
		log.Errorf("rollback to snapshot %s failed", o.cfg.RollbackRef)
	}
	return restored
}

// Status reports the engine state. Store failures fall back to the last
// known in-memory values instead of erroring.
func (o *Orchestrator) Status(ctx context.Context) *Status {
	o.mu.Lock()
	status := &Status{
		Active:        o.running,
		NextCheck:     o.nextCheck,
		BackoffFactor: o.backoffFactor,
		PendingUpdate: o.pending,
	}
	o.mu.Unlock()

	// refresh the pending slot from the store when it is reachable; another
	// writer may have won since the mirror was taken
	var pending detect.UpdateDescriptor
	switch err := o.store.GetState(ctx, stateKeyPending, &pending); {
	case err == nil:
		status.PendingUpdate = &pending
	case errors.Is(err, store.ErrStateNotFound):
		status.PendingUpdate = nil
	default:
		log.Debugf("status falling back to in-memory pending update: %v", err)
	}

	return status
}

// History returns the most recent history records, newest first.
func (o *Orchestrator) History(ctx context.Context, limit int) ([]store.UpdateRecord, error) {
	return o.store.GetHistory(ctx, limit)
}

func (o *Orchestrator) setPending(ctx context.Context, descriptor *detect.UpdateDescriptor) {
	o.mu.Lock()
	o.pending = descriptor
	o.mu.Unlock()

	if err := o.store.PutState(ctx, stateKeyPending, descriptor); err != nil {
		log.Warnf("could not persist pending update %s: %v", descriptor.Version, err)
	}
}

func (o *Orchestrator) clearPending(ctx context.Context) {
	o.mu.Lock()
	o.pending = nil
	o.mu.Unlock()

	if err := o.store.DeleteState(ctx, stateKeyPending); err != nil {
		log.Warnf("could not clear pending update: %v", err)
	}
}

// loadPending prefers the durable store and degrades to the in-memory
// mirror when the store is unreachable.
func (o *Orchestrator) loadPending(ctx context.Context) *detect.UpdateDescriptor {
	var pending detect.UpdateDescriptor
	switch err := o.store.GetState(ctx, stateKeyPending, &pending); {
	case err == nil:
		return &pending
	case errors.Is(err, store.ErrStateNotFound):
		return nil
	default:
		log.Warnf("loading pending update from memory, store unreachable: %v", err)
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.pending
	}
}

// appendHistory writes a history record and prunes old rows. Persistence
// failures are logged, never fatal: the daemon must not crash because the
// durable store is transiently unreachable.
func (o *Orchestrator) appendHistory(ctx context.Context, record *store.UpdateRecord) {
	if err := o.store.AppendHistory(ctx, record); err != nil {
		log.Errorf("could not append update history record: %v", err)
		return
	}
	if err := o.store.PruneHistory(ctx, o.cfg.HistoryLimit); err != nil {
		log.Warnf("could not prune update history: %v", err)
	}
}
