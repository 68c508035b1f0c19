package apphost

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// CycleTrigger drives periodic reconciliation: one cron-scheduled invocation
// of CheckForUpdates. It is the "single periodic trigger" of the concurrency
// model — the manager serializes cycles internally, so the trigger can
// coexist with the filesystem watcher and manual admin requests.
type CycleTrigger struct {
	manager  *AppManager
	schedule string
	cron     *cron.Cron
	entryID  cron.EntryID
	logger   Logger
}

// NewCycleTrigger validates the cron expression and prepares a trigger for
// the given manager. Schedules use the standard five-field cron syntax plus
// the @every and @hourly style descriptors.
func NewCycleTrigger(manager *AppManager, schedule string, logger Logger) (*CycleTrigger, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid check schedule %q: %w", schedule, err)
	}
	return &CycleTrigger{
		manager:  manager,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger,
	}, nil
}

// Start begins firing reconciliation cycles on the schedule.
func (t *CycleTrigger) Start() error {
	entryID, err := t.cron.AddFunc(t.schedule, t.fire)
	if err != nil {
		return fmt.Errorf("scheduling reconciliation: %w", err)
	}
	t.entryID = entryID
	t.cron.Start()
	t.logger.Info("Reconciliation trigger started", "schedule", t.schedule)
	return nil
}

// Stop halts the schedule. Cycles already running complete normally.
func (t *CycleTrigger) Stop() {
	ctx := t.cron.Stop()
	<-ctx.Done()
}

// Fire runs one cycle immediately, outside the schedule.
func (t *CycleTrigger) Fire() {
	t.fire()
}

func (t *CycleTrigger) fire() {
	if _, err := t.manager.CheckForUpdates(NoPluginSignal, false); err != nil {
		t.logger.Error("Reconciliation cycle failed", "error", err)
	}
}
