package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/pluginapi"
	"github.com/mattermost/mattermost/server/public/pluginapi/cluster"
	"golang.org/x/sync/errgroup"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/crisis"
	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/store"
)

const (
	// JobID is the cluster job identifier of the sweeper
	JobID = "crisis_alerts_sweep"

	// DefaultInterval is the time between sweeps when none is configured
	DefaultInterval = 5 * time.Minute

	// MinInterval is the shortest allowed time between sweeps
	MinInterval = 30 * time.Second

	// DefaultConcurrency bounds the alerts recomputed in parallel
	DefaultConcurrency = 8

	// FailureWarningThreshold is the consecutive failure count that escalates logging
	FailureWarningThreshold = 3
)

// Recomputer refreshes derived state from stored verifications
type Recomputer interface {
	Recompute(ctx context.Context, alertID string) (crisis.Tally, error)
	RefreshTrust(ctx context.Context, userID string) (int, error)
}

// AlertLister lists stored alerts
type AlertLister interface {
	ListAlerts(ctx context.Context) ([]*crisis.Alert, error)
}

// VerificationIndex re-derives the verification indexes from primary records
// and lists the voters of an alert
type VerificationIndex interface {
	RebuildIndexes(ctx context.Context) (store.IndexRepair, error)
	VotersOf(ctx context.Context, alertID string) ([]string, error)
}

// StateStore persists sweep health
type StateStore interface {
	GetStatus(ctx context.Context) (store.SweepStatus, error)
	RecordSuccess(ctx context.Context, at time.Time, counts store.SweepCounts) error
	RecordFailure(ctx context.Context, at time.Time, runErr error) (int, error)
}

// Metrics observes sweep runs. Optional.
type Metrics interface {
	ObserveSweep(err error, elapsed time.Duration)
}

// Deps are the collaborators of a Sweeper
type Deps struct {
	API         *pluginapi.Client
	Engine      Recomputer
	Alerts      AlertLister
	Index       VerificationIndex
	State       StateStore
	Scheduler   JobScheduler
	Metrics     Metrics
	Interval    func() time.Duration
	Concurrency int
}

// Sweeper periodically repairs derived state: the verification indexes, alert
// tallies, and the trust scores of authors and voters of live alerts. Only one
// node of a cluster runs it at a time.
type Sweeper struct {
	api         *pluginapi.Client
	engine      Recomputer
	alerts      AlertLister
	index       VerificationIndex
	state       StateStore
	scheduler   JobScheduler
	metrics     Metrics
	interval    func() time.Duration
	concurrency int
	now         func() time.Time

	mu  sync.Mutex
	job Job
}

// New creates a sweeper. It does not run until Start is called.
func New(deps Deps) *Sweeper {
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	interval := deps.Interval
	if interval == nil {
		interval = func() time.Duration { return DefaultInterval }
	}

	return &Sweeper{
		api:         deps.API,
		engine:      deps.Engine,
		alerts:      deps.Alerts,
		index:       deps.Index,
		state:       deps.State,
		scheduler:   deps.Scheduler,
		metrics:     deps.Metrics,
		interval:    interval,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// SetClock overrides the sweeper clock (useful for testing)
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Name identifies the sweeper in the worker registry
func (s *Sweeper) Name() string {
	return "sweeper"
}

// Start schedules the recurring sweep job
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.job != nil {
		return fmt.Errorf("sweeper already running")
	}

	job, err := s.scheduler.Schedule(JobID, s.nextWaitInterval, s.run)
	if err != nil {
		return fmt.Errorf("failed to schedule cluster job: %w", err)
	}

	s.job = job
	s.api.Log.Info("Sweeper started", "interval", s.currentInterval().String())
	return nil
}

// Stop cancels the sweep job
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.job == nil {
		return nil
	}

	err := s.job.Close()
	s.job = nil

	if err != nil {
		s.api.Log.Error("Failed to close cluster job", "jobId", JobID, "error", err.Error())
		return fmt.Errorf("failed to close cluster job: %w", err)
	}

	s.api.Log.Info("Sweeper stopped")
	return nil
}

// Status returns the persisted health of the sweeper
func (s *Sweeper) Status(ctx context.Context) (store.SweepStatus, error) {
	return s.state.GetStatus(ctx)
}

// nextWaitInterval is called by the cluster job scheduler to decide how long to
// wait until the next sweep. The interval is read from configuration every time.
func (s *Sweeper) nextWaitInterval(now time.Time, metadata cluster.JobMetadata) time.Duration {
	if metadata.LastFinished.IsZero() {
		return 0
	}

	interval := s.currentInterval()
	sinceLastFinished := now.Sub(metadata.LastFinished)
	if sinceLastFinished < interval {
		return interval - sinceLastFinished
	}

	return 0
}

func (s *Sweeper) currentInterval() time.Duration {
	interval := s.interval()
	if interval <= 0 {
		return DefaultInterval
	}
	return max(interval, MinInterval)
}

// run is called by the cluster job scheduler
func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.currentInterval())
	defer cancel()

	_ = s.Sweep(ctx)
}

// Sweep runs one repair pass and records its outcome.
// Any failure aborts the pass; the next run starts over.
func (s *Sweeper) Sweep(ctx context.Context) error {
	started := s.now()
	s.api.Log.Debug("Starting sweep")

	counts, err := s.sweep(ctx)

	if s.metrics != nil {
		s.metrics.ObserveSweep(err, s.now().Sub(started))
	}

	// The outcome is recorded even when the pass ran out of time
	ctx = context.WithoutCancel(ctx)

	if err != nil {
		s.handleSweepError(ctx, err)
		return err
	}

	if recordErr := s.state.RecordSuccess(ctx, s.now(), counts); recordErr != nil {
		s.api.Log.Error("Failed to save sweep status", "error", recordErr.Error())
	}

	s.api.Log.Debug("Sweep completed",
		"alertsChecked", counts.AlertsChecked,
		"indexEntriesRebuilt", counts.IndexEntriesRebuilt,
		"trustRefreshed", counts.TrustRefreshed)

	return nil
}

func (s *Sweeper) sweep(ctx context.Context) (store.SweepCounts, error) {
	var counts store.SweepCounts

	// Indexes first, so that tallies and scores below are computed from complete ones
	repair, err := s.index.RebuildIndexes(ctx)
	if err != nil {
		return counts, fmt.Errorf("failed to rebuild verification indexes: %w", err)
	}
	counts.IndexEntriesRebuilt = repair.Entries
	if repair.Entries > 0 {
		s.api.Log.Warn("Repaired verification indexes",
			"entries", repair.Entries,
			"voters", len(repair.Voters))
	}

	alerts, err := s.alerts.ListAlerts(ctx)
	if err != nil {
		return counts, fmt.Errorf("failed to list alerts: %w", err)
	}

	var votersMu sync.Mutex
	voters := make(map[string]struct{}, len(repair.Voters))
	for _, voterID := range repair.Voters {
		voters[voterID] = struct{}{}
	}

	now := s.now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, alert := range alerts {
		if alert.IsExpired(now) {
			continue
		}
		counts.AlertsChecked++

		alertID := alert.AlertID
		g.Go(func() error {
			_, err := s.engine.Recompute(gctx, alertID)
			if errors.Is(err, crisis.ErrAlertNotFound) {
				// Expired or deleted since it was listed
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to recompute alert %s: %w", alertID, err)
			}

			alertVoters, err := s.index.VotersOf(gctx, alertID)
			if err != nil {
				return fmt.Errorf("failed to list voters of alert %s: %w", alertID, err)
			}

			votersMu.Lock()
			defer votersMu.Unlock()
			for _, voterID := range alertVoters {
				voters[voterID] = struct{}{}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return counts, err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for voterID := range voters {
		g.Go(func() error {
			if _, err := s.engine.RefreshTrust(gctx, voterID); err != nil {
				return fmt.Errorf("failed to refresh trust of %s: %w", voterID, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return counts, err
	}
	counts.TrustRefreshed = len(voters)

	return counts, nil
}

// handleSweepError records the failure and escalates repeated ones
func (s *Sweeper) handleSweepError(ctx context.Context, err error) {
	errMsg := err.Error()

	failures, recordErr := s.state.RecordFailure(ctx, s.now(), err)
	if recordErr != nil {
		s.api.Log.Error("Sweep failed and its status could not be saved",
			"error", errMsg,
			"statusError", recordErr.Error())
		return
	}

	if failures >= FailureWarningThreshold {
		s.api.Log.Error("Sweep keeps failing",
			"consecutiveFailures", failures,
			"error", errMsg)
		return
	}

	s.api.Log.Warn("Sweep failed",
		"consecutiveFailures", failures,
		"error", errMsg)
}
