package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mattermost/mattermost/server/public/plugin/plugintest"
	"github.com/mattermost/mattermost/server/public/pluginapi"
	"github.com/mattermost/mattermost/server/public/pluginapi/cluster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/crisis"
	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/store"
)

// allowLogs accepts log calls with any number of key/value pairs
func allowLogs(api *plugintest.API) {
	for _, method := range []string{"LogDebug", "LogInfo", "LogWarn", "LogError"} {
		for n := 1; n <= 7; n += 2 {
			args := make([]interface{}, n)
			for i := range args {
				args[i] = mock.Anything
			}
			api.On(method, args...).Maybe()
		}
	}
}

type mockJob struct {
	closed   bool
	closeErr error
}

func (j *mockJob) Close() error {
	j.closed = true
	return j.closeErr
}

type mockScheduler struct {
	jobID    string
	next     cluster.NextWaitInterval
	callback func()
	job      *mockJob
	err      error
}

func (s *mockScheduler) Schedule(jobID string, next cluster.NextWaitInterval, callback func()) (Job, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.jobID = jobID
	s.next = next
	s.callback = callback
	s.job = &mockJob{}
	return s.job, nil
}

type fakeLister struct {
	alerts []*crisis.Alert
	err    error
}

func (f *fakeLister) ListAlerts(context.Context) ([]*crisis.Alert, error) {
	return f.alerts, f.err
}

type fakeEngine struct {
	mu        sync.Mutex
	seen      []string
	refreshed []string
	errOn     map[string]error
}

func (f *fakeEngine) Recompute(_ context.Context, alertID string) (crisis.Tally, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, alertID)
	return crisis.Tally{}, f.errOn[alertID]
}

func (f *fakeEngine) RefreshTrust(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, userID)
	return crisis.DefaultTrustScore, f.errOn[userID]
}

type fakeIndex struct {
	repair store.IndexRepair
	voters map[string][]string
	err    error
	calls  int
}

func (f *fakeIndex) RebuildIndexes(context.Context) (store.IndexRepair, error) {
	f.calls++
	return f.repair, f.err
}

func (f *fakeIndex) VotersOf(_ context.Context, alertID string) ([]string, error) {
	return f.voters[alertID], nil
}

type fakeMetrics struct {
	runs   int
	failed int
}

func (f *fakeMetrics) ObserveSweep(err error, _ time.Duration) {
	f.runs++
	if err != nil {
		f.failed++
	}
}

type testEnv struct {
	sweeper   *Sweeper
	scheduler *mockScheduler
	lister    *fakeLister
	engine    *fakeEngine
	index     *fakeIndex
	state     *store.SweepStateStore
	metrics   *fakeMetrics
	interval  time.Duration
	now       time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	api := plugintest.NewAPI(t)
	allowLogs(api)
	client := pluginapi.NewClient(api, &plugintest.Driver{})

	c, _ := store.NewMemoryClient()

	env := &testEnv{
		scheduler: &mockScheduler{},
		lister:    &fakeLister{},
		engine:    &fakeEngine{errOn: map[string]error{}},
		index:     &fakeIndex{voters: map[string][]string{}},
		state:     store.NewSweepStateStore(c),
		metrics:   &fakeMetrics{},
		interval:  5 * time.Minute,
		now:       time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC),
	}

	env.sweeper = New(Deps{
		API:       client,
		Engine:    env.engine,
		Alerts:    env.lister,
		Index:     env.index,
		State:     env.state,
		Scheduler: env.scheduler,
		Metrics:   env.metrics,
		Interval:  func() time.Duration { return env.interval },
	})
	env.sweeper.SetClock(func() time.Time { return env.now })

	return env
}

func (env *testEnv) alert(id string, expiresIn time.Duration) *crisis.Alert {
	return &crisis.Alert{AlertID: id, ExpiresAt: env.now.Add(expiresIn)}
}

func TestNextWaitInterval(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()

	t.Run("first run executes immediately", func(t *testing.T) {
		assert.Equal(t, time.Duration(0), env.sweeper.nextWaitInterval(now, cluster.JobMetadata{}))
	})

	t.Run("waits for the remaining interval", func(t *testing.T) {
		wait := env.sweeper.nextWaitInterval(now, cluster.JobMetadata{LastFinished: now.Add(-time.Minute)})
		assert.Equal(t, 4*time.Minute, wait)
	})

	t.Run("runs immediately after a full interval", func(t *testing.T) {
		wait := env.sweeper.nextWaitInterval(now, cluster.JobMetadata{LastFinished: now.Add(-6 * time.Minute)})
		assert.Equal(t, time.Duration(0), wait)
	})

	t.Run("interval changes apply on the next wait", func(t *testing.T) {
		env.interval = time.Minute
		defer func() { env.interval = 5 * time.Minute }()

		wait := env.sweeper.nextWaitInterval(now, cluster.JobMetadata{LastFinished: now.Add(-30 * time.Second)})
		assert.Equal(t, 30*time.Second, wait)
	})

	t.Run("interval is clamped to the minimum", func(t *testing.T) {
		env.interval = time.Second
		defer func() { env.interval = 5 * time.Minute }()

		wait := env.sweeper.nextWaitInterval(now, cluster.JobMetadata{LastFinished: now})
		assert.Equal(t, MinInterval, wait)
	})
}

func TestStartStop(t *testing.T) {
	t.Run("schedules the cluster job", func(t *testing.T) {
		env := newTestEnv(t)

		require.NoError(t, env.sweeper.Start())
		assert.Equal(t, JobID, env.scheduler.jobID)
		assert.NotNil(t, env.scheduler.callback)

		assert.Error(t, env.sweeper.Start(), "second start should fail")

		require.NoError(t, env.sweeper.Stop())
		assert.True(t, env.scheduler.job.closed)

		require.NoError(t, env.sweeper.Stop(), "stopping twice is harmless")
	})

	t.Run("schedule failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.scheduler.err = errors.New("cluster unavailable")

		err := env.sweeper.Start()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cluster unavailable")
	})

	t.Run("close failure is returned", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.sweeper.Start())
		env.scheduler.job.closeErr = errors.New("close failed")

		assert.Error(t, env.sweeper.Stop())
	})
}

func TestSweep(t *testing.T) {
	t.Run("rebuilds indexes, recomputes live alerts and refreshes voters", func(t *testing.T) {
		env := newTestEnv(t)
		env.lister.alerts = []*crisis.Alert{
			env.alert("a1", time.Hour),
			env.alert("a2", time.Hour),
			env.alert("expired", -time.Minute),
		}
		env.index.repair = store.IndexRepair{Entries: 4, Voters: []string{"u9"}}
		env.index.voters["a1"] = []string{"u1", "u2"}
		env.index.voters["a2"] = []string{"u2"}
		env.index.voters["expired"] = []string{"u3"}

		require.NoError(t, env.sweeper.Sweep(context.Background()))

		assert.ElementsMatch(t, []string{"a1", "a2"}, env.engine.seen)
		assert.ElementsMatch(t, []string{"u1", "u2", "u9"}, env.engine.refreshed)
		assert.Equal(t, 1, env.index.calls)

		status, err := env.sweeper.Status(context.Background())
		require.NoError(t, err)
		assert.True(t, env.now.Equal(status.LastSuccess))
		assert.Equal(t, 2, status.AlertsChecked)
		assert.Equal(t, 4, status.IndexEntriesRebuilt)
		assert.Equal(t, 3, status.TrustRefreshed)
		assert.Zero(t, status.ConsecutiveFailures)
		assert.Equal(t, 1, env.metrics.runs)
	})

	t.Run("alerts that vanish mid-sweep are not failures", func(t *testing.T) {
		env := newTestEnv(t)
		env.lister.alerts = []*crisis.Alert{env.alert("gone", time.Hour)}
		env.engine.errOn["gone"] = crisis.ErrAlertNotFound

		require.NoError(t, env.sweeper.Sweep(context.Background()))
	})

	t.Run("failures are counted until a success", func(t *testing.T) {
		env := newTestEnv(t)
		env.lister.alerts = []*crisis.Alert{env.alert("a1", time.Hour)}
		env.engine.errOn["a1"] = crisis.Unavailable("update tally", errors.New("timeout"))

		for i := 1; i <= 3; i++ {
			require.Error(t, env.sweeper.Sweep(context.Background()))

			status, err := env.sweeper.Status(context.Background())
			require.NoError(t, err)
			assert.Equal(t, i, status.ConsecutiveFailures)
			assert.Contains(t, status.LastError, "a1")
		}
		assert.Equal(t, 3, env.index.calls, "indexes are rebuilt before recomputing")
		assert.Equal(t, 3, env.metrics.failed)

		delete(env.engine.errOn, "a1")
		require.NoError(t, env.sweeper.Sweep(context.Background()))

		status, err := env.sweeper.Status(context.Background())
		require.NoError(t, err)
		assert.Zero(t, status.ConsecutiveFailures)
		assert.Empty(t, status.LastError)
	})

	t.Run("list failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.lister.err = crisis.ErrStoreUnavailable

		err := env.sweeper.Sweep(context.Background())
		assert.ErrorIs(t, err, crisis.ErrStoreUnavailable)
		assert.Empty(t, env.engine.seen)
	})

	t.Run("index failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.lister.alerts = []*crisis.Alert{env.alert("a1", time.Hour)}
		env.index.err = crisis.ErrStoreUnavailable

		assert.Error(t, env.sweeper.Sweep(context.Background()))
		assert.Empty(t, env.engine.seen)
		status, err := env.sweeper.Status(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, status.ConsecutiveFailures)
	})

	t.Run("trust refresh failure fails the sweep", func(t *testing.T) {
		env := newTestEnv(t)
		env.index.repair = store.IndexRepair{Entries: 1, Voters: []string{"u1"}}
		env.engine.errOn["u1"] = crisis.Unavailable("set user_u1", errors.New("timeout"))

		err := env.sweeper.Sweep(context.Background())
		assert.ErrorIs(t, err, crisis.ErrStoreUnavailable)
		assert.Contains(t, err.Error(), "u1")
	})

	t.Run("scheduled callback runs a sweep", func(t *testing.T) {
		env := newTestEnv(t)
		env.lister.alerts = []*crisis.Alert{env.alert("a1", time.Hour)}

		require.NoError(t, env.sweeper.Start())
		defer func() { _ = env.sweeper.Stop() }()

		env.scheduler.callback()
		assert.Equal(t, []string{"a1"}, env.engine.seen)
	})
}
