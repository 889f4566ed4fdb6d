package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/mattermost/mattermost/server/public/plugin"
	"github.com/mattermost/mattermost/server/public/pluginapi"
	"github.com/pkg/errors"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/alerts"
	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/metrics"
	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/missing"
	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/notify"
	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/poster"
	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/ratelimit"
	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/sos"
	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/store"
	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/sweeper"
	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/verification"
	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/worker"
)

// Plugin implements the interface expected by the Mattermost server to communicate between the server and plugin processes.
type Plugin struct {
	plugin.MattermostPlugin

	// client is the Mattermost server API client.
	client *pluginapi.Client

	// configurationLock synchronizes access to the configuration.
	configurationLock sync.RWMutex

	// configuration is the active plugin configuration. Consult getConfiguration and
	// setConfiguration for usage.
	configuration *configuration

	// router serves the REST API under /api/v1
	router http.Handler

	storeClient   *store.Client
	alertStore    *store.AlertStore
	verifications *store.VerificationStore
	userStore     *store.UserStore
	sosStore      *store.SOSStore
	missingStore  *store.MissingStore

	engine       *verification.Engine
	alertService *alerts.Service
	sosService   *sos.Service
	missingCases *missing.Service
	broadcaster  *notify.Broadcaster
	limiter      *ratelimit.Limiter
	metrics      *metrics.Metrics
	sweeper      *sweeper.Sweeper

	// workers owns every background component and stops them on deactivation
	workers *worker.Registry
}

// components are the environment-specific collaborators of the plugin services
type components struct {
	kv        store.KV
	locker    verification.Locker
	scheduler sweeper.JobScheduler
	botID     string
}

// OnActivate is invoked when the plugin is activated. If an error is returned, the plugin will be deactivated.
func (p *Plugin) OnActivate() error {
	p.client = pluginapi.NewClient(p.API, p.Driver)

	config := p.getConfiguration()

	botID, err := p.API.EnsureBotUser(&model.Bot{
		Username:    config.botUsername(),
		DisplayName: config.botDisplayName(),
		Description: "Posts crisis alerts, verifications and SOS broadcasts",
	})
	if err != nil {
		return errors.Wrap(err, "failed to ensure bot user")
	}

	p.API.LogInfo("Bot user initialized", "botID", botID, "username", config.botUsername())

	if err := p.initServices(components{
		kv:        store.NewPluginKV(p.API),
		locker:    verification.NewClusterLocker(p.API),
		scheduler: sweeper.NewClusterJobScheduler(p.API),
		botID:     botID,
	}); err != nil {
		return err
	}

	if err := p.workers.Register(p.sweeper); err != nil {
		p.API.LogError("Failed to start sweeper", "error", err.Error())
		_ = p.workers.UnregisterAll()
		return errors.Wrap(err, "failed to start sweeper")
	}

	return nil
}

// initServices builds the stores, services and background workers
func (p *Plugin) initServices(c components) error {
	config := p.getConfiguration()

	p.workers = worker.NewRegistry()
	p.metrics = metrics.New()

	p.storeClient = store.NewClient(c.kv, config.storeTimeout())
	p.alertStore = store.NewAlertStore(p.storeClient)
	p.verifications = store.NewVerificationStore(p.storeClient)
	p.userStore = store.NewUserStore(p.storeClient)
	p.sosStore = store.NewSOSStore(p.storeClient)
	p.missingStore = store.NewMissingStore(p.storeClient)

	opts := notify.Options{
		OnDrop:    p.metrics.IncNotificationsDropped,
		ChannelID: func() string { return p.getConfiguration().AlertsChannelID },
	}
	if c.botID != "" {
		opts.Poster = poster.New(p.API, c.botID)
	}
	p.broadcaster = notify.NewBroadcaster(p.API, p.client, opts)
	if err := p.workers.Register(worker.Background("broadcaster", p.broadcaster.Stop)); err != nil {
		return errors.Wrap(err, "failed to register broadcaster")
	}

	p.limiter = ratelimit.New(p.client, nil)
	if err := p.workers.Register(worker.Background("ratelimiter", p.limiter.Stop)); err != nil {
		return errors.Wrap(err, "failed to register rate limiter")
	}

	p.engine = verification.NewEngine(verification.Deps{
		API:           p.client,
		Verifications: p.verifications,
		Alerts:        p.alertStore,
		Users:         p.userStore,
		Config:        p,
		Publisher:     p.broadcaster,
		Locker:        c.locker,
		Announcer:     p.broadcaster,
		Metrics:       p.metrics,
	})

	p.alertService = alerts.NewService(p.client, p.alertStore, p, p.broadcaster, p.broadcaster)
	p.sosService = sos.NewService(p.client, p.sosStore, p.userStore, p, p.broadcaster, p.broadcaster)
	p.missingCases = missing.NewService(p.client, p.missingStore, p.userStore, p, p.broadcaster)

	p.sweeper = sweeper.New(sweeper.Deps{
		API:       p.client,
		Engine:    p.engine,
		Alerts:    p.alertStore,
		Index:     p.verifications,
		State:     store.NewSweepStateStore(p.storeClient),
		Scheduler: c.scheduler,
		Metrics:   p.metrics,
		Interval:  func() time.Duration { return p.getConfiguration().sweepInterval() },
	})

	p.router = p.initRouter()

	return nil
}

// OnDeactivate is invoked when the plugin is deactivated.
func (p *Plugin) OnDeactivate() error {
	if p.workers != nil {
		if err := p.workers.UnregisterAll(); err != nil {
			p.API.LogError("Failed to stop all workers during deactivation", "error", err.Error())
			return err
		}
	}

	return nil
}

// See https://developers.mattermost.com/extend/plugins/server/reference/
