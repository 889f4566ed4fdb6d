package notify

import (
	"fmt"
	"sync"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/mattermost/mattermost/server/public/plugin"
	"github.com/mattermost/mattermost/server/public/pluginapi"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/crisis"
)

// DefaultQueueSize is the number of pending deliveries held before new ones are dropped
const DefaultQueueSize = 256

// Poster posts channel messages for alerts and SOS broadcasts
type Poster interface {
	PostAlert(alert crisis.Alert, channelID string) error
	PostVerified(alert crisis.Alert, channelID string) error
	PostSOS(sos crisis.SOS, channelID string) error
}

// Options configure a Broadcaster. Every field is optional.
type Options struct {
	// QueueSize bounds the pending deliveries
	QueueSize int

	// Poster and ChannelID enable channel posts. ChannelID is read per delivery
	// so configuration changes apply without a restart.
	Poster    Poster
	ChannelID func() string

	// OnDrop is called for every delivery dropped because the queue was full
	OnDrop func()
}

type delivery struct {
	name string
	run  func() error
}

// Broadcaster delivers websocket events and channel posts from a single
// background worker. Enqueueing never blocks: when the queue is full the
// delivery is dropped and logged.
type Broadcaster struct {
	api       plugin.API
	client    *pluginapi.Client
	poster    Poster
	channelID func() string
	onDrop    func()

	queue    chan delivery
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewBroadcaster creates a broadcaster and starts its delivery worker
func NewBroadcaster(api plugin.API, client *pluginapi.Client, opts Options) *Broadcaster {
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}

	b := &Broadcaster{
		api:       api,
		client:    client,
		poster:    opts.Poster,
		channelID: opts.ChannelID,
		onDrop:    opts.OnDrop,
		queue:     make(chan delivery, size),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	go b.run()

	return b
}

// Publish broadcasts an event to every connected client. Clients receive it
// as "custom_<plugin id>_<event>".
func (b *Broadcaster) Publish(event string, payload map[string]any) {
	b.enqueue(delivery{
		name: event,
		run: func() error {
			b.api.PublishWebSocketEvent(event, payload, &model.WebsocketBroadcast{})
			return nil
		},
	})
}

// AnnounceAlert posts a new alert to the alerts channel, if one is configured
func (b *Broadcaster) AnnounceAlert(alert crisis.Alert) {
	b.enqueuePost("post_alert", func(channelID string) error {
		return b.poster.PostAlert(alert.Sanitized(), channelID)
	})
}

// AnnounceVerified posts a verification notice to the alerts channel, if one is configured
func (b *Broadcaster) AnnounceVerified(alert crisis.Alert) {
	b.enqueuePost("post_verified", func(channelID string) error {
		return b.poster.PostVerified(alert.Sanitized(), channelID)
	})
}

// AnnounceSOS posts an SOS broadcast to the alerts channel, if one is configured
func (b *Broadcaster) AnnounceSOS(sos crisis.SOS) {
	b.enqueuePost("post_sos", func(channelID string) error {
		return b.poster.PostSOS(sos.Sanitized(), channelID)
	})
}

// Stop stops the delivery worker and waits for it to finish.
// Deliveries still queued are discarded.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
	})
	<-b.done
}

func (b *Broadcaster) enqueuePost(name string, post func(channelID string) error) {
	if b.poster == nil || b.channelID == nil {
		return
	}
	channelID := b.channelID()
	if channelID == "" {
		return
	}

	b.enqueue(delivery{
		name: name,
		run: func() error {
			return post(channelID)
		},
	})
}

func (b *Broadcaster) enqueue(d delivery) {
	select {
	case b.queue <- d:
	default:
		b.client.Log.Warn("Notification queue full, dropping delivery", "delivery", d.name)
		if b.onDrop != nil {
			b.onDrop()
		}
	}
}

func (b *Broadcaster) run() {
	defer close(b.done)

	for {
		select {
		case d := <-b.queue:
			b.deliver(d)
		case <-b.stop:
			return
		}
	}
}

// deliver runs one delivery. Failures and panics are logged and never stop the worker.
func (b *Broadcaster) deliver(d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.client.Log.Error("Notification delivery panicked", "delivery", d.name, "panic", fmt.Sprint(r))
		}
	}()

	if err := d.run(); err != nil {
		b.client.Log.Warn("Notification delivery failed", "delivery", d.name, "error", err.Error())
	}
}
