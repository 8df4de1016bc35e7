package app

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roompaneld/internal/config"
	"github.com/dokzlo13/roompaneld/internal/layer"
	"github.com/dokzlo13/roompaneld/internal/panel"
	"github.com/dokzlo13/roompaneld/internal/remote"
)

// RemoteService owns the MQTT connection and everything published or
// received over it. Collaborators are built before the broker is dialled so
// the rest of the graph can be wired; nothing is published until Start.
type RemoteService struct {
	cfg    *config.Config
	topics remote.Topics
	client *remote.Client
	pub    *deferredPublisher

	States        *remote.StateCache
	Devices       *remote.Devices
	Surface       *remote.Surface
	Announcements *remote.Announcements
	Feed          *remote.TransitionFeed
}

// NewRemoteService creates the MQTT-backed collaborators.
func NewRemoteService(cfg *config.Config) *RemoteService {
	topics := remote.Topics{Prefix: cfg.MQTT.Prefix}
	pub := &deferredPublisher{}
	states := remote.NewStateCache()
	states.SetConfirmTimeout(cfg.MQTT.ConfirmTimeout.Duration())
	announcements := remote.NewAnnouncements(topics)

	known := announcements.Known
	static := make(map[string]bool, len(cfg.Discovery.Components))
	for _, c := range cfg.Discovery.Components {
		static[c.Name] = true
	}
	if len(static) > 0 {
		known = func(name string) bool { return static[name] || announcements.Known(name) }
	}

	return &RemoteService{
		cfg:           cfg,
		topics:        topics,
		pub:           pub,
		States:        states,
		Devices:       remote.NewDevices(pub, states, topics, known),
		Surface:       remote.NewSurface(pub, topics),
		Announcements: announcements,
		Feed:          remote.NewTransitionFeed(pub, topics),
	}
}

// Component returns the automation component with the given registry name.
func (r *RemoteService) Component(name string) *remote.Component {
	return remote.NewComponent(r.pub, r.States, r.topics, name)
}

// Start connects to the broker and subscribes to device state, announcements
// and panel events. Events are posted to the dispatcher.
func (r *RemoteService) Start(m *panel.Machine, poster remote.Poster) error {
	client, err := remote.Connect(remote.Options{
		Broker:         r.cfg.MQTT.Broker,
		ClientID:       r.cfg.MQTT.ClientID,
		Username:       r.cfg.MQTT.Username,
		Password:       r.cfg.MQTT.Password,
		QoS:            byte(r.cfg.MQTT.QoS),
		ConnectTimeout: r.cfg.MQTT.ConnectTimeout.Duration(),
		StatusTopic:    r.topics.Status(),
	})
	if err != nil {
		return err
	}
	r.client = client
	r.pub.set(client)

	if err := client.Subscribe(r.topics.AllDeviceStates(), r.States.Update); err != nil {
		return fmt.Errorf("device state subscription: %w", err)
	}
	if err := r.Announcements.Subscribe(client); err != nil {
		return fmt.Errorf("announcement subscription: %w", err)
	}

	listener := remote.NewListener(client, r.topics, poster, remote.Handlers{
		NavPress:   func(button int) { m.PressNavButton(button) },
		RoutePress: func(route int) { m.SelectRoute(route) },
		Signal:     m.SetSignal,
		Request: func(name string) {
			target, ok := layer.Parse(name)
			if !ok {
				log.Warn().Str("layer", name).Msg("Remote requested unknown layer")
				return
			}
			m.RequestTransition(target)
		},
	}, r.cfg.MQTT.PressRate)
	return listener.Start()
}

// Close disconnects from the broker.
func (r *RemoteService) Close() {
	if r.client != nil {
		r.client.Close()
	}
}

// deferredPublisher forwards to the client once connected.
type deferredPublisher struct {
	client atomic.Pointer[remote.Client]
}

func (d *deferredPublisher) set(c *remote.Client) {
	d.client.Store(c)
}

func (d *deferredPublisher) Publish(topic string, payload []byte, retained bool) error {
	c := d.client.Load()
	if c == nil {
		return remote.ErrNotConnected
	}
	return c.Publish(topic, payload, retained)
}

func (d *deferredPublisher) Subscribe(topic string, handler remote.MessageHandler) error {
	c := d.client.Load()
	if c == nil {
		return remote.ErrNotConnected
	}
	return c.Subscribe(topic, handler)
}
