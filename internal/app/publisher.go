package app

import (
	"context"
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/heading_viewer/internal/orientation"
)

// StateSource is the read side of orientation.Estimator.
type StateSource interface {
	State() (orientation.State, bool)
}

// HeadingPublisher publishes the latest orientation on a fixed interval.
// Nothing is sent before the first heading or while it is unchanged.
type HeadingPublisher struct {
	Client   mqtt.Client
	Topic    string
	Interval time.Duration
	Scene    string
	Source   StateSource

	log      zerolog.Logger
	last     orientation.State
	haveLast bool
}

// NewHeadingPublisher creates a publisher for src.
func NewHeadingPublisher(client mqtt.Client, topic string, interval time.Duration, scene string, src StateSource) *HeadingPublisher {
	return &HeadingPublisher{
		Client:   client,
		Topic:    topic,
		Interval: interval,
		Scene:    scene,
		Source:   src,
		log:      log.With().Str("component", "publisher").Logger(),
	}
}

// Run publishes until ctx is done.
func (p *HeadingPublisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	p.log.Info().Str("topic", p.Topic).Dur("interval", p.Interval).Msg("publisher: started")
	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("publisher: stopped")
			return
		case t := <-ticker.C:
			p.publish(t)
		}
	}
}

// publish sends one message and reports whether it did.
func (p *HeadingPublisher) publish(t time.Time) bool {
	st, ok := p.Source.State()
	if !ok || (p.haveLast && st.Heading == p.last.Heading && st.Angles == p.last.Angles) {
		return false
	}
	payload, err := json.Marshal(NewHeadingMessage(p.Scene, st, t))
	if err != nil {
		p.log.Error().Err(err).Msg("publisher: marshal failed")
		return false
	}
	// QoS 0, not waited on.
	p.Client.Publish(p.Topic, 0, false, payload)
	p.last, p.haveLast = st, true
	return true
}
