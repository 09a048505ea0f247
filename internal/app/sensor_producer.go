package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/heading_viewer/internal/config"
	"github.com/relabs-tech/heading_viewer/internal/sensors"
)

// readingPublisher forwards sensor events to MQTT as imu.Reading JSON.
type readingPublisher struct {
	client mqtt.Client
	source string
	topics map[sensors.Kind]string
	log    zerolog.Logger

	published atomic.Uint64
	dropped   atomic.Uint64
}

func newReadingPublisher(client mqtt.Client, source, accelTopic, magTopic string) *readingPublisher {
	return &readingPublisher{
		client: client,
		source: source,
		topics: map[sensors.Kind]string{
			sensors.Accelerometer: accelTopic,
			sensors.Magnetometer:  magTopic,
		},
		log: log.With().Str("component", "producer").Logger(),
	}
}

// OnSensorChanged implements sensors.Listener. It never blocks on the broker.
func (p *readingPublisher) OnSensorChanged(ev sensors.Event) {
	topic := p.topics[ev.Kind]
	if topic == "" {
		p.dropped.Add(1)
		return
	}
	payload, err := json.Marshal(sensors.ReadingFromEvent(p.source, ev))
	if err != nil {
		p.dropped.Add(1)
		p.log.Error().Err(err).Msg("producer: marshal failed")
		return
	}
	p.client.Publish(topic, 0, false, payload)
	p.published.Add(1)

	if e := p.log.Trace(); e.Enabled() {
		if line, err := sensors.FormatXDR(ev); err == nil {
			e.Str("xdr", line).Msg("producer: sample")
		}
	}
}

// RunSensorProducer reads the local sensor back-end named by SENSOR_SOURCE
// and publishes every sample on TOPIC_ACCEL / TOPIC_MAG.
func RunSensorProducer(cfg *config.Config) error {
	if cfg.SensorSource == config.SensorSourceMQTT || cfg.SensorSource == config.SensorSourceNone {
		return fmt.Errorf("sensor producer needs a local source, got SENSOR_SOURCE=%s", cfg.SensorSource)
	}
	mgr, err := newSensorManager(cfg, nil)
	if err != nil {
		return err
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDProducer)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	pub := newReadingPublisher(client, cfg.SensorSource, cfg.TopicAccel, cfg.TopicMag)
	registered := 0
	for _, kind := range []sensors.Kind{sensors.Accelerometer, sensors.Magnetometer} {
		if !mgr.DefaultSensor(kind) {
			log.Warn().Stringer("kind", kind).Msg("producer: sensor not present")
			continue
		}
		if mgr.RegisterListener(pub, kind) {
			registered++
		}
	}
	if registered == 0 {
		return fmt.Errorf("no sensors available from %s", cfg.SensorSource)
	}
	defer mgr.UnregisterListener(pub)

	log.Info().Str("source", cfg.SensorSource).Msg("producer: publishing samples")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	interval := time.Duration(cfg.ConsoleLogInterval) * time.Millisecond
	if interval <= 0 {
		<-ctx.Done()
	} else {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-ticker.C:
				log.Debug().
					Uint64("published", pub.published.Load()).
					Uint64("dropped", pub.dropped.Load()).
					Msg("producer: stats")
			}
		}
	}

	log.Info().Uint64("published", pub.published.Load()).Msg("producer: shutting down")
	return nil
}
