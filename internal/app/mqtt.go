package app

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/heading_viewer/internal/orientation"
)

// HeadingMessage is the payload published on TOPIC_HEADING.
type HeadingMessage struct {
	Scene   string           `json:"scene,omitempty"`
	Heading float64          `json:"heading"`
	Pose    orientation.Pose `json:"pose"`
	TimeNS  int64            `json:"time_ns"`
}

// NewHeadingMessage builds the payload for st at t.
func NewHeadingMessage(scene string, st orientation.State, t time.Time) HeadingMessage {
	return HeadingMessage{
		Scene:   scene,
		Heading: st.Heading,
		Pose:    st.Pose(),
		TimeNS:  t.UnixNano(),
	}
}

// connectMQTT connects a client to broker and waits for the result.
func connectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn().Err(err).Str("broker", broker).Msg("mqtt: connection lost")
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	log.Info().Str("broker", broker).Str("client_id", clientID).Msg("mqtt: connected")
	return client, nil
}
