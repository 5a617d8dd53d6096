package mqttbus

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Publisher serializes payloads to JSON and publishes them on one topic
// at QoS 0.
type Publisher struct {
	client mqtt.Client
	topic  string
	log    zerolog.Logger
}

func NewPublisher(client mqtt.Client, topic string, log zerolog.Logger) *Publisher {
	return &Publisher{client: client, topic: topic, log: log}
}

// Publish marshals payload and fires it at the topic. Returns an error on
// marshal or broker failure; delivery is at-most-once.
func (p *Publisher) Publish(payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal mqtt payload: %w", err)
	}
	token := p.client.Publish(p.topic, 0, false, raw)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, token.Error())
	}
	p.log.Debug().Str("topic", p.topic).Int("bytes", len(raw)).Msg("published")
	return nil
}
