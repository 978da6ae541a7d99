package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/curblink/internal/models"
)

// LocationEvent is the wire shape published for each driver position fix.
type LocationEvent struct {
	DriverID  string       `json:"driver_id"`
	Loc       models.Coord `json:"loc"`
	Approved  bool         `json:"approved"`
	Available bool         `json:"available"`
	At        time.Time    `json:"at"`
}

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w}
}

func (k *KafkaProducer) PublishLocation(ev LocationEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(ev)
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.DriverID), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
