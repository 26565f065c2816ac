package mesh

import (
	"encoding/json"

	"github.com/IBM/sarama"

	"github.com/zrxmesh/ordermesh/pkg/logger"
	"github.com/zrxmesh/ordermesh/pkg/metrics"
)

// KafkaSink publishes AdmitRecord to a Kafka topic keyed by order hash, so
// compacted topics keep the latest admission per order.
type KafkaSink struct {
	topic    string
	producer sarama.SyncProducer
}

// NewKafkaSink connects a synchronous producer to the given brokers.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &KafkaSink{topic: topic, producer: p}, nil
}

// NewKafkaSinkWithProducer wires an existing producer. Tests pass sarama's
// mock producer here.
func NewKafkaSinkWithProducer(topic string, p sarama.SyncProducer) *KafkaSink {
	return &KafkaSink{topic: topic, producer: p}
}

func (k *KafkaSink) Publish(r AdmitRecord) {
	b, err := json.Marshal(r)
	if err != nil {
		logger.ErrorJ("order_sink", map[string]any{"result": "marshal_error", "err": err.Error()})
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(r.Hash),
		Value: sarama.ByteEncoder(b),
	}
	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		metrics.Inc("order_sink_total", map[string]string{"sink": "kafka", "result": "error"})
		logger.ErrorJ("order_sink", map[string]any{"result": "kafka_error", "err": err.Error()})
		return
	}
	metrics.Inc("order_sink_total", map[string]string{"sink": "kafka", "result": "ok"})
	logger.DebugJ("order_sink", map[string]any{"result": "ok", "partition": partition, "offset": offset})
}

func (k *KafkaSink) Close() error { return k.producer.Close() }
