package notify

import (
	"context"
	"strconv"

	"github.com/IBM/sarama"
)

// KafkaSink 投递到 Kafka，按房间分区以保证同一房间的事件有序
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaSink 连接 brokers 创建同步生产者
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.ClientID = "chatd"

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return NewKafkaSinkFromProducer(producer, topic), nil
}

// NewKafkaSinkFromProducer 使用已有生产者
func NewKafkaSinkFromProducer(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Send(_ context.Context, e *Event, body []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(e.Type)},
			{Key: []byte("event_id"), Value: []byte(e.ID)},
		},
	}
	if e.RoomID != 0 {
		msg.Key = sarama.StringEncoder(strconv.FormatInt(e.RoomID, 10))
	} else {
		msg.Key = sarama.StringEncoder("user:" + strconv.FormatInt(e.UserID, 10))
	}
	_, _, err := s.producer.SendMessage(msg)
	return err
}

func (s *KafkaSink) Close() error {
	return s.producer.Close()
}
