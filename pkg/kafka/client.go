// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"

	"pai-resource-go/internal/config"
	"pai-resource-go/pkg/log"
	"pai-resource-go/pkg/tasks"
)

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// ProduceResourceStored 发送一条资源入库完成事件到 Kafka。
// 生产者未初始化时返回错误，由调用方决定是否忽略。
func ProduceResourceStored(event tasks.ResourceStoredEvent) error {
	if producer == nil {
		return errors.New("kafka producer not initialized")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return producer.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(event.ResourceID),
			Value: payload,
		},
	)
}
