package mq

import (
	"context"
	"time"
)

// TopicConsumers 是一个业务主题的消费者和它的死信主题日志消费者
type TopicConsumers struct {
	Main       *Consumer
	DeadLetter *Consumer
	dltWriter  Writer
}

// NewTopicConsumers 为 topic 创建重试后写入 <topic>.DLT 的消费者，以及记录死信的消费者。
func NewTopicConsumers(brokers []string, topic, group string, handler Handler, maxAttempts int, backoff time.Duration) *TopicConsumers {
	dlt := topic + DLTSuffix
	writer := NewKafkaWriter(brokers, dlt)
	return &TopicConsumers{
		Main: NewConsumer(NewKafkaReader(brokers, topic, group), handler, NewFailureHandler(writer), ConsumerConfig{
			Name:        group,
			Topic:       topic,
			MaxAttempts: maxAttempts,
			Backoff:     backoff,
		}),
		DeadLetter: NewConsumer(NewKafkaReader(brokers, dlt, group+"-dlt"), LogDeadLetter, nil, ConsumerConfig{
			Name:  group + "-dlt",
			Topic: dlt,
		}),
		dltWriter: writer,
	}
}

// Close 关闭死信 writer，应在消费者退出之后调用
func (t *TopicConsumers) Close(context.Context) error {
	return t.dltWriter.Close()
}
