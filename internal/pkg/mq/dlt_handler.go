// internal/pkg/mq/dlt_handler.go
package mq

import (
	"context"

	"github.com/segmentio/kafka-go"

	"promohub/internal/pkg/logger"
	"promohub/internal/pkg/metrics"
)

// LogDeadLetter 是死信主题的 Handler：记录结构化日志后即视为处理完成。
func LogDeadLetter(ctx context.Context, msg kafka.Message) error {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}

	metrics.MessagesTotal.WithLabelValues(msg.Topic, "dead_letter_received").Inc()
	logger.Ctx(ctx).Error().
		Str("reason", "dead_letter_message_received").
		Str("original_topic", headers[HeaderOriginalTopic]).
		Str("original_partition", headers[HeaderOriginalPartition]).
		Str("original_offset", headers[HeaderOriginalOffset]).
		Str("exception_fqcn", headers[HeaderExceptionFqcn]).
		Str("exception_message", headers[HeaderExceptionMessage]).
		Str("key", string(msg.Key)).
		Str("value", string(msg.Value)).
		Msg("dead letter message received")
	return nil
}
