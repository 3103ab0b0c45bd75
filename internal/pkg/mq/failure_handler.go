// internal/pkg/mq/failure_handler.go
package mq

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// FailureHandler 把处理失败的消息连同原始位置信息写入死信主题。
type FailureHandler struct {
	writer Writer
}

// NewFailureHandler 的 writer 应指向 <topic>.DLT。
func NewFailureHandler(writer Writer) *FailureHandler {
	return &FailureHandler{writer: writer}
}

// Handle 写入死信消息。返回错误时原消息不能提交。
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) error {
	headers := make([]kafka.Header, 0, len(msg.Headers)+5)
	for _, hd := range msg.Headers {
		switch hd.Key {
		case HeaderOriginalTopic, HeaderOriginalPartition, HeaderOriginalOffset, HeaderExceptionFqcn, HeaderExceptionMessage:
			continue
		}
		headers = append(headers, hd)
	}
	headers = append(headers,
		kafka.Header{Key: HeaderOriginalTopic, Value: []byte(msg.Topic)},
		kafka.Header{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: HeaderExceptionFqcn, Value: []byte(errorType(cause))},
		kafka.Header{Key: HeaderExceptionMessage, Value: []byte(errorMessage(cause))},
	)

	err := h.writer.WriteMessages(ctx, kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers})
	return errors.Wrap(err, "write dead letter")
}

func errorType(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%T", errors.Cause(err))
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
