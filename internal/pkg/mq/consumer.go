// internal/pkg/mq/consumer.go
package mq

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"promohub/internal/pkg/logger"
	"promohub/internal/pkg/metrics"
)

// Handler 处理一条消息。返回 nil 后消息才会被提交。
type Handler func(ctx context.Context, msg kafka.Message) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }
func (e *permanentError) Cause() error  { return e.err }

// Permanent 标记一个重试也无法成功的错误（例如消息体无法解析），消息会直接进入死信队列。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent 判断错误是否被标记为不可重试。
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// ConsumerConfig 控制消费失败时的重试策略。
type ConsumerConfig struct {
	Name        string
	Topic       string
	MaxAttempts int           // 单条消息最多处理次数，超过后进入死信队列
	Backoff     time.Duration // 第 n 次重试前等待 n*Backoff
}

// Consumer 是一个驱动适配器：拉取消息 -> 调用 Handler -> 成功后提交 Offset。
// 连续失败 MaxAttempts 次的消息交给 FailureHandler（写入死信主题）后再提交，避免毒消息阻塞分区。
type Consumer struct {
	reader  Reader
	handler Handler
	failure *FailureHandler
	cfg     ConsumerConfig
	tracer  trace.Tracer
}

// NewConsumer 创建消费者。failure 为 nil 时，耗尽重试的消息仅记录日志后跳过。
func NewConsumer(reader Reader, handler Handler, failure *FailureHandler, cfg ConsumerConfig) *Consumer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	return &Consumer{
		reader:  reader,
		handler: handler,
		failure: failure,
		cfg:     cfg,
		tracer:  otel.Tracer("promohub/mq"),
	}
}

// Run 循环消费直到 ctx 被取消，退出时关闭 reader。
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	log := logger.L().With().Str("consumer", c.cfg.Name).Str("topic", c.cfg.Topic).Logger()
	log.Info().Msg("kafka consumer started")

	for {
		// 使用 FetchMessage 而不是 ReadMessage，以便手动控制提交时机
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				log.Info().Msg("kafka consumer shutting down")
				return nil
			}
			log.Error().Err(err).Msg("could not fetch message, retrying")
			if !sleepCtx(ctx, time.Second) {
				return nil
			}
			continue
		}

		if err := c.process(ctx, msg); err != nil {
			// 只有 ctx 取消才会走到这里，未提交的消息会在重启后重新投递
			log.Warn().Err(err).Int64("offset", msg.Offset).Msg("message left uncommitted")
			return nil
		}

		// 已处理完的消息即使在关停过程中也尽量提交
		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		err = c.reader.CommitMessages(commitCtx, msg)
		cancel()
		if err != nil {
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit message")
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// process 带重试地处理一条消息。返回 nil 表示可以提交。
func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		lastErr = c.handleOnce(ctx, msg, attempt)
		if lastErr == nil {
			metrics.MessagesTotal.WithLabelValues(msg.Topic, "ok").Inc()
			return nil
		}
		if IsPermanent(lastErr) || attempt == c.cfg.MaxAttempts {
			break
		}
		logger.Ctx(ctx).Warn().Err(lastErr).
			Str("topic", msg.Topic).Int64("offset", msg.Offset).Int("attempt", attempt).
			Msg("message handling failed, will retry")
		if !sleepCtx(ctx, time.Duration(attempt)*c.cfg.Backoff) {
			return ctx.Err()
		}
	}

	if c.failure == nil {
		metrics.MessagesTotal.WithLabelValues(msg.Topic, "skipped").Inc()
		logger.Ctx(ctx).Error().Err(lastErr).
			Str("topic", msg.Topic).Int64("offset", msg.Offset).
			Msg("message handling exhausted retries, skipping")
		return nil
	}

	// 死信写入失败时不能提交，持续重试直到成功或退出
	for {
		err := c.failure.Handle(ctx, msg, lastErr)
		if err == nil {
			metrics.MessagesTotal.WithLabelValues(msg.Topic, "dead_lettered").Inc()
			return nil
		}
		logger.Ctx(ctx).Error().Err(err).Str("topic", msg.Topic).Int64("offset", msg.Offset).Msg("failed to publish dead letter")
		if !sleepCtx(ctx, c.cfg.Backoff) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) handleOnce(parentCtx context.Context, msg kafka.Message, attempt int) error {
	ctx := ExtractTraceContext(parentCtx, msg.Headers)
	ctx, span := c.tracer.Start(ctx, c.cfg.Name+".process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.message.offset", msg.Offset),
			attribute.String("messaging.kafka.message.key", string(msg.Key)),
			attribute.Int("messaging.attempt", attempt),
		),
	)
	defer span.End()

	if err := c.handler(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
