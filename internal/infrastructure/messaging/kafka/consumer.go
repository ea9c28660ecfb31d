package kafka

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

var ErrAlreadyRunning = apperrors.New(apperrors.ErrCodeConflict, "consumer already running")

// RetryConfig controls handler retries and dead-lettering.
type RetryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
	DeadLetterTopic string        `mapstructure:"dead_letter_topic"`
}

// ConsumerConfig configures a consumer group reader.
type ConsumerConfig struct {
	Brokers         []string       `mapstructure:"brokers"`
	GroupID         string         `mapstructure:"group_id"`
	Topics          []string       `mapstructure:"topics"`
	AutoOffsetReset string         `mapstructure:"auto_offset_reset"` // earliest, latest
	SessionTimeout  time.Duration  `mapstructure:"session_timeout"`
	MaxWait         time.Duration  `mapstructure:"max_wait"`
	FetchMaxBytes   int            `mapstructure:"fetch_max_bytes"`
	Security        SecurityConfig `mapstructure:"security"`
	Retry           RetryConfig    `mapstructure:"retry"`
}

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher is what the consumer needs to dead-letter a record.
type Publisher interface {
	Publish(ctx context.Context, msg *ProducerMessage) error
}

// Consumer dispatches records to per-topic handlers. Offsets are committed
// after a record is handled, dead-lettered or dropped.
type Consumer struct {
	reader     ReaderInterface
	config     ConsumerConfig
	logger     logging.Logger
	deadLetter Publisher

	handlers map[string]MessageHandler
	mu       sync.RWMutex

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	processed    atomic.Int64
	failed       atomic.Int64
	deadLettered atomic.Int64
}

// NewConsumer builds a consumer over a kafka.Reader.
func NewConsumer(cfg ConsumerConfig, deadLetter Publisher, logger logging.Logger) (*Consumer, error) {
	if err := ValidateConsumerConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = 30 * time.Second
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = time.Second
	}
	if cfg.FetchMaxBytes == 0 {
		cfg.FetchMaxBytes = 10 << 20
	}

	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	tlsCfg, err := cfg.Security.tlsConfig()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeMessaging, "kafka tls")
	}
	dialer.TLS = tlsCfg
	mech, err := cfg.Security.mechanism()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeMessaging, "failed to create SASL mechanism")
	}
	dialer.SASLMechanism = mech

	readerCfg := kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		GroupTopics:    cfg.Topics,
		MaxBytes:       cfg.FetchMaxBytes,
		MaxWait:        cfg.MaxWait,
		SessionTimeout: cfg.SessionTimeout,
		StartOffset:    kafka.FirstOffset,
		Dialer:         dialer,
	}
	if cfg.AutoOffsetReset == "latest" {
		readerCfg.StartOffset = kafka.LastOffset
	}
	return NewConsumerWithReader(kafka.NewReader(readerCfg), cfg, deadLetter, logger), nil
}

// NewConsumerWithReader wraps an existing reader.
func NewConsumerWithReader(r ReaderInterface, cfg ConsumerConfig, deadLetter Publisher, logger logging.Logger) *Consumer {
	if cfg.Retry.RetryBackoff == 0 {
		cfg.Retry.RetryBackoff = time.Second
	}
	if cfg.Retry.MaxRetryBackoff == 0 {
		cfg.Retry.MaxRetryBackoff = 30 * time.Second
	}
	return &Consumer{
		reader:     r,
		config:     cfg,
		logger:     logging.OrNop(logger).Named("kafka-consumer"),
		deadLetter: deadLetter,
		handlers:   make(map[string]MessageHandler),
	}
}

// Subscribe registers handler for topic.
func (c *Consumer) Subscribe(topic string, handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler
	c.logger.Info("subscribed to topic", logging.String("topic", topic))
}

// Start runs the fetch loop until ctx is done or Close is called.
func (c *Consumer) Start(ctx context.Context) error {
	if c.running.Swap(true) {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.consumeLoop(ctx)
	c.logger.Info("kafka consumer started", logging.String("group", c.config.GroupID))
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()
	for ctx.Err() == nil {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("fetch failed", logging.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		msg := &Message{
			Topic: m.Topic, Partition: m.Partition, Offset: m.Offset,
			Key: m.Key, Value: m.Value, Timestamp: m.Time,
			Headers: make(map[string]string, len(m.Headers)),
		}
		for _, h := range m.Headers {
			msg.Headers[h.Key] = string(h.Value)
		}

		c.mu.RLock()
		handler, ok := c.handlers[m.Topic]
		c.mu.RUnlock()
		if !ok {
			c.logger.Warn("no handler for topic", logging.String("topic", m.Topic))
		} else if c.process(ctx, msg, handler) {
			c.processed.Add(1)
		} else {
			c.failed.Add(1)
		}
		if ctx.Err() != nil {
			// Left uncommitted so the record is redelivered.
			return
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			c.logger.Error("commit failed", logging.Err(err))
		}
	}
}

// process runs handler with exponential backoff retries. It reports whether
// the handler eventually succeeded.
func (c *Consumer) process(ctx context.Context, msg *Message, handler MessageHandler) bool {
	err := handler(ctx, msg)
	backoff := c.config.Retry.RetryBackoff
	for i := 0; err != nil && i < c.config.Retry.MaxRetries; i++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		err = handler(ctx, msg)
		backoff *= 2
		if backoff > c.config.Retry.MaxRetryBackoff {
			backoff = c.config.Retry.MaxRetryBackoff
		}
	}
	if err == nil {
		return true
	}

	c.logger.Error("message processing failed after retries",
		logging.String("topic", msg.Topic),
		logging.Int64("offset", msg.Offset),
		logging.Err(err))
	if c.deadLetter == nil || c.config.Retry.DeadLetterTopic == "" {
		return false
	}
	headers := make(map[string]string, len(msg.Headers)+2)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["original_topic"] = msg.Topic
	headers["error_message"] = err.Error()
	dl := &ProducerMessage{Topic: c.config.Retry.DeadLetterTopic, Key: msg.Key, Value: msg.Value, Headers: headers}
	if dlErr := c.deadLetter.Publish(ctx, dl); dlErr != nil {
		c.logger.Error("failed to dead-letter message", logging.Err(dlErr))
		return false
	}
	c.deadLettered.Add(1)
	return false
}

// Stats returns processed, failed and dead-lettered counts.
func (c *Consumer) Stats() (processed, failed, deadLettered int64) {
	return c.processed.Load(), c.failed.Load(), c.deadLettered.Load()
}

// Close stops the loop and closes the reader.
func (c *Consumer) Close() error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}
	c.cancel()
	c.wg.Wait()
	err := c.reader.Close()
	c.logger.Info("kafka consumer closed", logging.Int64("processed", c.processed.Load()))
	return err
}

func ValidateConsumerConfig(cfg ConsumerConfig) error {
	switch {
	case len(cfg.Brokers) == 0:
		return apperrors.New(apperrors.ErrCodeValidation, "brokers required")
	case cfg.GroupID == "":
		return apperrors.New(apperrors.ErrCodeValidation, "group_id required")
	case cfg.AutoOffsetReset != "" && cfg.AutoOffsetReset != "earliest" && cfg.AutoOffsetReset != "latest":
		return apperrors.New(apperrors.ErrCodeValidation, "invalid auto_offset_reset")
	case cfg.Retry.MaxRetries < 0:
		return apperrors.New(apperrors.ErrCodeValidation, "max_retries must be >= 0")
	}
	if err := cfg.Security.validate(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid kafka security")
	}
	return nil
}

//Personal.AI order the ending
