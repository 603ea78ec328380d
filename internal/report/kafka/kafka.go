// Package kafka implements a reporter that publishes session records to a
// Kafka topic, keyed by session so a conversation stays on one partition.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/flowmon/internal/config"
	"firestige.xyz/flowmon/internal/log"
	"firestige.xyz/flowmon/internal/report"
)

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
)

// Config is decoded from the reporter options.
type Config struct {
	Brokers      []string      `mapstructure:"brokers"` // required
	Topic        string        `mapstructure:"topic"`   // required
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	Compression  string        `mapstructure:"compression"` // none|gzip|snappy|lz4|zstd
	MaxAttempts  int           `mapstructure:"max_attempts"`
	Encoding     string        `mapstructure:"encoding"` // json (default) or proto
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = defaultBatchTimeout
	}
	if c.Compression == "" {
		c.Compression = defaultCompression
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.Encoding == "" {
		c.Encoding = string(report.EncodingJSON)
	}
}

func (c *Config) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("brokers is required")
	}
	if c.Topic == "" {
		return errors.New("topic is required")
	}
	if !report.Encoding(c.Encoding).Valid() {
		return fmt.Errorf("invalid encoding: %s", c.Encoding)
	}
	_, err := compression(c.Compression)
	return err
}

func compression(name string) (compress.Compression, error) {
	switch name {
	case "none":
		return compress.None, nil
	case "gzip":
		return compress.Gzip, nil
	case "snappy":
		return compress.Snappy, nil
	case "lz4":
		return compress.Lz4, nil
	case "zstd":
		return compress.Zstd, nil
	}
	return compress.None, fmt.Errorf("invalid compression type: %s", name)
}

// MessageWriter is the part of *kafka.Writer the reporter uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func init() {
	report.Register(config.ReporterKafka, func(name string, options map[string]any) (report.Reporter, error) {
		var cfg Config
		if err := config.DecodeOptions(options, &cfg); err != nil {
			return nil, err
		}
		return New(name, cfg)
	})
}

// Reporter publishes records with a kafka.Writer.
type Reporter struct {
	name     string
	cfg      Config
	encoding report.Encoding
	writer   MessageWriter

	reported atomic.Uint64
	errors   atomic.Uint64
	log      log.Logger
}

// New validates cfg and creates the writer. No connection is made until
// the first Report.
func New(name string, cfg Config) (*Reporter, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	codec, _ := compression(cfg.Compression)

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		RequiredAcks: kafka.RequireOne,
		Compression:  codec,
	}
	return NewWithWriter(name, cfg, w), nil
}

// NewWithWriter creates a reporter on top of an existing writer. cfg must
// already be valid.
func NewWithWriter(name string, cfg Config, w MessageWriter) *Reporter {
	cfg.applyDefaults()
	r := &Reporter{
		name:     name,
		cfg:      cfg,
		encoding: report.Encoding(cfg.Encoding),
		writer:   w,
		log:      log.Named("report").WithField("reporter", name),
	}
	r.log.WithFields(map[string]interface{}{
		"brokers":     cfg.Brokers,
		"topic":       cfg.Topic,
		"compression": cfg.Compression,
		"encoding":    cfg.Encoding,
	}).Info("kafka reporter started")
	return r
}

func (r *Reporter) Name() string { return r.name }

// Report encodes records and writes them in one call. Records that fail to
// encode are skipped and counted.
func (r *Reporter) Report(ctx context.Context, records []report.Record) error {
	msgs := make([]kafka.Message, 0, len(records))
	var encodeErr error
	for i := range records {
		rec := &records[i]
		value, err := rec.Encode(r.encoding)
		if err != nil {
			r.errors.Add(1)
			encodeErr = fmt.Errorf("encode record failed: %w", err)
			continue
		}
		msg := kafka.Message{Key: []byte(rec.Key()), Value: value, Time: rec.End}
		if rec.Node != "" {
			msg.Headers = []kafka.Header{{Key: "node", Value: []byte(rec.Node)}}
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return encodeErr
	}

	if err := r.writer.WriteMessages(ctx, msgs...); err != nil {
		r.errors.Add(uint64(len(msgs)))
		return fmt.Errorf("kafka write failed: %w", err)
	}
	r.reported.Add(uint64(len(msgs)))
	return encodeErr
}

// Close flushes pending messages and closes the writer.
func (r *Reporter) Close() error {
	err := r.writer.Close()
	r.log.WithFields(map[string]interface{}{
		"total_reported": r.reported.Load(),
		"total_errors":   r.errors.Load(),
	}).Info("kafka reporter stopped")
	return err
}
