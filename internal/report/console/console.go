// Package console implements a reporter that prints session records, one
// per line, for debugging and offline replays.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"firestige.xyz/flowmon/internal/config"
	"firestige.xyz/flowmon/internal/log"
	"firestige.xyz/flowmon/internal/report"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config is decoded from the reporter options.
type Config struct {
	Format string `mapstructure:"format"` // text (default) or json
}

func init() {
	report.Register(config.ReporterConsole, func(name string, options map[string]any) (report.Reporter, error) {
		var cfg Config
		if err := config.DecodeOptions(options, &cfg); err != nil {
			return nil, err
		}
		return New(name, cfg, os.Stdout)
	})
}

// Reporter writes records to an io.Writer.
type Reporter struct {
	name   string
	format string

	mu sync.Mutex
	w  *bufio.Writer

	reported atomic.Uint64
	log      log.Logger
}

// New creates a console reporter writing to w.
func New(name string, cfg Config, w io.Writer) (*Reporter, error) {
	switch cfg.Format {
	case "":
		cfg.Format = FormatText
	case FormatText, FormatJSON:
	default:
		return nil, fmt.Errorf("invalid format %q, must be json or text", cfg.Format)
	}
	return &Reporter{
		name:   name,
		format: cfg.Format,
		w:      bufio.NewWriter(w),
		log:    log.Named("report").WithField("reporter", name),
	}, nil
}

func (r *Reporter) Name() string { return r.name }

// Report writes records and flushes the writer.
func (r *Reporter) Report(_ context.Context, records []report.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range records {
		if err := r.write(&records[i]); err != nil {
			return err
		}
	}
	r.reported.Add(uint64(len(records)))
	return r.w.Flush()
}

func (r *Reporter) write(rec *report.Record) error {
	if r.format == FormatJSON {
		data, err := rec.JSON()
		if err != nil {
			return fmt.Errorf("json marshal failed: %w", err)
		}
		data = append(data, '\n')
		_, err = r.w.Write(data)
		return err
	}

	_, err := fmt.Fprintf(r.w, "[%s] %s %s -> %s %s pkts=%d/%d bytes=%d/%d dur=%s",
		rec.Start.Format("15:04:05.000"), rec.Protocol, rec.Client, rec.Server, rec.Reason,
		rec.PacketsTx, rec.PacketsRx, rec.BytesTx, rec.BytesRx, rec.Duration)
	if err != nil {
		return err
	}
	if t := rec.TCP; t != nil {
		fmt.Fprintf(r.w, " state=%s retrans=%d/%d", t.State, t.Client.Retransmits, t.Server.Retransmits)
		if t.ServerRTT > 0 {
			fmt.Fprintf(r.w, " rtt=%s", t.ServerRTT)
		}
	}
	if kind, ok := rec.App["kind"]; ok {
		fmt.Fprintf(r.w, " app=%v", kind)
	}
	return r.w.WriteByte('\n')
}

// Close flushes pending output.
func (r *Reporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log.WithField("total_reported", r.reported.Load()).Info("console reporter stopped")
	return r.w.Flush()
}
