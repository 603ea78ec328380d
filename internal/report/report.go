// Package report exports finished and in-flight sessions to external
// systems. Reporter implementations register a Factory under their
// configuration type, see the console and kafka subpackages.
package report

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"

	"firestige.xyz/flowmon/internal/config"
	"firestige.xyz/flowmon/internal/log"
	"firestige.xyz/flowmon/internal/metrics"
)

// Reporter delivers batches of records. Report may be called from several
// goroutines; Close is called once, after the last Report.
type Reporter interface {
	Name() string
	Report(ctx context.Context, records []Record) error
	Close() error
}

// Factory builds a reporter from its free-form options.
type Factory func(name string, options map[string]any) (Reporter, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a reporter type available to Open. It panics when typ is
// registered twice.
func Register(typ string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[typ]; dup {
		panic("report: duplicate reporter type " + typ)
	}
	factories[typ] = f
}

// Types lists the registered reporter types.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for t := range factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Open builds one reporter per entry of cfgs and joins them. Reporters
// already built are closed when a later one fails.
func Open(cfgs []config.ReporterConfig) (*Multi, error) {
	reporters := make([]Reporter, 0, len(cfgs))
	for _, c := range cfgs {
		mu.RLock()
		f, ok := factories[c.Type]
		mu.RUnlock()

		name := c.Name
		if name == "" {
			name = c.Type
		}
		if !ok {
			err := fmt.Errorf("unknown reporter type %q", c.Type)
			return nil, multierr.Append(err, NewMulti(reporters...).Close())
		}
		r, err := f(name, c.Options)
		if err != nil {
			err = fmt.Errorf("reporter %s: %w", name, err)
			return nil, multierr.Append(err, NewMulti(reporters...).Close())
		}
		reporters = append(reporters, r)
	}
	return NewMulti(reporters...), nil
}

// Multi fans every batch out to a fixed set of reporters.
type Multi struct {
	reporters []Reporter
	log       log.Logger
}

// NewMulti joins reporters.
func NewMulti(reporters ...Reporter) *Multi {
	return &Multi{reporters: reporters, log: log.Named("report")}
}

// Len returns the number of joined reporters.
func (m *Multi) Len() int { return len(m.reporters) }

// Report hands records to every reporter. A failing reporter does not stop
// the others; their errors are combined.
func (m *Multi) Report(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	var errs error
	for _, r := range m.reporters {
		if err := r.Report(ctx, records); err != nil {
			metrics.ReporterErrorsTotal.WithLabelValues(r.Name()).Inc()
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", r.Name(), err))
			continue
		}
		metrics.ReporterRecordsTotal.WithLabelValues(r.Name()).Add(float64(len(records)))
	}
	return errs
}

// Close closes every reporter and returns the combined errors.
func (m *Multi) Close() error {
	var errs error
	for _, r := range m.reporters {
		if err := r.Close(); err != nil {
			m.log.WithError(err).WithField("reporter", r.Name()).Warn("close failed")
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", r.Name(), err))
		}
	}
	return errs
}
