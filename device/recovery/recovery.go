// Package recovery resubmits segments left in the store by a previous run.
//
// Any row still stored at startup belongs to a message whose notification
// never completed. Single segments and complete multipart groups are handed
// back to the inbound pipeline; partial groups wait for their missing
// segments unless they have been waiting longer than PartialExpiry.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/kabili207/smsinbound/core/sms"
	"github.com/kabili207/smsinbound/device/metrics"
	"github.com/kabili207/smsinbound/device/store"
)

// DefaultPartialExpiry is how long an incomplete multipart message is kept.
const DefaultPartialExpiry = 7 * 24 * time.Hour

// Pipeline receives recovered segments. inbound.Handler satisfies it.
type Pipeline interface {
	Resubmit(p sms.Persisted) bool
	SegmentsReady()
}

// Config configures a Sweeper.
type Config struct {
	Store    store.SegmentStore
	Pipeline Pipeline

	// PartialExpiry is the age after which incomplete multipart messages
	// are deleted. Default: 7 days.
	PartialExpiry time.Duration

	// Metrics records recovered rows. May be nil.
	Metrics *metrics.Metrics

	// Logger for sweep events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Result summarises one sweep.
type Result struct {
	Resubmitted int // messages handed back to the pipeline
	Partial     int // incomplete messages kept
	Expired     int // incomplete messages deleted
}

// Sweeper scans the segment store at startup.
type Sweeper struct {
	cfg Config
	log *slog.Logger

	// nowFn allows overriding time.Now() for testing.
	nowFn func() time.Time
}

// New creates a Sweeper.
func New(cfg Config) *Sweeper {
	if cfg.PartialExpiry <= 0 {
		cfg.PartialExpiry = DefaultPartialExpiry
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		cfg:   cfg,
		log:   logger.WithGroup("recovery"),
		nowFn: time.Now,
	}
}

type groupKey struct {
	address string
	ref     int
	count   int
}

type group struct {
	first  *sms.Row
	seqs   map[int]bool
	oldest int64
}

// Run scans the store, resubmits what can be delivered, deletes expired
// partial messages and then signals SegmentsReady. SegmentsReady is
// signalled even when the scan fails, so that new segments are not held
// back indefinitely.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	defer s.cfg.Pipeline.SegmentsReady()

	var res Result
	rows, err := s.cfg.Store.All(ctx)
	if err != nil {
		s.log.Error("cannot scan segment store", "error", err)
		return res, err
	}

	groups := make(map[groupKey]*group)
	var order []groupKey
	for _, r := range rows {
		t := sms.TrackerFromRow(r)
		if !t.IsMultipart() {
			if s.cfg.Pipeline.Resubmit(sms.Persist(t, r.ID)) {
				res.Resubmitted++
				s.count("resubmitted", 1)
			}
			continue
		}
		k := groupKey{address: r.Address, ref: r.ReferenceNumber, count: r.Count}
		g, ok := groups[k]
		if !ok {
			g = &group{first: r, seqs: make(map[int]bool), oldest: r.Date}
			groups[k] = g
			order = append(order, k)
		}
		g.seqs[r.Sequence] = true
		if r.Date < g.oldest {
			g.oldest = r.Date
		}
	}

	cutoff := s.nowFn().Add(-s.cfg.PartialExpiry).UnixMilli()
	for _, k := range order {
		g := groups[k]
		t := sms.TrackerFromRow(g.first)
		if len(g.seqs) >= k.count {
			if s.cfg.Pipeline.Resubmit(sms.Persist(t, g.first.ID)) {
				res.Resubmitted++
				s.count("resubmitted", len(g.seqs))
			}
			continue
		}
		if g.oldest >= cutoff {
			res.Partial++
			continue
		}
		n, err := s.cfg.Store.Delete(ctx, t.MessageSelector())
		if err != nil {
			s.log.Error("cannot delete expired segments", "ref", k.ref, "error", err)
			continue
		}
		res.Expired++
		s.count("expired", n)
		s.log.Info("deleted expired partial message", "ref", k.ref, "segments", n, "count", k.count)
	}

	s.log.Info("recovery sweep complete", "rows", len(rows), "resubmitted", res.Resubmitted,
		"partial", res.Partial, "expired", res.Expired)
	return res, nil
}

func (s *Sweeper) count(disposition string, n int) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecoveredRows.WithLabelValues(disposition).Add(float64(n))
	}
}
