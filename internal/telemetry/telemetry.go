// Package telemetry runs the sampling loop of the dashboard service. It owns
// the metrics sampler and the shadow fan state, records fan events in the
// journal and fans snapshots out to stream subscribers.
package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/pifan/internal/errors"
	"codeberg.org/mutker/pifan/internal/journal"
	"codeberg.org/mutker/pifan/internal/logger"
	"codeberg.org/mutker/pifan/internal/metrics"
	"codeberg.org/mutker/pifan/internal/shadow"
)

type Service struct {
	cfg     Config
	sampler Sampler
	tracker *shadow.Tracker
	journal journal.Journal
	now     func() time.Time

	latest       atomic.Pointer[metrics.Snapshot]
	lastSampleAt atomic.Int64

	subsMu sync.Mutex
	subs   map[chan *Document]struct{}
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithJournal records sync, control and policy events.
func WithJournal(j journal.Journal) Option {
	return func(s *Service) {
		s.journal = j
	}
}

func NewService(cfg Config, sampler Sampler, tracker *shadow.Tracker, opts ...Option) (*Service, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sampler == nil {
		return nil, errFactory.New(ErrMissingSampler)
	}
	if tracker == nil {
		return nil, errFactory.New(ErrMissingTracker)
	}

	s := &Service{
		cfg:     cfg,
		sampler: sampler,
		tracker: tracker,
		now:     time.Now,
		subs:    make(map[chan *Document]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Run samples immediately and then on every tick until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SampleInterval)
	defer ticker.Stop()

	logger.Info().Dur("interval", s.cfg.SampleInterval).Msg("Telemetry sampling started")

	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.closeSubscribers()
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one sampling pass, advances the shadow policy and publishes the
// resulting document.
func (s *Service) Tick(ctx context.Context) *Document {
	now := s.now()

	snap := s.sampler.Sample(ctx, now)
	s.latest.Store(&snap)
	s.lastSampleAt.Store(now.UnixNano())

	state, flipped := s.tracker.Tick(snap.CPU.Temp, snap.TemperatureValid)
	if flipped {
		s.record(ctx, journal.SourcePolicy, actionFor(state.IsRunning), state, snap.CPU.Temp)
	}

	doc := &Document{Snapshot: snap, FanControl: state.View(now)}
	s.broadcast(doc)

	return doc
}

// Document returns the latest snapshot combined with the current shadow
// state. Before the first tick the metrics part is zero.
func (s *Service) Document() *Document {
	doc := &Document{FanControl: s.tracker.Load().View(s.now())}
	if snap := s.latest.Load(); snap != nil {
		doc.Snapshot = *snap
	}

	return doc
}

// FanState returns the current shadow fan state.
func (s *Service) FanState() shadow.View {
	return s.tracker.Load().View(s.now())
}

// SetMode applies an operator mode change.
func (s *Service) SetMode(ctx context.Context, mode string) (shadow.View, error) {
	state, changed, err := s.tracker.SetMode(mode)
	if err != nil {
		return state.View(s.now()), err
	}
	if changed {
		s.record(ctx, journal.SourceControl, "mode", state, state.LastTemperature)
	}

	return state.View(s.now()), nil
}

// SetStatus applies an operator status change.
func (s *Service) SetStatus(ctx context.Context, status string) (shadow.View, error) {
	state, changed, err := s.tracker.SetStatus(status)
	if err != nil {
		return state.View(s.now()), err
	}
	if changed {
		s.record(ctx, journal.SourceControl, "status", state, state.LastTemperature)
	}

	return state.View(s.now()), nil
}

// ApplyControlEvent reconciles with a notification from the controller.
func (s *Service) ApplyControlEvent(ctx context.Context, action string, temperature float64) (shadow.View, error) {
	state, err := s.tracker.ApplyEvent(action, temperature)
	if err != nil {
		return state.View(s.now()), err
	}
	s.record(ctx, journal.SourceSync, action, state, temperature)

	return state.View(s.now()), nil
}

// Events returns recent journal entries, newest first.
func (s *Service) Events(ctx context.Context, limit int) ([]journal.Event, error) {
	if s.journal == nil {
		return []journal.Event{}, nil
	}

	events, err := s.journal.Recent(ctx, limit)
	if err != nil {
		return nil, errors.New().Wrap(ErrJournalAccess, err)
	}

	return events, nil
}

// Subscribe registers for every published document. Slow subscribers only
// see the newest document. The returned func unsubscribes.
func (s *Service) Subscribe() (<-chan *Document, func()) {
	ch := make(chan *Document, defaultSubscriberBuf)

	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
}

// Health reports when the loop last sampled.
func (s *Service) Health() Health {
	h := Health{Status: "ok"}

	if v := s.lastSampleAt.Load(); v > 0 {
		t := time.Unix(0, v).UTC()
		h.LastSampleAt = &t
		if s.now().Sub(t) > 5*s.cfg.SampleInterval {
			h.Status = "stale"
		}
	}

	s.subsMu.Lock()
	h.Subscribers = len(s.subs)
	s.subsMu.Unlock()

	return h
}

func (s *Service) broadcast(doc *Document) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for ch := range s.subs {
		select {
		case ch <- doc:
		default:
			// Replace the stale document with the newest one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- doc:
			default:
			}
		}
	}
}

func (s *Service) closeSubscribers() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for ch := range s.subs {
		close(ch)
		delete(s.subs, ch)
	}
}

func (s *Service) record(ctx context.Context, source journal.Source, action string, state *shadow.State, temperature float64) {
	if s.journal == nil {
		return
	}

	err := s.journal.Record(ctx, journal.Event{
		Timestamp:   s.now(),
		Source:      source,
		Action:      action,
		Mode:        string(state.Mode),
		Status:      string(state.Status),
		Temperature: temperature,
	})
	if err != nil {
		logger.Warn().Err(err).Str("source", string(source)).Msg("Failed to record fan event")
	}
}

func actionFor(running bool) string {
	if running {
		return "start"
	}
	return "stop"
}
