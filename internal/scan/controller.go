// Package scan drives live identity card scanning: a periodic cycle that
// acquires a frame, checks for a card, runs OCR on the cropped region and
// stops once a complete record is found.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/idscan/internal/extract"
	"github.com/MeKo-Tech/idscan/internal/frame"
	"github.com/MeKo-Tech/idscan/internal/ocr"
)

var (
	// ErrNotIdle is returned by Start when a session is already running or
	// has ended without a reset.
	ErrNotIdle = errors.New("scan: session is not idle")
	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("scan: controller stopped")
)

// Messages are the guidance strings shown to the user.
type Messages struct {
	Place     string `mapstructure:"place" yaml:"place" json:"place"`
	Align     string `mapstructure:"align" yaml:"align" json:"align"`
	Reading   string `mapstructure:"reading" yaml:"reading" json:"reading"`
	Searching string `mapstructure:"searching" yaml:"searching" json:"searching"`
	Retrying  string `mapstructure:"retrying" yaml:"retrying" json:"retrying"`
	Matched   string `mapstructure:"matched" yaml:"matched" json:"matched"`
	Failed    string `mapstructure:"failed" yaml:"failed" json:"failed"`
}

// DefaultMessages returns the English guidance strings.
func DefaultMessages() Messages {
	return Messages{
		Place:     "Place your ID inside the frame",
		Align:     "Align card inside the frame",
		Reading:   "Reading card...",
		Searching: "Searching for ID...",
		Retrying:  "Scan failed, retrying...",
		Matched:   "Scan complete",
		Failed:    "Camera unavailable",
	}
}

func (m Messages) withDefaults() Messages {
	d := DefaultMessages()
	for _, p := range []struct{ v, def *string }{
		{&m.Place, &d.Place}, {&m.Align, &d.Align}, {&m.Reading, &d.Reading},
		{&m.Searching, &d.Searching}, {&m.Retrying, &d.Retrying},
		{&m.Matched, &d.Matched}, {&m.Failed, &d.Failed},
	} {
		if *p.v == "" {
			*p.v = *p.def
		}
	}
	return m
}

// Config tunes the live controller.
type Config struct {
	Cadence          time.Duration
	Whitelist        string
	RecognizeTimeout time.Duration
	Messages         Messages
}

// DefaultConfig returns a 1.5s cadence with the card whitelist.
func DefaultConfig() Config {
	return Config{
		Cadence:          1500 * time.Millisecond,
		Whitelist:        ocr.DefaultWhitelist,
		RecognizeTimeout: 10 * time.Second,
		Messages:         DefaultMessages(),
	}
}

// Snapshot is a consistent view of the session.
type Snapshot struct {
	State        State           `json:"state"`
	Guidance     string          `json:"guidance"`
	OverlayReady bool            `json:"overlay_ready"`
	Record       *extract.Record `json:"record,omitempty"`
	Err          string          `json:"error,omitempty"`
	Cycles       int64           `json:"cycles"`
	Dropped      int64           `json:"dropped_ticks"`
}

// Controller owns one scan session. All methods are safe for concurrent use.
type Controller struct {
	cfg    Config
	comp   Components
	source frame.Source
	logger *slog.Logger
	notify *notifier

	mu         sync.Mutex
	state      State
	guidance   string
	overlay    bool
	record     *extract.Record
	lastErr    error
	engine     ocr.Engine
	generation uint64
	cancel     context.CancelFunc
	stopped    bool

	inFlight atomic.Bool
	cycles   atomic.Int64
	dropped  atomic.Int64
	wg       sync.WaitGroup
}

// NewController creates an idle controller reading from src.
func NewController(cfg Config, src frame.Source, comp Components, l Listener) (*Controller, error) {
	if src == nil {
		return nil, errors.New("scan: nil frame source")
	}
	comp, err := comp.withDefaults()
	if err != nil {
		return nil, err
	}
	def := DefaultConfig()
	if cfg.Cadence <= 0 {
		cfg.Cadence = def.Cadence
	}
	if cfg.Whitelist == "" {
		cfg.Whitelist = def.Whitelist
	}
	cfg.Messages = cfg.Messages.withDefaults()

	return &Controller{
		cfg:      cfg,
		comp:     comp,
		source:   src,
		logger:   comp.Logger,
		notify:   newNotifier(l),
		state:    StateIdle,
		guidance: cfg.Messages.Place,
	}, nil
}

// Start creates the OCR engine, opens the source and begins the cycle loop. It runs in the
// background until a terminal state, Reset, Stop or ctx cancellation.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrNotIdle
	}
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	// The engine comes first so a factory error leaves the source untouched.
	eng, err := c.comp.Engines()
	if err != nil {
		return fmt.Errorf("create OCR engine: %w", err)
	}
	if o, ok := c.source.(frame.Opener); ok {
		if err := o.Open(ctx); err != nil {
			c.release(eng)
			c.fail(gen, err)
			return err
		}
	}

	c.mu.Lock()
	if gen != c.generation || c.state != StateIdle {
		c.mu.Unlock()
		c.release(eng)
		return ErrNotIdle
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.engine = eng
	c.cancel = cancel
	c.lastErr = nil
	c.setOverlayLocked(true)
	c.guidance = c.cfg.Messages.Place
	msg := c.guidance
	c.notify.push(func(l Listener) { l.OnGuidance(msg) })
	c.applyLocked(evSourceReady)
	c.wg.Add(1)
	c.mu.Unlock()

	activeSessions.Inc()
	c.logger.Info("Scan session started", "cadence", c.cfg.Cadence)
	go c.loop(loopCtx, gen)
	return nil
}

func (c *Controller) loop(ctx context.Context, gen uint64) {
	defer c.wg.Done()
	defer activeSessions.Dec()
	t := time.NewTicker(c.cfg.Cadence)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !c.tick(ctx, gen) && c.ended(gen) {
				return
			}
		}
	}
}

// ended reports whether the session of gen can no longer run cycles.
func (c *Controller) ended(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen != c.generation || c.state.Terminal() || c.state == StateIdle
}

// Tick starts one cycle now unless one is already in flight. It reports
// whether a cycle was started. The loop calls it on every cadence tick.
func (c *Controller) Tick(ctx context.Context) bool {
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()
	return c.tick(ctx, gen)
}

func (c *Controller) tick(ctx context.Context, gen uint64) bool {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return false
	}
	switch c.state {
	case StateScanning:
		c.mu.Unlock()
		c.dropTick()
		return false
	case StateAwaitingAlignment:
	default:
		c.mu.Unlock()
		return false
	}
	// A cycle from a previous generation may still be running.
	if !c.inFlight.CompareAndSwap(false, true) {
		c.mu.Unlock()
		c.dropTick()
		return false
	}
	eng := c.engine
	c.applyLocked(evTick)
	c.wg.Add(1)
	c.mu.Unlock()

	go c.cycle(ctx, gen, eng)
	return true
}

func (c *Controller) dropTick() {
	c.dropped.Add(1)
	ticksDropped.Inc()
	c.logger.Debug("Dropped tick, cycle still in flight")
}

// cycle runs one pass and applies its outcome. The in-flight flag is
// cleared before the outcome is applied so the next tick can start a cycle
// as soon as the state allows it.
func (c *Controller) cycle(ctx context.Context, gen uint64, eng ocr.Engine) {
	defer c.wg.Done()
	c.cycles.Add(1)

	ev, rec, err := c.run(ctx, gen, eng)
	c.inFlight.Store(false)
	if ev == evSourceFailed {
		c.fail(gen, err)
		return
	}
	c.finish(gen, ev, rec, err)
}

// run performs acquisition, presence, preprocessing, OCR and extraction.
func (c *Controller) run(ctx context.Context, gen uint64, eng ocr.Engine) (event, *extract.Record, error) {
	f, err := c.source.Acquire(ctx)
	if err != nil {
		if errors.Is(err, frame.ErrAcquisition) {
			return evSourceFailed, nil, err
		}
		return evAbsent, nil, err
	}

	rect, err := c.comp.Preprocessor.SelectRect(f)
	if err != nil {
		return evBadGeometry, nil, err
	}
	stats := c.comp.Detector.Analyze(f.Image, rect)
	outlierRatio.Observe(stats.Ratio())
	if !c.comp.Detector.Present(stats) {
		c.logger.Debug("No card in frame", "outliers", stats.Outliers, "sampled", stats.Sampled)
		return evAbsent, nil, nil
	}

	c.mu.Lock()
	if gen == c.generation {
		c.setGuidanceLocked(c.cfg.Messages.Reading)
	}
	c.mu.Unlock()

	img, err := c.comp.Preprocessor.Process(f, rect)
	if err != nil {
		return evBadGeometry, nil, err
	}
	res, err := recognize(ctx, eng, &img, c.cfg.Whitelist, c.cfg.RecognizeTimeout)
	if err != nil {
		return evRecognitionFailed, nil, err
	}
	rec := c.comp.Extractor.Extract(res.Text)
	if !rec.Terminal() {
		c.logger.Debug("Text recognized without a complete record",
			"missing", rec.Missing(), "duration", res.Duration)
		return evNoMatch, nil, nil
	}
	return evMatch, &rec, nil
}

// finish applies the cycle outcome if gen is still current.
func (c *Controller) finish(gen uint64, ev event, rec *extract.Record, cause error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		cyclesTotal.WithLabelValues("discarded").Inc()
		c.logger.Debug("Discarded stale cycle result", "event", ev.String())
		return
	}
	if !c.canApplyLocked(ev) {
		c.mu.Unlock()
		return
	}
	cyclesTotal.WithLabelValues(ev.String()).Inc()

	var eng ocr.Engine
	switch ev {
	case evAbsent:
		c.setGuidanceLocked(c.cfg.Messages.Align)
	case evNoMatch:
		c.setGuidanceLocked(c.cfg.Messages.Searching)
	case evRecognitionFailed, evBadGeometry:
		c.lastErr = cause
		c.setGuidanceLocked(c.cfg.Messages.Retrying)
	case evMatch:
		c.record = rec
		eng = c.endLocked()
		c.setGuidanceLocked(c.cfg.Messages.Matched)
		r := *rec
		c.notify.push(func(l Listener) { l.OnExtracted(r) })
		recordsExtracted.WithLabelValues(string(rec.IDFormat)).Inc()
	}
	c.applyLocked(ev)
	c.mu.Unlock()

	if cause != nil && ev != evAbsent {
		c.logger.Warn("Scan cycle failed", "event", ev.String(), "error", cause)
	}
	if ev == evMatch {
		c.logger.Info("Card matched", "id_format", string(rec.IDFormat))
	}
	c.release(eng)
}

// fail moves the session to failed after a source error.
func (c *Controller) fail(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	if !c.canApplyLocked(evSourceFailed) {
		c.mu.Unlock()
		return
	}
	cyclesTotal.WithLabelValues(evSourceFailed.String()).Inc()
	c.lastErr = cause
	eng := c.endLocked()
	c.setOverlayLocked(false)
	c.setGuidanceLocked(c.cfg.Messages.Failed)
	c.applyLocked(evSourceFailed)
	c.mu.Unlock()

	c.logger.Error("Frame source failed", "error", cause)
	c.release(eng)
}

// endLocked stops the loop and detaches the engine for release.
func (c *Controller) endLocked() ocr.Engine {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	eng := c.engine
	c.engine = nil
	return eng
}

func (c *Controller) release(eng ocr.Engine) {
	if eng == nil {
		return
	}
	if err := eng.Close(); err != nil {
		c.logger.Warn("Failed to release OCR engine", "error", err)
	}
}

// Reset stops any running session and returns to idle. Results of cycles
// still in flight are discarded.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.generation++
	eng := c.endLocked()
	c.record = nil
	c.lastErr = nil
	c.setOverlayLocked(false)
	c.setGuidanceLocked(c.cfg.Messages.Place)
	c.applyLocked(evReset)
	c.mu.Unlock()

	c.release(eng)
}

// Retry resets the session and starts it again.
func (c *Controller) Retry(ctx context.Context) error {
	c.Reset()
	return c.Start(ctx)
}

// Stop ends the session, waits for in-flight work, closes the source and
// flushes pending notifications. It must not be called from a Listener.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()

	c.Reset()
	c.wg.Wait()
	err := c.source.Close()
	c.notify.close()
	return err
}

// Snapshot returns the current session view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		State:        c.state,
		Guidance:     c.guidance,
		OverlayReady: c.overlay,
		Cycles:       c.cycles.Load(),
		Dropped:      c.dropped.Load(),
	}
	if c.record != nil {
		r := *c.record
		s.Record = &r
	}
	if c.lastErr != nil {
		s.Err = c.lastErr.Error()
	}
	return s
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// canApplyLocked reports whether ev is accepted in the current state.
func (c *Controller) canApplyLocked(ev event) bool {
	_, ok := transition(c.state, ev)
	return ok
}

// applyLocked moves to the next state and queues OnState. Callers queue
// overlay, guidance and record notifications first so the state change is
// the last thing a listener sees.
func (c *Controller) applyLocked(ev event) {
	next, ok := transition(c.state, ev)
	if !ok {
		c.logger.Debug("Ignored event", "state", c.state.String(), "event", ev.String())
		return
	}
	if next != c.state {
		c.logger.Debug("State changed", "from", c.state.String(), "to", next.String(), "event", ev.String())
		c.state = next
		c.notify.push(func(l Listener) { l.OnState(next) })
	}
}

func (c *Controller) setGuidanceLocked(msg string) {
	if msg == c.guidance {
		return
	}
	c.guidance = msg
	c.notify.push(func(l Listener) { l.OnGuidance(msg) })
}

func (c *Controller) setOverlayLocked(ready bool) {
	if ready == c.overlay {
		return
	}
	c.overlay = ready
	c.notify.push(func(l Listener) { l.OnOverlay(ready) })
}
