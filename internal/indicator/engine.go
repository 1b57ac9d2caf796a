package indicator

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/0xc0d3d00d/marketcore/internal/domain"
	"github.com/0xc0d3d00d/marketcore/internal/metrics"
	"github.com/0xc0d3d00d/marketcore/internal/storage"
)

const historyCapacity = 1000

var (
	ErrEmptyName         = errors.New("empty indicator name")
	ErrAlreadyRegistered = errors.New("indicator already registered")
)

// registration pairs a calculator with its bounded generic history buffer.
type registration struct {
	calc Calculator

	mu      sync.Mutex
	history *sampleRing
	samples int64
}

// Engine is the central registry and fan-out driver. One computation per
// registered calculator runs concurrently; a failing calculator is isolated
// and never affects its siblings.
type Engine struct {
	store *storage.Store[*domain.IndicatorSample]
	met   *metrics.Metrics

	mu   sync.RWMutex
	regs map[string]*registration
}

// New creates an engine. store may be nil; samples are then held in memory
// only.
func New(store *storage.Store[*domain.IndicatorSample], met *metrics.Metrics) *Engine {
	return &Engine{
		store: store,
		met:   met,
		regs:  make(map[string]*registration),
	}
}

// RegisterIndicator adds a calculator under its case-insensitive name and
// runs its Initialize hook. A failed initialization leaves the registry
// exactly as before the call.
func (e *Engine) RegisterIndicator(calc Calculator) error {
	name := calc.Name()
	if name == "" {
		return ErrEmptyName
	}
	key := strings.ToLower(name)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.regs[key]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	if err := calc.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize indicator %s: %w", name, err)
	}
	e.regs[key] = &registration{calc: calc, history: newSampleRing(historyCapacity)}
	slog.Info("indicator registered", "name", name)
	return nil
}

// RemoveIndicator is idempotent and reports whether an entry existed.
func (e *Engine) RemoveIndicator(name string) bool {
	key := strings.ToLower(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.regs[key]; !exists {
		return false
	}
	delete(e.regs, key)
	slog.Info("indicator removed", "name", name)
	return true
}

func (e *Engine) registrations() []*registration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*registration, 0, len(e.regs))
	for _, reg := range e.regs {
		out = append(out, reg)
	}
	return out
}

// CalculateAllIndicators fans one computation per calculator out
// concurrently and returns once every task finished, successfully or not.
// Valid non-empty results land in the calculator's history and, when a store
// is wired, on disk.
func (e *Engine) CalculateAllIndicators(symbol string, book *domain.OrderBookSnapshot, candle *domain.Candle) {
	regs := e.registrations()
	if len(regs) == 0 {
		return
	}

	start := time.Now()
	var wg sync.WaitGroup
	for _, reg := range regs {
		wg.Add(1)
		go func(reg *registration) {
			defer wg.Done()
			e.runIsolated(reg, func() (*domain.IndicatorSample, error) {
				return reg.calc.Calculate(book, candle)
			})
		}(reg)
	}
	wg.Wait()
	if e.met != nil {
		e.met.IndicatorComputeDur.Observe(time.Since(start).Seconds())
	}
	slog.Debug("indicator round complete", "symbol", symbol, "calculators", len(regs), "took", time.Since(start))
}

// ProcessCandleCloseForAllIndicators invokes every calculator's close hook
// with the same fan-out and isolation discipline as CalculateAllIndicators.
func (e *Engine) ProcessCandleCloseForAllIndicators(symbol string, tf domain.Timeframe, candle *domain.Candle) {
	regs := e.registrations()
	if len(regs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, reg := range regs {
		wg.Add(1)
		go func(reg *registration) {
			defer wg.Done()
			e.runIsolated(reg, func() (*domain.IndicatorSample, error) {
				return reg.calc.ProcessCandleClose(symbol, tf, candle)
			})
		}(reg)
	}
	wg.Wait()
}

// runIsolated executes one calculator task behind a catch-log boundary and
// collects its result.
func (e *Engine) runIsolated(reg *registration, task func() (*domain.IndicatorSample, error)) {
	name := reg.calc.Name()
	defer func() {
		if r := recover(); r != nil {
			if e.met != nil {
				e.met.IndicatorErrorsTotal.WithLabelValues(name).Inc()
			}
			slog.Error("indicator panicked", "name", name, "panic", r)
		}
	}()

	sample, err := task()
	if err != nil {
		if e.met != nil {
			e.met.IndicatorErrorsTotal.WithLabelValues(name).Inc()
		}
		slog.Error("indicator failed", "name", name, "error", err)
		return
	}
	if sample == nil {
		return
	}
	if !sample.IsValid() {
		slog.Warn("indicator produced invalid sample", "name", name, "symbol", sample.Symbol)
		return
	}

	reg.mu.Lock()
	reg.history.push(sample)
	reg.samples++
	reg.mu.Unlock()

	if e.met != nil {
		e.met.IndicatorSamplesTotal.WithLabelValues(name).Inc()
	}

	// Snapshot-derived samples carry no timeframe and stay in memory only.
	if e.store != nil && sample.Timeframe != 0 {
		if err := e.store.Save(sample.Symbol, sample.Timeframe, sample); err != nil {
			slog.Error("failed to persist indicator sample", "name", name, "symbol", sample.Symbol, "error", err)
		}
	}
}

// GetIndicatorHistory returns retained samples. With an empty name it merges
// every calculator's history, optionally filtered by symbol. A fully
// qualified query (name, symbol and timeframe set) is routed to the
// calculator's own indexed history when it maintains one, and otherwise
// filters the generic buffer.
func (e *Engine) GetIndicatorHistory(name, symbol string, tf domain.Timeframe) []*domain.IndicatorSample {
	if name == "" {
		return e.mergedHistory(symbol)
	}

	e.mu.RLock()
	reg, ok := e.regs[strings.ToLower(name)]
	e.mu.RUnlock()
	if !ok {
		return nil
	}

	if symbol != "" && tf != 0 {
		if keyed, ok := reg.calc.(KeyedHistorian); ok {
			return keyed.HistoryFor(symbol, tf)
		}
	}

	reg.mu.Lock()
	samples := reg.history.snapshot()
	reg.mu.Unlock()

	out := make([]*domain.IndicatorSample, 0, len(samples))
	for _, s := range samples {
		if symbol != "" && s.Symbol != symbol {
			continue
		}
		if tf != 0 && s.Timeframe != tf {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (e *Engine) mergedHistory(symbol string) []*domain.IndicatorSample {
	var out []*domain.IndicatorSample
	for _, reg := range e.registrations() {
		reg.mu.Lock()
		for _, s := range reg.history.snapshot() {
			if symbol == "" || s.Symbol == symbol {
				out = append(out, s)
			}
		}
		reg.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Healthy reports whether at least one calculator is registered and has
// produced at least one sample.
func (e *Engine) Healthy() bool {
	for _, reg := range e.registrations() {
		reg.mu.Lock()
		samples := reg.samples
		reg.mu.Unlock()
		if samples > 0 {
			return true
		}
	}
	return false
}

type CalculatorDiagnostics struct {
	Name       string         `json:"name"`
	Samples    int64          `json:"samples"`
	HistoryLen int            `json:"history_len"`
	Details    map[string]any `json:"details,omitempty"`
}

type Diagnostics struct {
	Healthy     bool                    `json:"healthy"`
	Calculators []CalculatorDiagnostics `json:"calculators"`
}

func (e *Engine) Diagnostics() Diagnostics {
	diag := Diagnostics{Healthy: e.Healthy()}
	for _, reg := range e.registrations() {
		reg.mu.Lock()
		entry := CalculatorDiagnostics{
			Name:       reg.calc.Name(),
			Samples:    reg.samples,
			HistoryLen: reg.history.len(),
		}
		reg.mu.Unlock()
		entry.Details = reg.calc.Diagnostics()
		diag.Calculators = append(diag.Calculators, entry)
	}
	sort.Slice(diag.Calculators, func(i, j int) bool {
		return diag.Calculators[i].Name < diag.Calculators[j].Name
	})
	return diag
}
