package alarm

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"CoinAlarm/internal/domain/models"
	domrepo "CoinAlarm/internal/domain/repository"
)

const DefaultCooldown = 3 * time.Second

// Decision is the outcome of one evaluation.
type Decision int

const (
	DecisionDisabled Decision = iota
	DecisionBelowThreshold
	DecisionSuppressed
	DecisionEmit
)

func (d Decision) String() string {
	switch d {
	case DecisionDisabled:
		return "disabled"
	case DecisionBelowThreshold:
		return "below_threshold"
	case DecisionSuppressed:
		return "suppressed"
	case DecisionEmit:
		return "emit"
	}
	return "unknown"
}

// Result carries the decision and the threshold it was made against.
type Result struct {
	Decision  Decision
	Threshold float64
}

func (r Result) Emit() bool { return r.Decision == DecisionEmit }

// pairState is Idle until an alarm fires, then Cooling until cooldownEnd.
// Returning to Idle happens lazily on the next evaluation.
type pairState struct {
	mu          sync.Mutex
	cooling     bool
	cooldownEnd time.Time
}

// Config seeds an Evaluator. Defaults not named here keep their built-in values.
type Config struct {
	Cooldown          time.Duration
	Defaults          map[models.MarketCapTier]float64
	Custom            []CustomThreshold
	DisabledExchanges []string
}

// Evaluator decides whether a rolling volume observation raises an alarm.
// Threshold reads are lock-free; per-pair cooldown transitions hold only
// that pair's mutex.
type Evaluator struct {
	cooldown time.Duration
	set      atomic.Pointer[thresholdSet]
	writeMu  sync.Mutex
	pairs    sync.Map // models.PairKey -> *pairState
}

// NewEvaluator applies cfg over the built-in tier defaults. A negative
// threshold or an unknown tier in cfg is an error.
func NewEvaluator(cfg Config) (*Evaluator, error) {
	e := &Evaluator{cooldown: cfg.Cooldown}
	if e.cooldown <= 0 {
		e.cooldown = DefaultCooldown
	}
	set := &thresholdSet{
		defaults: DefaultThresholds(),
		custom:   make(map[models.PairKey]float64),
		disabled: make(map[string]bool),
	}
	for tier, v := range cfg.Defaults {
		if !tier.Valid() {
			return nil, fmt.Errorf("default threshold %q: %w", tier, domrepo.ErrUnknownTier)
		}
		if err := validThreshold(v); err != nil {
			return nil, fmt.Errorf("default threshold %s: %w", tier, err)
		}
		set.defaults[tier] = v
	}
	for _, ct := range cfg.Custom {
		if err := validThreshold(ct.Threshold); err != nil {
			return nil, fmt.Errorf("custom threshold %s/%s: %w", ct.ExchangeID, ct.MarketCode, err)
		}
		set.custom[models.NewPairKey(ct.ExchangeID, ct.MarketCode)] = ct.Threshold
	}
	for _, ex := range cfg.DisabledExchanges {
		set.disabled[strings.ToUpper(ex)] = true
	}
	e.set.Store(set)
	return e, nil
}

func (e *Evaluator) Cooldown() time.Duration { return e.cooldown }

// Evaluate runs one observation through the alarm state machine.
func (e *Evaluator) Evaluate(exchangeID, marketCode string, tier models.MarketCapTier, volume float64, now time.Time) Result {
	set := e.set.Load()
	if !set.enabled(exchangeID) {
		return Result{Decision: DecisionDisabled}
	}
	key := models.NewPairKey(exchangeID, marketCode)
	threshold := set.resolve(key, tier)
	if math.IsNaN(volume) || volume < threshold {
		return Result{Decision: DecisionBelowThreshold, Threshold: threshold}
	}

	st := e.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.cooling && now.Before(st.cooldownEnd) {
		return Result{Decision: DecisionSuppressed, Threshold: threshold}
	}
	st.cooling = true
	st.cooldownEnd = now.Add(e.cooldown)
	return Result{Decision: DecisionEmit, Threshold: threshold}
}

func (e *Evaluator) state(key models.PairKey) *pairState {
	if v, ok := e.pairs.Load(key); ok {
		return v.(*pairState)
	}
	v, _ := e.pairs.LoadOrStore(key, &pairState{})
	return v.(*pairState)
}

// Cooling reports whether key is inside its cooldown at now.
func (e *Evaluator) Cooling(key models.PairKey, now time.Time) bool {
	v, ok := e.pairs.Load(key)
	if !ok {
		return false
	}
	st := v.(*pairState)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cooling && now.Before(st.cooldownEnd)
}

func (e *Evaluator) update(fn func(*thresholdSet) error) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	next := e.set.Load().clone()
	if err := fn(next); err != nil {
		return err
	}
	e.set.Store(next)
	return nil
}

// SetCustomThreshold overrides the tier default for one pair. The new
// value applies from the next evaluation.
func (e *Evaluator) SetCustomThreshold(exchangeID, marketCode string, threshold float64) error {
	if err := validThreshold(threshold); err != nil {
		return err
	}
	key := models.NewPairKey(exchangeID, marketCode)
	return e.update(func(s *thresholdSet) error {
		s.custom[key] = threshold
		return nil
	})
}

// RemoveCustomThreshold reports whether an override existed.
func (e *Evaluator) RemoveCustomThreshold(exchangeID, marketCode string) bool {
	key := models.NewPairKey(exchangeID, marketCode)
	if _, ok := e.set.Load().custom[key]; !ok {
		return false
	}
	removed := false
	_ = e.update(func(s *thresholdSet) error {
		_, removed = s.custom[key]
		delete(s.custom, key)
		return nil
	})
	return removed
}

// SetExchangeEnabled mutes or unmutes every pair of an exchange.
// Cooldowns keep running while muted.
func (e *Evaluator) SetExchangeEnabled(exchangeID string, enabled bool) {
	ex := strings.ToUpper(exchangeID)
	_ = e.update(func(s *thresholdSet) error {
		if enabled {
			delete(s.disabled, ex)
		} else {
			s.disabled[ex] = true
		}
		return nil
	})
}

func (e *Evaluator) ExchangeEnabled(exchangeID string) bool {
	return e.set.Load().enabled(exchangeID)
}

// SetDefaultThreshold replaces the threshold for every pair of tier that
// has no override.
func (e *Evaluator) SetDefaultThreshold(tier models.MarketCapTier, threshold float64) error {
	if !tier.Valid() {
		return fmt.Errorf("%w: %q", domrepo.ErrUnknownTier, tier)
	}
	if err := validThreshold(threshold); err != nil {
		return err
	}
	return e.update(func(s *thresholdSet) error {
		s.defaults[tier] = threshold
		return nil
	})
}

// ResolveThreshold returns the override for the pair, else the tier default.
func (e *Evaluator) ResolveThreshold(exchangeID, marketCode string, tier models.MarketCapTier) float64 {
	return e.set.Load().resolve(models.NewPairKey(exchangeID, marketCode), tier)
}

// Thresholds returns a copy of the current threshold configuration.
func (e *Evaluator) Thresholds() View {
	v := e.set.Load().view()
	v.CooldownMillis = e.cooldown.Milliseconds()
	return v
}
