package window

import (
	"sort"
	"sync"
	"time"

	"healthwatch/internal/clock"
	"healthwatch/internal/domain"
)

// Counts is the aggregate view of one village over one trailing window.
// Params: symptom, contamination-level, and severity occurrence counts.
// Returns: snapshot consumed by the rule evaluator.
type Counts struct {
	Symptoms      map[string]int
	Contamination map[domain.ContaminationLevel]int
	Severity      map[domain.Severity]int
}

// entry is one report contribution in a village timeline.
// Params: report timestamp, id, and the report facets that are counted.
// Returns: one sample for lazy window recomputation.
type entry struct {
	at       time.Time
	reportID string
	symptoms []string
	level    domain.ContaminationLevel
	severity domain.Severity
}

// villageState keeps the bounded, timestamp-ordered report index of one village.
// Params: sorted entries with a head index for cheap eviction.
// Returns: per-village unit of contention.
type villageState struct {
	mu      sync.Mutex
	entries []entry
	head    int
}

// Aggregator maintains per-village rolling counts as of "now".
// Params: clock, retention bound (widest rule window), and village map.
// Returns: windowed count source for rule evaluation.
type Aggregator struct {
	mu        sync.RWMutex
	clock     clock.Clock
	retention time.Duration
	villages  map[string]*villageState
}

// New constructs an aggregator bounded by the widest configured window.
// Params: clock and retention duration; entries older than retention are evicted.
// Returns: initialized aggregator.
func New(clk clock.Clock, retention time.Duration) *Aggregator {
	return &Aggregator{
		clock:     clk,
		retention: retention,
		villages:  make(map[string]*villageState),
	}
}

// Record adds one report to its village timeline.
// Params: validated report; idempotency is enforced upstream by report id.
// Returns: none.
func (a *Aggregator) Record(report domain.Report) {
	state := a.village(report.Village)
	sample := entry{
		at:       report.ReportTime(),
		reportID: report.ID,
		symptoms: append([]string(nil), report.Symptoms...),
		severity: report.Severity,
	}
	if report.WaterTest != nil {
		sample.level = report.WaterTest.ContaminationLevel
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	state.insert(sample)
	state.evict(a.cutoff())
}

// Counts returns current per-facet counts for reports within the window.
// Params: village name and trailing window duration.
// Returns: counts limited to [now-window, now]; empty maps for unknown villages.
func (a *Aggregator) Counts(village string, window time.Duration) Counts {
	counts := Counts{
		Symptoms:      make(map[string]int),
		Contamination: make(map[domain.ContaminationLevel]int),
		Severity:      make(map[domain.Severity]int),
	}

	state := a.lookup(village)
	if state == nil || window <= 0 {
		return counts
	}
	since := a.clock.Now().Add(-window)

	state.mu.Lock()
	defer state.mu.Unlock()
	state.evict(a.cutoff())
	for i := state.search(since); i < len(state.entries); i++ {
		sample := state.entries[i]
		for _, symptom := range sample.symptoms {
			counts.Symptoms[symptom]++
		}
		if sample.level != "" {
			counts.Contamination[sample.level]++
		}
		counts.Severity[sample.severity]++
	}
	return counts
}

// ReportIDs lists ids of reports inside the window that contain the symptom.
// Params: village, trailing window, and symptom name.
// Returns: report ids in timestamp order; empty for unknown villages.
func (a *Aggregator) ReportIDs(village string, window time.Duration, symptom string) []string {
	state := a.lookup(village)
	if state == nil || window <= 0 {
		return nil
	}
	since := a.clock.Now().Add(-window)

	state.mu.Lock()
	defer state.mu.Unlock()
	ids := make([]string, 0)
	for i := state.search(since); i < len(state.entries); i++ {
		sample := state.entries[i]
		for _, candidate := range sample.symptoms {
			if candidate == symptom {
				ids = append(ids, sample.reportID)
				break
			}
		}
	}
	return ids
}

// Compact evicts aged-out entries across all villages and drops empty ones.
// Params: none; cutoff derives from clock and retention.
// Returns: number of villages still tracked.
func (a *Aggregator) Compact() int {
	cutoff := a.cutoff()

	a.mu.Lock()
	defer a.mu.Unlock()
	for name, state := range a.villages {
		state.mu.Lock()
		state.evict(cutoff)
		empty := state.head >= len(state.entries)
		state.mu.Unlock()
		if empty {
			delete(a.villages, name)
		}
	}
	return len(a.villages)
}

// cutoff computes the retention boundary for eviction.
// Params: none.
// Returns: earliest timestamp still retained; zero time disables eviction.
func (a *Aggregator) cutoff() time.Time {
	if a.retention <= 0 {
		return time.Time{}
	}
	return a.clock.Now().Add(-a.retention)
}

// village returns the state for one village, creating it on first use.
// Params: village name.
// Returns: per-village state pointer.
func (a *Aggregator) village(name string) *villageState {
	a.mu.RLock()
	state, ok := a.villages[name]
	a.mu.RUnlock()
	if ok {
		return state
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if state, ok = a.villages[name]; ok {
		return state
	}
	state = &villageState{entries: make([]entry, 0, 64)}
	a.villages[name] = state
	return state
}

// lookup returns the state for one village without creating it.
// Params: village name.
// Returns: state pointer or nil.
func (a *Aggregator) lookup(name string) *villageState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.villages[name]
}

// insert places one sample keeping entries sorted by timestamp.
// Params: new sample; late arrivals land at their timestamp position.
// Returns: none.
func (s *villageState) insert(sample entry) {
	idx := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].at.After(sample.at)
	})
	if idx < s.head {
		idx = s.head
	}
	s.entries = append(s.entries, entry{})
	copy(s.entries[idx+1:], s.entries[idx:])
	s.entries[idx] = sample
}

// evict advances the head past entries older than the cutoff and compacts.
// Params: cutoff timestamp; zero time is a no-op.
// Returns: none.
func (s *villageState) evict(cutoff time.Time) {
	if cutoff.IsZero() {
		return
	}
	for s.head < len(s.entries) {
		if !s.entries[s.head].at.Before(cutoff) {
			break
		}
		s.head++
	}
	if s.head > 0 && s.head*2 >= len(s.entries) {
		s.entries = append([]entry{}, s.entries[s.head:]...)
		s.head = 0
	}
}

// search finds the first retained entry at or after the boundary.
// Params: window start boundary.
// Returns: index into entries, never before head.
func (s *villageState) search(since time.Time) int {
	idx := sort.Search(len(s.entries), func(i int) bool {
		return !s.entries[i].at.Before(since)
	})
	if idx < s.head {
		return s.head
	}
	return idx
}
