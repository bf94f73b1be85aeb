package app

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Profiler records CPU time per named scope. Last holds the most recent
// duration; Total and Calls accumulate so rebuild and update costs can be
// compared over a run.
type Profiler struct {
	Last       map[string]time.Duration
	Total      map[string]time.Duration
	Calls      map[string]int
	StartTimes map[string]time.Time
	Counts     map[string]int
	Order      []string

	now func() time.Time
}

func NewProfiler() *Profiler {
	return &Profiler{
		Last:       make(map[string]time.Duration),
		Total:      make(map[string]time.Duration),
		Calls:      make(map[string]int),
		StartTimes: make(map[string]time.Time),
		Counts:     make(map[string]int),
		Order:      make([]string, 0),
		now:        time.Now,
	}
}

func (p *Profiler) BeginScope(name string) {
	p.StartTimes[name] = p.now()
	if _, seen := p.Calls[name]; !seen {
		p.Order = append(p.Order, name)
		p.Calls[name] = 0
	}
}

func (p *Profiler) EndScope(name string) {
	start, ok := p.StartTimes[name]
	if !ok {
		return
	}
	d := p.now().Sub(start)
	p.Last[name] = d
	p.Total[name] += d
	p.Calls[name]++
	delete(p.StartTimes, name)
}

// Scope times fn under name.
func (p *Profiler) Scope(name string, fn func() error) error {
	p.BeginScope(name)
	defer p.EndScope(name)
	return fn()
}

// Average is the mean duration of the completed calls of a scope.
func (p *Profiler) Average(name string) time.Duration {
	if p.Calls[name] == 0 {
		return 0
	}
	return p.Total[name] / time.Duration(p.Calls[name])
}

func (p *Profiler) SetCount(name string, count int) {
	p.Counts[name] = count
}

func (p *Profiler) Reset() {
	for k := range p.Last {
		p.Last[k] = 0
	}
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

func (p *Profiler) GetStatsString() string {
	var sb strings.Builder

	sb.WriteString("Timings (CPU):\n")
	for _, name := range p.Order {
		sb.WriteString(fmt.Sprintf("  %-15s: %.2f ms (avg %.2f ms over %d)\n",
			name, ms(p.Last[name]), ms(p.Average(name)), p.Calls[name]))
	}

	sb.WriteString("\nStats:\n")
	keys := make([]string, 0, len(p.Counts))
	for k := range p.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("  %-15s: %d\n", k, p.Counts[k]))
	}

	return sb.String()
}
