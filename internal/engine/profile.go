package engine

import (
	"alpharius-go/internal/reporter"
	"time"
)

// Profiled stages of a backtest run.
const (
	StageInterdayLoad = "Interday Data Load"
	StageIntradayLoad = "Intraday Data Load"
	StageUniverseLoad = "Stock Universe Load"
	StageContext      = "Context Prepare"
)

// Profile accumulates wall time per stage and per processor. It is not safe for concurrent use.
type Profile struct {
	start      time.Time
	stages     []string
	costs      map[string]time.Duration
	processors []string
	procCosts  map[string]time.Duration
}

func NewProfile() *Profile {
	return &Profile{
		start: time.Now(),
		stages: []string{
			StageInterdayLoad, StageIntradayLoad, StageUniverseLoad, StageContext,
		},
		costs:     make(map[string]time.Duration),
		procCosts: make(map[string]time.Duration),
	}
}

// Track starts timing stage; call the returned func to stop.
func (p *Profile) Track(stage string) func() {
	begin := time.Now()
	return func() {
		p.Add(stage, time.Since(begin))
	}
}

func (p *Profile) Add(stage string, d time.Duration) {
	if _, ok := p.costs[stage]; !ok && !p.known(stage) {
		p.stages = append(p.stages, stage)
	}
	p.costs[stage] += d
}

func (p *Profile) known(stage string) bool {
	for _, s := range p.stages {
		if s == stage {
			return true
		}
	}
	return false
}

func (p *Profile) AddProcessor(name string, d time.Duration) {
	if _, ok := p.procCosts[name]; !ok {
		p.processors = append(p.processors, name)
	}
	p.procCosts[name] += d
}

func (p *Profile) Cost(stage string) time.Duration {
	return p.costs[stage]
}

func (p *Profile) ProcessorCost(name string) time.Duration {
	return p.procCosts[name]
}

// Render formats the profile with the time elapsed since NewProfile as the total.
func (p *Profile) Render() string {
	stages := make([]reporter.Stage, 0, len(p.stages))
	for _, s := range p.stages {
		stages = append(stages, reporter.Stage{Name: s, Cost: p.costs[s]})
	}
	processors := make([]reporter.Stage, 0, len(p.processors))
	for _, name := range p.processors {
		processors = append(processors, reporter.Stage{Name: name, Cost: p.procCosts[name]})
	}
	return reporter.Profile(time.Since(p.start), stages, processors)
}
