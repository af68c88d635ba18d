// Package engine provides the tick clock that drives the farm, the season
// calendar, and the loop that advances ticks on a wall-clock interval.
package engine

import (
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"
)

// Clock reports the current tick. The farm reads time only through a Clock.
type Clock interface {
	Now() uint64
}

// Engine advances the tick counter. Each tick is one "block" of farm time.
type Engine struct {
	tick    atomic.Uint64 // current tick (monotonic, never resets)
	running atomic.Bool
	speed   atomic.Uint64 // float64 bits; 1.0 = real-time, 0 = paused

	Interval     time.Duration // base tick interval
	SeasonLength uint64        // ticks per season
	SaveEvery    uint64        // ticks between OnSave calls, 0 disables

	// Callbacks, populated during setup.
	OnTick   func(tick uint64) // every tick
	OnSeason func(tick uint64) // first tick of every season
	OnSave   func(tick uint64) // every SaveEvery ticks
}

// NewEngine creates an engine starting at tick start.
func NewEngine(start, seasonLength uint64) *Engine {
	e := &Engine{
		Interval:     time.Second,
		SeasonLength: seasonLength,
	}
	e.tick.Store(start)
	e.SetSpeed(1.0)
	return e
}

// Speed returns the tick rate multiplier.
func (e *Engine) Speed() float64 {
	return math.Float64frombits(e.speed.Load())
}

// SetSpeed changes the tick rate multiplier. Zero pauses the loop.
func (e *Engine) SetSpeed(v float64) {
	e.speed.Store(math.Float64bits(v))
}

// Now returns the current tick.
func (e *Engine) Now() uint64 {
	return e.tick.Load()
}

// Running reports whether Run is looping.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Run starts the tick loop. Blocks until Stop() is called.
func (e *Engine) Run() {
	e.running.Store(true)
	slog.Info("farm engine started", "tick", e.Now(), "speed", e.Speed(), "interval", e.Interval)

	for e.running.Load() {
		speed := e.Speed()
		if speed <= 0 {
			// Paused.
			time.Sleep(100 * time.Millisecond)
			continue
		}

		start := time.Now()

		e.Step()

		elapsed := time.Since(start)
		target := time.Duration(float64(e.Interval) / speed)
		if elapsed < target {
			time.Sleep(target - elapsed)
		}
	}

	slog.Info("farm engine stopped", "tick", e.Now())
}

// Stop halts the tick loop after the current step.
func (e *Engine) Stop() {
	e.running.Store(false)
}

// Step advances the engine by one tick and fires the due callbacks.
func (e *Engine) Step() uint64 {
	tick := e.tick.Add(1)

	if e.OnTick != nil {
		e.OnTick(tick)
	}

	if e.SeasonLength > 0 && tick%e.SeasonLength == 0 {
		slog.Info("season changed", "tick", tick, "season", SeasonName(SeasonIndex(tick, e.SeasonLength)))
		if e.OnSeason != nil {
			e.OnSeason(tick)
		}
	}

	if e.SaveEvery > 0 && tick%e.SaveEvery == 0 && e.OnSave != nil {
		e.OnSave(tick)
	}
	return tick
}

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	tick atomic.Uint64
}

// NewManualClock creates a clock at tick start.
func NewManualClock(start uint64) *ManualClock {
	c := &ManualClock{}
	c.tick.Store(start)
	return c
}

// Now returns the current tick.
func (c *ManualClock) Now() uint64 { return c.tick.Load() }

// Set moves the clock to tick.
func (c *ManualClock) Set(tick uint64) { c.tick.Store(tick) }

// Advance moves the clock forward by n ticks and returns the new tick.
func (c *ManualClock) Advance(n uint64) uint64 { return c.tick.Add(n) }

// FarmTime returns a human-readable time string for a tick.
func FarmTime(tick, seasonLength uint64) string {
	if seasonLength == 0 {
		return fmt.Sprintf("tick %d", tick)
	}
	seasons := tick / seasonLength
	season := uint8(seasons % 4)
	year := seasons/4 + 1
	return fmt.Sprintf("%s Year %d, tick %d of %d",
		SeasonName(season), year, tick%seasonLength+1, seasonLength)
}
