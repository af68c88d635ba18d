package farm

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/talgya/mini-farm/internal/ledger"
	"github.com/talgya/mini-farm/internal/world"
)

// EventKind names what happened.
type EventKind string

const (
	EventPlotWaterUpdate       EventKind = "plot_water_update"
	EventBuyPlot               EventKind = "buy_plot"
	EventBuySeeds              EventKind = "buy_seeds"
	EventPlant                 EventKind = "plant"
	EventHarvest               EventKind = "harvest"
	EventHarvestOvergrown      EventKind = "harvest_overgrown"
	EventHarvestNotEnoughWater EventKind = "harvest_not_enough_water"
	EventConvertToSeed         EventKind = "convert_to_seed"
	EventConvertToDish         EventKind = "convert_to_dish"
)

// Event is a farm notification.
type Event struct {
	ID    string         `json:"id" db:"id"`
	Tick  uint64         `json:"tick" db:"tick"`
	Kind  EventKind      `json:"kind" db:"kind"`
	Plot  world.PlotID   `json:"plot_id" db:"plot_id"`
	Owner ledger.Account `json:"owner,omitempty" db:"owner"`
	Asset ledger.Asset   `json:"asset,omitempty" db:"asset"`
	Qty   uint64         `json:"qty,omitempty" db:"qty"`

	// Water fields, set on plot_water_update and harvest events.
	ChangeRate    uint64 `json:"change_rate" db:"change_rate"`
	Amount        uint64 `json:"amount" db:"amount"`
	WaterAbsorbed uint64 `json:"water_absorbed" db:"water_absorbed"`
}

// EventSink receives every event in emission order. Sinks run on a
// background goroutine, never under the farm lock.
type EventSink interface {
	WriteEvent(Event) error
}

const (
	defaultEventBuffer = 1000
	subscriberBuffer   = 256
)

type eventLog struct {
	mu      sync.Mutex
	recent  []Event
	max     int
	subs    map[int]chan Event
	nextSub int

	sinks   []EventSink
	queue   []Event // waiting for the sinks
	writing bool
	wake    chan struct{}
	idle    *sync.Cond
}

func newEventLog(max int) *eventLog {
	if max <= 0 {
		max = defaultEventBuffer
	}
	l := &eventLog{max: max, subs: make(map[int]chan Event), wake: make(chan struct{}, 1)}
	l.idle = sync.NewCond(&l.mu)
	return l
}

func (l *eventLog) emit(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	l.mu.Lock()
	l.recent = append(l.recent, e)
	// Trim old events to prevent unbounded growth.
	if len(l.recent) > l.max {
		l.recent = append(l.recent[:0:0], l.recent[len(l.recent)-l.max:]...)
	}
	for id, ch := range l.subs {
		select {
		case ch <- e:
		default:
			slog.Warn("event subscriber lagging, dropping event", "sub_id", id, "kind", e.Kind)
		}
	}
	if len(l.sinks) > 0 {
		l.queue = append(l.queue, e)
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
	l.mu.Unlock()
}

// drainSinks hands queued events to the sinks until the process exits.
func (l *eventLog) drainSinks() {
	for range l.wake {
		for {
			l.mu.Lock()
			batch, sinks := l.queue, l.sinks
			l.queue = nil
			if len(batch) == 0 {
				l.writing = false
				l.idle.Broadcast()
				l.mu.Unlock()
				break
			}
			l.writing = true
			l.mu.Unlock()

			for _, e := range batch {
				for _, s := range sinks {
					if err := s.WriteEvent(e); err != nil {
						slog.Warn("event sink write failed", "kind", e.Kind, "error", err)
					}
				}
			}
		}
	}
}

// Events returns up to limit of the most recent events, oldest first.
func (f *Farm) Events(limit int) []Event {
	l := f.events
	l.mu.Lock()
	defer l.mu.Unlock()
	start := 0
	if limit > 0 && len(l.recent) > limit {
		start = len(l.recent) - limit
	}
	out := make([]Event, len(l.recent)-start)
	copy(out, l.recent[start:])
	return out
}

// Subscribe registers a live event feed. Slow subscribers miss events rather
// than block the farm.
func (f *Farm) Subscribe() (int, <-chan Event) {
	l := f.events
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextSub
	l.nextSub++
	ch := make(chan Event, subscriberBuffer)
	l.subs[id] = ch
	return id, ch
}

// Unsubscribe closes and removes a feed.
func (f *Farm) Unsubscribe(id int) {
	l := f.events
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch, ok := l.subs[id]; ok {
		close(ch)
		delete(l.subs, id)
	}
}

// AddSink attaches a sink that sees every later event.
func (f *Farm) AddSink(s EventSink) {
	l := f.events
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.sinks) == 0 {
		go l.drainSinks()
	}
	l.sinks = append(l.sinks, s)
}

// FlushSinks waits until every event emitted so far has reached the sinks.
func (f *Farm) FlushSinks() {
	l := f.events
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.queue) > 0 || l.writing {
		l.idle.Wait()
	}
}

// RestoreEvents puts events recorded before a restart back in front of the
// recent buffer. Sinks and subscribers do not see them again.
func (f *Farm) RestoreEvents(events []Event) {
	l := f.events
	l.mu.Lock()
	defer l.mu.Unlock()
	merged := make([]Event, 0, len(events)+len(l.recent))
	merged = append(merged, events...)
	merged = append(merged, l.recent...)
	if len(merged) > l.max {
		merged = merged[len(merged)-l.max:]
	}
	l.recent = merged
}
