package seed

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Event is one row of the sample events table.
type Event struct {
	EventID    int64     `parquet:"event_id"`
	UserID     string    `parquet:"user_id"`
	SessionID  string    `parquet:"session_id"`
	EventType  string    `parquet:"event_type"`
	Amount     float64   `parquet:"amount"`
	Currency   string    `parquet:"currency"`
	Country    string    `parquet:"country"`
	Device     string    `parquet:"device"`
	OccurredAt time.Time `parquet:"occurred_at"`
}

type Generator struct {
	rnd             *rand.Rand
	userCardinality int
	sequence        int64
	start           time.Time
	step            time.Duration
}

// NewGenerator returns a deterministic event source. Event times start at
// start and advance by step per event.
func NewGenerator(seed int64, userCardinality int, start time.Time, step time.Duration) *Generator {
	return &Generator{
		rnd:             rand.New(rand.NewSource(seed)),
		userCardinality: userCardinality,
		start:           start.UTC(),
		step:            step,
	}
}

func (g *Generator) Next() Event {
	occurredAt := g.start.Add(time.Duration(g.sequence) * g.step)
	g.sequence++
	eventType := g.pickEventType()
	return Event{
		EventID:    g.sequence,
		UserID:     fmt.Sprintf("user-%04d", g.rnd.Intn(g.userCardinality)+1),
		SessionID:  fmt.Sprintf("sess-%08x", g.rnd.Uint32()),
		EventType:  eventType,
		Amount:     g.pickAmount(eventType),
		Currency:   "USD",
		Country:    pickOne(g.rnd, []string{"US", "DE", "GB", "IN", "JP", "BR"}),
		Device:     pickOne(g.rnd, []string{"desktop", "mobile", "tablet"}),
		OccurredAt: occurredAt.Truncate(time.Millisecond),
	}
}

func (g *Generator) pickEventType() string {
	p := g.rnd.Intn(100)
	switch {
	case p < 55:
		return "page_view"
	case p < 75:
		return "search"
	case p < 88:
		return "add_to_cart"
	case p < 97:
		return "checkout"
	default:
		return "purchase"
	}
}

func (g *Generator) pickAmount(eventType string) float64 {
	switch eventType {
	case "purchase":
		return round2(20 + g.rnd.Float64()*280)
	case "checkout":
		return round2(15 + g.rnd.Float64()*240)
	case "add_to_cart":
		return round2(5 + g.rnd.Float64()*120)
	default:
		return 0
	}
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
