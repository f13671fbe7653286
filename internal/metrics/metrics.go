package metrics

type Counter interface {
	Inc()
}

// Metrics carries the counters the runtime increments as it processes
// bars and manages the pair position.
type Metrics struct {
	BarsProcessed   Counter
	TickFailures    Counter
	EntriesOpened   Counter
	ExitsClosed     Counter
	OrdersSubmitted Counter
	OrdersFailed    Counter
	ResidualRepairs Counter
	FundingSkips    Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		BarsProcessed:   n,
		TickFailures:    n,
		EntriesOpened:   n,
		ExitsClosed:     n,
		OrdersSubmitted: n,
		OrdersFailed:    n,
		ResidualRepairs: n,
		FundingSkips:    n,
	}
}
