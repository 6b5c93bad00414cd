package runtime

// Scenario names a synthetic loss/latency profile for driving a runtime
// against degraded links in tests and simulations.
type Scenario struct {
	Name            string
	LossRatePercent int
	MaxLatencyMS    int
}

// PracticalBaseline is the reference degraded-network fixture: the loss
// and latency a node should comfortably ride out in the field.
var PracticalBaseline = Scenario{
	Name:            "practical-baseline",
	LossRatePercent: 10,
	MaxLatencyMS:    250,
}

// Drops reports deterministically whether the i-th frame of a run is lost
// under this scenario, so two identical runs lose identical frames.
func (s Scenario) Drops(i int) bool {
	if s.LossRatePercent <= 0 {
		return false
	}
	return (i*31+17)%100 < s.LossRatePercent
}
