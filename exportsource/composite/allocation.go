package composite

// SourcePlan is the part of one page a single source is asked for.
type SourcePlan struct {
	Fetch bool
	Skip  int
	Take  int
}

// PlanPage distributes the page budget over the sources in registration order.
//
// Exhausted sources are skipped and consume nothing. Every other source is asked for the whole
// remaining budget starting at its own received offset, and the budget shrinks by what the source
// can still deliver. Once the budget is used up, later sources are not fetched for this page.
func PlanPage(states []SourceState, pageSize int) []SourcePlan {
	plans := make([]SourcePlan, len(states))
	budget := pageSize

	for i, s := range states {
		if s.Exhausted() || budget <= 0 {
			continue
		}

		plans[i] = SourcePlan{
			Fetch: true,
			Skip:  s.ReceivedCount,
			Take:  budget,
		}

		budget -= min(budget, s.Remaining())
	}

	return plans
}
