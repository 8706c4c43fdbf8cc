package core

// CategorySpend aggregates one category inside a billing period: cents spent
// plus the effective goal percent that applies there.
type CategorySpend struct {
	CategoryID  int64
	Spent       Money
	GoalPercent int64
}

// PeriodSummary is a compact spending-vs-goals view of one billing period.
type PeriodSummary struct {
	Period     BillingPeriod
	Total      Money
	Categories []CategorySpend
}
