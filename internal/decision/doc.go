// Package decision is the business boundary for Aware's risk coordination.
// It defines the Coordinator (evaluator ordering, halt and skip rules, plan
// merge), the Lifecycle manager (actionability, dedup, incident creation),
// the IncidentStore interface (persistence), and the domain models shared
// with the evaluators.
package decision
