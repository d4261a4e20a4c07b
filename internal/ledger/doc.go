// Package ledger provides concurrency-safe budget accounting for agent runs.
//
// Spend is tracked per scope (the budget-accounting key, e.g. a user or
// session) against a hard ceiling. All money moves through the
// reserve/commit/release cycle: a reservation places a hold against the
// scope's remaining balance, a commit converts the hold into spend and
// refunds any overestimate, and a release refunds the hold in full.
//
// Amounts are integer microdollars, so conservation is exact: for every
// scope, consumed + remaining == ceiling at every observable instant, where
// consumed counts committed spend plus outstanding holds.
//
// The ledger emits events when a scope crosses 80% utilization and when a
// reservation is refused, mirroring the warning/exhaustion split used by
// budget consumers.
package ledger
