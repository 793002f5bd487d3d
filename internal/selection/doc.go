// Package selection keeps one execution selected while the execution list
// it belongs to is replaced by fresh snapshots.
//
// Reconcile decides which execution stays selected after a snapshot change.
// Controller owns the current snapshot and selection, feeds every update
// through Reconcile and exposes previous/next/pick navigation together with
// the queries that drive the cancel and delete actions.
//
// Selections are held by execution id only. Positions are never assumed to
// be stable between snapshots.
package selection
