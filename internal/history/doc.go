// Package history persists completed try-on results and the favorites flag
// users set on them.
//
// Two backends implement Store: SupabaseStore talks to a hosted
// `tryon_history` table through PostgREST, and SQLiteStore keeps the same
// rows in a local database for offline or single-host deployments. Cache
// layers the in-memory history, favorites and current-result views on top
// of either backend and keeps them consistent with the store after every
// mutation.
package history
