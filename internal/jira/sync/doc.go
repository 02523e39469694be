// Package sync reconciles a remote Jira instance into the local store.
//
// Overview
//
// A sync run pulls users and issues from the remote REST API, upserts them by
// natural key (account id, issue key), records an append-only history row for
// every tracked field that changed, and derives user activity from the new
// history rows.
//
// Architecture
//
//	Remote API (paginated)
//	     ├── users/search        → normalize.User  → reconcile.Users
//	     ├── search (JQL)        → normalize.Issue → reconcile.Issues
//	     │                                              ↓
//	     │                                        history.Diff
//	     └── issue/{key}/changelog → history.FromChangelog
//	                                                    ↓
//	                                             activity.Deriver
//	                                                    ↓
//	                                           Store (db or memstore)
//
// Stages
//
// A run moves forward through schema.Stage:
//
//	idle → fetching_users → reconciling_users → fetching_issues
//	     → reconciling_issues → diffing_history → deriving_activity → complete
//
// Any stage may fail. The failure is returned as a *schema.StageError and the
// writes of earlier stages stay in place; running again converges.
//
// Usage
//
//	store, err := db.Open(".jirasync/jirasync.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	if err := store.InitSchema(); err != nil {
//	    return err
//	}
//
//	syncer := sync.New(store, sync.Options{WalkRetries: 1})
//	res, err := syncer.Sync(ctx, creds)
//
// Error Handling
//
//   - Invalid credentials fail in the idle stage before any request
//   - Records without a natural key are logged, counted and skipped
//   - Transport and decode failures abort the stage that fetched them
//   - Store failures abort the run
package sync
