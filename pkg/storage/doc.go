// Package storage persists harvested articles and subscribed feeds in SQLite.
//
// Upsert is the persistence callback behind a harvest: it merges a record
// into the stored row and reports whether anything changed, so harvesting an
// overlapping page range twice leaves the database as one run would.
//
//	store, err := storage.Open(ctx, "data/wxharvest.db", log)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	changed, err := store.Upsert(ctx, record)
package storage
