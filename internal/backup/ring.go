package backup

import "time"

// prune enforces the ring invariants on a newest-first entry list: length is
// capped at max and entries older than the horizon are dropped.
func prune(entries []Entry, max int, horizon time.Time) []Entry {
	kept := entries[:0:len(entries)]
	for _, e := range entries {
		if e.Timestamp.Before(horizon) {
			continue
		}
		kept = append(kept, e)
	}
	if max > 0 && len(kept) > max {
		kept = kept[:max]
	}
	return kept
}

// prepend inserts a freshly committed entry at position 0. The ring stays
// ordered newest-first because entries are only ever added at the head.
func prepend(entries []Entry, e Entry) []Entry {
	return append([]Entry{e}, entries...)
}
