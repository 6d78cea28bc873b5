package schedule

// Entry pairs an existing reservation id with its canonical interval.
type Entry struct {
	ID       string
	Interval Interval
}

// FindConflicts returns every entry whose interval overlaps candidate, in
// input order. The entry with excludeID (the booking being edited) is
// skipped; an empty excludeID skips nothing.
func FindConflicts(candidate Interval, existing []Entry, excludeID string) []Entry {
	var conflicts []Entry
	for _, e := range existing {
		if excludeID != "" && e.ID == excludeID {
			continue
		}
		if candidate.Overlaps(e.Interval) {
			conflicts = append(conflicts, e)
		}
	}
	return conflicts
}
