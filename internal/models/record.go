package models

// Record is one row of a remote collection, keyed by field name.
type Record map[string]any

// Text returns the string value of field, or "" when absent or not a string.
func (r Record) Text(field string) string {
	s, _ := r[field].(string)
	return s
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Selection identifies the page source for a job: the instance's filter over
// its collection, restricted to records not yet claimed by another job.
type Selection struct {
	Collection  string
	Filter      string
	PrimaryKey  string
	MarkerField string
	// JobID keeps records already rewritten by this job inside the selection
	// so that offsets stay stable across ticks.
	JobID string
}

// SelectionFor builds the Selection of inst for jobID.
func SelectionFor(inst *Instance, jobID string) Selection {
	return Selection{
		Collection:  inst.Collection,
		Filter:      inst.Filter,
		PrimaryKey:  inst.PrimaryKey,
		MarkerField: inst.Marker(),
		JobID:       jobID,
	}
}
