package upload

// recordStore is an insertion-ordered collection of upload records, keyed by id.
// It is not synchronized: the owning Queue serializes all access under its mutex.
type recordStore struct {
	order   []string
	records map[string]*Record
}

func newRecordStore() *recordStore {
	return &recordStore{records: map[string]*Record{}}
}

func (s *recordStore) append(rec *Record) {
	if _, exists := s.records[rec.ID]; exists {
		return
	}
	s.order = append(s.order, rec.ID)
	s.records[rec.ID] = rec
}

func (s *recordStore) byID(id string) (*Record, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

// update applies a partial mutation to the record with the given id.
func (s *recordStore) update(id string, apply func(*Record)) bool {
	rec, ok := s.records[id]
	if !ok {
		return false
	}
	apply(rec)
	return true
}

func (s *recordStore) remove(id string) bool {
	if _, ok := s.records[id]; !ok {
		return false
	}
	delete(s.records, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// removeWhere removes every record matching the predicate and returns the count.
func (s *recordStore) removeWhere(match func(*Record) bool) int {
	removed := 0
	kept := s.order[:0]
	for _, id := range s.order {
		if match(s.records[id]) {
			delete(s.records, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed
}

// inOrder returns the records in insertion order. The pointers are live;
// callers must hold the queue lock.
func (s *recordStore) inOrder() []*Record {
	out := make([]*Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out
}

func (s *recordStore) len() int {
	return len(s.order)
}
