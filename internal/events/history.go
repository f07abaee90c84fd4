package events

// HistorySize is the capacity of the event history ring.
const HistorySize = 100

// ring keeps the newest HistorySize records; the oldest is overwritten.
type ring struct {
	records [HistorySize]Record
	head    int
	count   int
}

func (r *ring) push(rec Record) {
	r.records[r.head] = rec
	r.head = (r.head + 1) % HistorySize
	if r.count < HistorySize {
		r.count++
	}
}

// each visits records oldest first.
func (r *ring) each(fn func(*Record)) {
	pos := (r.head + HistorySize - r.count) % HistorySize
	for i := 0; i < r.count; i++ {
		fn(&r.records[pos])
		pos = (pos + 1) % HistorySize
	}
}

func (r *ring) list(unreadOnly bool) []Record {
	result := make([]Record, 0, r.count)
	r.each(func(rec *Record) {
		if !unreadOnly || !rec.Published {
			result = append(result, *rec)
		}
	})
	return result
}

func (r *ring) markRead() int {
	marked := 0
	r.each(func(rec *Record) {
		if !rec.Published {
			rec.Published = true
			marked++
		}
	})
	return marked
}

func (r *ring) unread() int {
	n := 0
	r.each(func(rec *Record) {
		if !rec.Published {
			n++
		}
	})
	return n
}

func (r *ring) clear() {
	r.head = 0
	r.count = 0
}
