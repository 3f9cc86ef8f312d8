package chatsync

import (
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/codefionn/ictchat/internal/models"
)

// DefaultDedupWindow is the tolerance under which two messages with the same
// sender and text are treated as one.
const DefaultDedupWindow = 2 * time.Second

// IsDuplicate reports whether a and b are the same message under the dedup
// predicate: same text, same sender, timestamps strictly closer than window.
func IsDuplicate(a, b models.Message, window time.Duration) bool {
	if a.Text != b.Text || a.SenderID != b.SenderID {
		return false
	}
	d := a.Timestamp.Sub(b.Timestamp.Time)
	if d < 0 {
		d = -d
	}
	return d < window
}

// messageLog is the in-memory log of the selected room. It is owned by the
// synchronizer actor and not safe for concurrent use.
type messageLog struct {
	window  time.Duration
	entries []*Entry
	buckets map[uint64][]*Entry
	nextSeq uint64
}

func newMessageLog(window time.Duration) *messageLog {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &messageLog{window: window, buckets: make(map[uint64][]*Entry)}
}

func bucketKey(m models.Message) uint64 {
	return xxhash.Sum64String(string(m.SenderID) + "\x00" + m.Text)
}

func (l *messageLog) Len() int { return len(l.entries) }

func (l *messageLog) reset() {
	l.entries = nil
	l.buckets = make(map[uint64][]*Entry)
}

// seed replaces the log with history, without deduplication.
func (l *messageLog) seed(history []models.Message) {
	l.reset()
	for _, m := range history {
		l.append(newEntry(m, Confirmed, ""))
	}
}

func (l *messageLog) append(e *Entry) {
	l.nextSeq++
	e.seq = l.nextSeq
	l.entries = append(l.entries, e)
	key := bucketKey(e.Message)
	l.buckets[key] = append(l.buckets[key], e)
}

// addPending appends an optimistic entry.
func (l *messageLog) addPending(m models.Message, localID string) *Entry {
	e := newEntry(m, Pending, localID)
	l.append(e)
	return e
}

// merge applies an authoritative copy. A match by id, or else under the
// dedup predicate, is replaced in place; otherwise m is appended. Pending
// entries are preferred as the match target.
func (l *messageLog) merge(m models.Message) (collapsed bool) {
	if target := l.match(m); target != nil {
		l.replace(target, m)
		return true
	}
	l.append(newEntry(m, Confirmed, ""))
	return false
}

func (l *messageLog) match(m models.Message) *Entry {
	if !m.ID.IsZero() {
		for _, e := range l.entries {
			if e.ID == m.ID {
				return e
			}
		}
	}

	var first *Entry
	for _, e := range l.buckets[bucketKey(m)] {
		if !IsDuplicate(e.Message, m, l.window) {
			continue
		}
		if e.Phase == Pending {
			return e
		}
		if first == nil {
			first = e
		}
	}
	return first
}

func (l *messageLog) replace(e *Entry, m models.Message) {
	oldKey := bucketKey(e.Message)
	fresh := newEntry(m, Confirmed, e.LocalID)
	fresh.seq = e.seq
	*e = *fresh

	if newKey := bucketKey(m); newKey != oldKey {
		l.unindex(oldKey, e)
		l.buckets[newKey] = append(l.buckets[newKey], e)
	}
}

// remove drops every entry with the given server id or local id.
func (l *messageLog) remove(id models.ID) bool {
	kept := l.entries[:0]
	removed := false
	for _, e := range l.entries {
		if (!id.IsZero() && e.ID == id) || (e.LocalID != "" && e.LocalID == string(id)) {
			l.unindex(bucketKey(e.Message), e)
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(l.entries); i++ {
		l.entries[i] = nil
	}
	l.entries = kept
	return removed
}

func (l *messageLog) find(id models.ID) *Entry {
	for _, e := range l.entries {
		if e.ID == id || (e.LocalID != "" && e.LocalID == string(id)) {
			return e
		}
	}
	return nil
}

func (l *messageLog) unindex(key uint64, e *Entry) {
	list := l.buckets[key]
	for i, x := range list {
		if x == e {
			l.buckets[key] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(l.buckets[key]) == 0 {
		delete(l.buckets, key)
	}
}

// snapshot returns copies ordered by timestamp, ties by arrival.
func (l *messageLog) snapshot() []Entry {
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = *e
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].Time(), out[j].Time()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].seq < out[j].seq
	})
	return out
}
