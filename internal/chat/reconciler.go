// Package chat holds the client-side conversation logic: the reconciled
// message list, receiver resolution, the inbox aggregator, the send
// pipeline and the per-conversation event loop tying them together.
package chat

import (
	"sort"
	"time"

	"skill-barter/messaging/internal/models"

	"github.com/google/uuid"
)

// seedClockSkew bounds how far the server clock may trail ours when a
// history entry without a client id is taken for a local send.
const seedClockSkew = time.Minute

type entry struct {
	msg models.Message
	seq uint64
}

// Reconciler holds the ordered message list of one open conversation.
// Entries are ordered by SentAt, ties broken by insertion sequence, and no
// two entries represent the same logical message.
//
// A Reconciler is not safe for concurrent use; the conversation loop owns it.
type Reconciler struct {
	scope   models.Scope
	entries []entry
	nextSeq uint64
	now     func() time.Time
}

// NewReconciler returns an empty list filtered to scope. A zero scope
// accepts every message.
func NewReconciler(scope models.Scope) *Reconciler {
	return &Reconciler{scope: scope, now: time.Now}
}

// Accepts reports whether msg belongs to this conversation.
func (r *Reconciler) Accepts(msg models.Message) bool {
	if !r.scope.Valid() {
		return true
	}
	return r.scope.Matches(msg)
}

// Seed replaces the confirmed part of the list with a history snapshot.
// Local entries that were never confirmed survive unless the snapshot
// already holds their server copy, found by client id or, for snapshot
// entries without one, by sender, receiver and body in FIFO order.
func (r *Reconciler) Seed(history []models.Message) {
	local := make([]entry, 0)
	for _, e := range r.entries {
		if !e.msg.Confirmed() {
			local = append(local, e)
		}
	}

	seen := make(map[int64]bool, len(history))
	persisted := make(map[string]bool)
	claimed := make(map[uint64]bool)
	r.entries = make([]entry, 0, len(history)+len(local))
	for _, m := range history {
		if m.ID != 0 {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
		}
		if m.ClientID != "" {
			persisted[m.ClientID] = true
		} else if seq, ok := localCopy(local, m, claimed); ok {
			claimed[seq] = true
		}
		m.Pending, m.Failed, m.FailReason = false, false, ""
		r.entries = append(r.entries, entry{msg: m, seq: r.seq()})
	}
	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].msg.SentAt.Before(r.entries[j].msg.SentAt.Time)
	})

	for _, e := range local {
		if claimed[e.seq] || (e.msg.ClientID != "" && persisted[e.msg.ClientID]) {
			continue
		}
		r.insert(e)
	}
}

// localCopy returns the earliest unclaimed local entry that m, a
// snapshot entry without a client id, is the persisted form of.
func localCopy(local []entry, m models.Message, claimed map[uint64]bool) (uint64, bool) {
	if m.SenderID == 0 {
		return 0, false
	}
	body := models.NormalizeBody(m.Body)
	found := false
	var best uint64
	for _, e := range local {
		if claimed[e.seq] || e.msg.SenderID != m.SenderID || e.msg.ReceiverID != m.ReceiverID {
			continue
		}
		if models.NormalizeBody(e.msg.Body) != body || m.SentAt.Before(e.msg.SentAt.Add(-seedClockSkew)) {
			continue
		}
		if !found || e.seq < best {
			best, found = e.seq, true
		}
	}
	return best, found
}

// AppendIncoming adds a message pushed by the other party. It is placed
// after every entry sent at or before it, which is an append whenever
// timestamps arrive in order. Existing entries are never touched. It
// reports whether the list changed.
func (r *Reconciler) AppendIncoming(msg models.Message) bool {
	if !r.Accepts(msg) {
		return false
	}
	if msg.ID != 0 && r.indexByID(msg.ID) >= 0 {
		return false
	}
	msg.Pending, msg.Failed, msg.FailReason = false, false, ""
	if msg.SentAt.IsZero() {
		msg.SentAt = models.NewTimestamp(r.now())
	}
	r.insert(entry{msg: msg, seq: r.seq()})
	return true
}

// AppendOptimistic adds a locally originated message before the server
// has seen it and returns the stored entry.
func (r *Reconciler) AppendOptimistic(msg models.Message) models.Message {
	msg.ID = 0
	msg.Pending = true
	msg.Failed, msg.FailReason = false, ""
	if msg.LocalID == "" {
		msg.LocalID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = models.NewTimestamp(r.now())
	}
	r.insert(entry{msg: msg, seq: r.seq()})
	return msg
}

// ReconcileConfirmed applies the server echo of one of our own messages.
// The matching local entry is promoted in place; without a match the
// message is added as new. It reports whether the list changed.
func (r *Reconciler) ReconcileConfirmed(msg models.Message) bool {
	if !r.Accepts(msg) {
		return false
	}

	if msg.ID != 0 && r.indexByID(msg.ID) >= 0 {
		// the snapshot or an earlier echo already holds it
		if i := r.matchPending(msg); i >= 0 {
			r.removeAt(i)
			return true
		}
		return false
	}

	match := r.matchPending(msg)
	if match < 0 {
		msg.Pending, msg.Failed, msg.FailReason = false, false, ""
		if msg.SentAt.IsZero() {
			msg.SentAt = models.NewTimestamp(r.now())
		}
		r.insert(entry{msg: msg, seq: r.seq()})
		return true
	}

	old := r.entries[match]
	r.removeAt(match)

	confirmed := msg
	confirmed.LocalID = old.msg.LocalID
	if confirmed.ClientID == "" {
		confirmed.ClientID = old.msg.ClientID
	}
	if confirmed.SentAt.IsZero() {
		confirmed.SentAt = old.msg.SentAt
	}
	confirmed.Pending, confirmed.Failed, confirmed.FailReason = false, false, ""
	r.insert(entry{msg: confirmed, seq: old.seq})
	return true
}

// matchPending finds the local entry a confirmation belongs to. An echo
// carrying a client id matches only that entry; one without falls back to
// the earliest pending entry with the same body, then the earliest failed one.
func (r *Reconciler) matchPending(msg models.Message) int {
	if msg.ClientID != "" {
		return r.indexByClientID(msg.ClientID)
	}

	body := models.NormalizeBody(msg.Body)
	if i := r.earliest(func(m models.Message) bool {
		return m.Pending && !m.Failed && models.NormalizeBody(m.Body) == body
	}); i >= 0 {
		return i
	}
	return r.earliest(func(m models.Message) bool {
		return m.Pending && m.Failed && models.NormalizeBody(m.Body) == body
	})
}

// MarkFailed flags the local entry a send_failed refers to. Without a
// client id the earliest outstanding entry is blamed. The entry stays in
// the list.
func (r *Reconciler) MarkFailed(reason, clientID string) (models.Message, bool) {
	i := r.indexByClientID(clientID)
	if i < 0 {
		i = r.earliest(func(m models.Message) bool { return m.Pending && !m.Failed })
	}
	if i < 0 {
		return models.Message{}, false
	}

	r.entries[i].msg.Failed = true
	r.entries[i].msg.FailReason = reason
	return r.entries[i].msg, true
}

// Find returns the unconfirmed entry with localID.
func (r *Reconciler) Find(localID string) (models.Message, bool) {
	for _, e := range r.entries {
		if e.msg.LocalID == localID && !e.msg.Confirmed() {
			return e.msg, true
		}
	}
	return models.Message{}, false
}

// Discard removes an unconfirmed entry.
func (r *Reconciler) Discard(localID string) bool {
	for i, e := range r.entries {
		if e.msg.LocalID == localID && !e.msg.Confirmed() {
			r.removeAt(i)
			return true
		}
	}
	return false
}

// Messages returns a copy of the ordered list.
func (r *Reconciler) Messages() []models.Message {
	out := make([]models.Message, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.msg
	}
	return out
}

// Len returns the number of entries.
func (r *Reconciler) Len() int {
	return len(r.entries)
}

func (r *Reconciler) seq() uint64 {
	r.nextSeq++
	return r.nextSeq
}

func (r *Reconciler) insert(e entry) {
	i := sort.Search(len(r.entries), func(i int) bool {
		return before(e, r.entries[i])
	})
	r.entries = append(r.entries, entry{})
	copy(r.entries[i+1:], r.entries[i:])
	r.entries[i] = e
}

func (r *Reconciler) removeAt(i int) {
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
}

func (r *Reconciler) indexByID(id int64) int {
	for i, e := range r.entries {
		if e.msg.ID == id {
			return i
		}
	}
	return -1
}

// indexByClientID finds the pending entry carrying clientID.
func (r *Reconciler) indexByClientID(clientID string) int {
	if clientID == "" {
		return -1
	}
	for i, e := range r.entries {
		if e.msg.Pending && e.msg.ClientID == clientID {
			return i
		}
	}
	return -1
}

// earliest returns the matching entry with the lowest insertion sequence.
func (r *Reconciler) earliest(pred func(models.Message) bool) int {
	best := -1
	for i, e := range r.entries {
		if pred(e.msg) && (best < 0 || e.seq < r.entries[best].seq) {
			best = i
		}
	}
	return best
}

func before(a, b entry) bool {
	if !a.msg.SentAt.Equal(b.msg.SentAt.Time) {
		return a.msg.SentAt.Before(b.msg.SentAt.Time)
	}
	return a.seq < b.seq
}
