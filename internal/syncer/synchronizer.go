package syncer

import (
	"sort"
	"sync"

	"github.com/patricou/PATTOOL2-sub002/internal/wire"
	"github.com/patricou/PATTOOL2-sub002/pkg/logger"
)

// OperationKind tags a locally-initiated mutation awaiting server confirmation.
type OperationKind string

const (
	// OpSend is an optimistic message create.
	OpSend OperationKind = "send"
	// OpEdit is an optimistic body replacement.
	OpEdit OperationKind = "edit"
	// OpDelete is an optimistic removal.
	OpDelete OperationKind = "delete"
)

// PendingOperation tracks one optimistic local change until the server echoes
// it back (or the HTTP call fails and the change is rolled back).
type PendingOperation struct {
	// Kind is the mutation type.
	Kind OperationKind
	// LocalID is the correlation token for send operations.
	LocalID string
	// MessageID is the target id for edit and delete operations.
	MessageID string
}

// Synchronizer maintains the canonical ordered message list for one
// discussion.
//
// The list is unique by message id and sorted ascending by timestamp, ties
// broken by arrival order. Every mutation is idempotent by identifier:
// redelivered events and local/remote races cannot duplicate entries or fail.
type Synchronizer struct {
	mu       sync.Mutex
	messages []wire.Message
	pending  map[string]PendingOperation
	onChange func()
}

// New creates an empty Synchronizer.
func New() *Synchronizer {
	return &Synchronizer{
		pending: make(map[string]PendingOperation),
	}
}

// OnChange registers a callback invoked after every mutation that changed the
// list. The callback runs on the mutating goroutine and must not call back
// into the Synchronizer.
func (s *Synchronizer) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// LoadSnapshot replaces the list wholesale with a sorted, deduplicated copy
// of the snapshot. Pending operations are cleared: a snapshot load starts a
// fresh discussion view.
func (s *Synchronizer) LoadSnapshot(msgs []wire.Message) {
	s.mu.Lock()
	s.messages = s.messages[:0]
	s.pending = make(map[string]PendingOperation)
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if m.ID != "" {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
		}
		s.messages = append(s.messages, m)
	}
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].PostedAt < s.messages[j].PostedAt
	})
	s.mu.Unlock()
	s.notify()
}

// ApplyRemote merges a server-pushed event and reports whether the list
// changed.
func (s *Synchronizer) ApplyRemote(ev *wire.Event) bool {
	if ev == nil {
		return false
	}
	s.mu.Lock()
	var changed bool
	switch ev.Action {
	case wire.ActionCreate:
		changed = s.mergeCreateLocked(*ev.Message)
	case wire.ActionUpdate:
		changed = s.mergeUpdateLocked(*ev.Message)
	case wire.ActionDelete:
		changed = s.removeByIDLocked(ev.MessageID)
	case wire.ActionStatus:
		// Status frames never touch the list.
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
	return changed
}

// ApplyLocalSend inserts an optimistic pending message (no id, LocalID set)
// and registers the matching pending operation.
func (s *Synchronizer) ApplyLocalSend(msg wire.Message) {
	s.mu.Lock()
	s.insertSortedLocked(msg)
	if msg.LocalID != "" {
		s.pending[msg.LocalID] = PendingOperation{Kind: OpSend, LocalID: msg.LocalID}
	}
	s.mu.Unlock()
	s.notify()
}

// ConfirmSend reconciles a pending send with the server-created message from
// the HTTP response. If the push stream already delivered the created message
// the pending entry is dropped instead of duplicated.
func (s *Synchronizer) ConfirmSend(localID string, server wire.Message) {
	if localID == "" {
		return
	}
	s.mu.Lock()
	delete(s.pending, localID)

	if server.ID != "" && s.indexByIDLocked(server.ID) >= 0 {
		// The stream echo won the race; the confirmed entry is already
		// present under its server id.
		changed := s.removePendingEntryLocked(localID)
		s.mu.Unlock()
		if changed {
			s.notify()
		}
		return
	}

	idx := s.indexByLocalIDLocked(localID)
	if idx < 0 {
		// Pending entry already rolled back or replaced; insert the
		// confirmed message so the list matches the server.
		s.insertSortedLocked(server)
		s.mu.Unlock()
		s.notify()
		return
	}
	s.messages[idx] = server
	s.resortLocked()
	s.mu.Unlock()
	s.notify()
}

// RollbackSend removes an unconfirmed optimistic send after its HTTP call
// failed.
func (s *Synchronizer) RollbackSend(localID string) {
	if localID == "" {
		return
	}
	s.mu.Lock()
	delete(s.pending, localID)
	changed := s.removePendingEntryLocked(localID)
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// ApplyLocalEdit optimistically replaces a message body and returns the
// previous text for rollback. ok is false when the id is unknown.
func (s *Synchronizer) ApplyLocalEdit(messageID, text string) (previous string, ok bool) {
	s.mu.Lock()
	idx := s.indexByIDLocked(messageID)
	if idx < 0 {
		s.mu.Unlock()
		return "", false
	}
	previous = s.messages[idx].Text
	s.messages[idx].Text = text
	s.pending[messageID] = PendingOperation{Kind: OpEdit, MessageID: messageID}
	s.mu.Unlock()
	s.notify()
	return previous, true
}

// ConfirmEdit clears the pending record for an acknowledged edit.
func (s *Synchronizer) ConfirmEdit(messageID string) {
	s.mu.Lock()
	delete(s.pending, messageID)
	s.mu.Unlock()
}

// RollbackEdit restores the previous body after a failed edit call.
func (s *Synchronizer) RollbackEdit(messageID, previous string) {
	s.mu.Lock()
	delete(s.pending, messageID)
	idx := s.indexByIDLocked(messageID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.messages[idx].Text = previous
	s.mu.Unlock()
	s.notify()
}

// ApplyLocalDelete optimistically removes a message and returns the removed
// entry for rollback. ok is false when the id is unknown.
func (s *Synchronizer) ApplyLocalDelete(messageID string) (removed wire.Message, ok bool) {
	s.mu.Lock()
	idx := s.indexByIDLocked(messageID)
	if idx < 0 {
		s.mu.Unlock()
		return wire.Message{}, false
	}
	removed = s.messages[idx]
	s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	s.pending[messageID] = PendingOperation{Kind: OpDelete, MessageID: messageID}
	s.mu.Unlock()
	s.notify()
	return removed, true
}

// ConfirmDelete clears the pending record for an acknowledged delete.
func (s *Synchronizer) ConfirmDelete(messageID string) {
	s.mu.Lock()
	delete(s.pending, messageID)
	s.mu.Unlock()
}

// RollbackDelete re-inserts a message after a failed delete call.
func (s *Synchronizer) RollbackDelete(msg wire.Message) {
	s.mu.Lock()
	delete(s.pending, msg.ID)
	if msg.ID != "" && s.indexByIDLocked(msg.ID) >= 0 {
		s.mu.Unlock()
		return
	}
	s.insertSortedLocked(msg)
	s.mu.Unlock()
	s.notify()
}

// Snapshot returns a copy of the current sorted, deduplicated list.
func (s *Synchronizer) Snapshot() []wire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the current list length.
func (s *Synchronizer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// PendingCount returns the number of unconfirmed local operations.
func (s *Synchronizer) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// mergeCreateLocked applies a created event: duplicate ids are dropped, a
// LocalID match confirms the optimistic entry in place, anything else is a
// sorted insert.
func (s *Synchronizer) mergeCreateLocked(msg wire.Message) bool {
	if msg.ID != "" && s.indexByIDLocked(msg.ID) >= 0 {
		logger.Tracef("dropping duplicate create for message %s", msg.ID)
		return false
	}
	if msg.LocalID != "" {
		if idx := s.indexByLocalIDLocked(msg.LocalID); idx >= 0 {
			s.messages[idx] = msg
			s.resortLocked()
			delete(s.pending, msg.LocalID)
			return true
		}
	}
	s.insertSortedLocked(msg)
	return true
}

// mergeUpdateLocked replaces an existing entry; unknown ids are ignored
// rather than speculatively inserted.
func (s *Synchronizer) mergeUpdateLocked(msg wire.Message) bool {
	idx := s.indexByIDLocked(msg.ID)
	if idx < 0 {
		logger.Tracef("ignoring update for unknown message %s", msg.ID)
		return false
	}
	if s.messages[idx] == msg {
		return false
	}
	s.messages[idx] = msg
	s.resortLocked()
	return true
}

func (s *Synchronizer) removeByIDLocked(messageID string) bool {
	idx := s.indexByIDLocked(messageID)
	if idx < 0 {
		return false
	}
	s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	return true
}

// removePendingEntryLocked drops the optimistic entry carrying localID, but
// only while it is still unconfirmed (no server id yet).
func (s *Synchronizer) removePendingEntryLocked(localID string) bool {
	idx := s.indexByLocalIDLocked(localID)
	if idx < 0 || s.messages[idx].ID != "" {
		return false
	}
	s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	return true
}

// insertSortedLocked inserts at the first position whose timestamp is
// strictly greater, so equal timestamps keep arrival order.
func (s *Synchronizer) insertSortedLocked(msg wire.Message) {
	pos := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].PostedAt > msg.PostedAt
	})
	s.messages = append(s.messages, wire.Message{})
	copy(s.messages[pos+1:], s.messages[pos:])
	s.messages[pos] = msg
}

func (s *Synchronizer) resortLocked() {
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].PostedAt < s.messages[j].PostedAt
	})
}

func (s *Synchronizer) indexByIDLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Synchronizer) indexByLocalIDLocked(localID string) int {
	if localID == "" {
		return -1
	}
	for i := range s.messages {
		if s.messages[i].LocalID == localID {
			return i
		}
	}
	return -1
}

func (s *Synchronizer) notify() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
