package syncer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/patricou/PATTOOL2-sub002/internal/wire"
)

func created(msg wire.Message) *wire.Event {
	return &wire.Event{Action: wire.ActionCreate, Message: &msg}
}

func updated(msg wire.Message) *wire.Event {
	return &wire.Event{Action: wire.ActionUpdate, Message: &msg}
}

func deleted(id string) *wire.Event {
	return &wire.Event{Action: wire.ActionDelete, MessageID: id}
}

func ids(msgs []wire.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestLoadSnapshot_SortsAndDedups(t *testing.T) {
	t.Parallel()

	s := New()
	s.LoadSnapshot([]wire.Message{
		{ID: "m3", PostedAt: 300, Text: "c"},
		{ID: "m1", PostedAt: 100, Text: "a"},
		{ID: "m1", PostedAt: 100, Text: "a-dup"},
		{ID: "m2", PostedAt: 200, Text: "b"},
	})

	require.Equal(t, []string{"m1", "m2", "m3"}, ids(s.Snapshot()))
}

func TestApplyRemote_CreateInsertsSorted(t *testing.T) {
	t.Parallel()

	s := New()
	s.LoadSnapshot([]wire.Message{{ID: "1", PostedAt: 100, Text: "hi"}})

	require.True(t, s.ApplyRemote(created(wire.Message{ID: "2", PostedAt: 50, Text: "yo"})))

	list := s.Snapshot()
	require.Equal(t, []string{"2", "1"}, ids(list))
	require.Equal(t, int64(50), list[0].PostedAt)
}

func TestApplyRemote_CreateIsIdempotent(t *testing.T) {
	t.Parallel()

	s := New()
	ev := created(wire.Message{ID: "m1", PostedAt: 100, Text: "hi"})
	require.True(t, s.ApplyRemote(ev))
	require.False(t, s.ApplyRemote(ev))
	require.Equal(t, 1, s.Len())
}

func TestApplyRemote_EqualTimestampsKeepArrivalOrder(t *testing.T) {
	t.Parallel()

	s := New()
	require.True(t, s.ApplyRemote(created(wire.Message{ID: "a", PostedAt: 100, Text: "1"})))
	require.True(t, s.ApplyRemote(created(wire.Message{ID: "b", PostedAt: 100, Text: "2"})))
	require.True(t, s.ApplyRemote(created(wire.Message{ID: "c", PostedAt: 100, Text: "3"})))

	require.Equal(t, []string{"a", "b", "c"}, ids(s.Snapshot()))
}

func TestApplyRemote_UpdateReplacesExisting(t *testing.T) {
	t.Parallel()

	s := New()
	s.LoadSnapshot([]wire.Message{{ID: "m1", PostedAt: 100, Text: "old"}})

	require.True(t, s.ApplyRemote(updated(wire.Message{ID: "m1", PostedAt: 100, Text: "new"})))
	require.Equal(t, "new", s.Snapshot()[0].Text)
}

func TestApplyRemote_UpdateUnknownIDIgnored(t *testing.T) {
	t.Parallel()

	s := New()
	require.False(t, s.ApplyRemote(updated(wire.Message{ID: "ghost", PostedAt: 1, Text: "x"})))
	require.Equal(t, 0, s.Len())
}

func TestApplyRemote_DeleteAbsentIDIsNoop(t *testing.T) {
	t.Parallel()

	s := New()
	s.LoadSnapshot([]wire.Message{{ID: "m1", PostedAt: 100, Text: "hi"}})

	require.False(t, s.ApplyRemote(deleted("ghost")))
	require.Equal(t, 1, s.Len())

	require.True(t, s.ApplyRemote(deleted("m1")))
	require.False(t, s.ApplyRemote(deleted("m1")))
	require.Equal(t, 0, s.Len())
}

func TestOptimisticSend_ConfirmedByHTTPThenStream(t *testing.T) {
	t.Parallel()

	s := New()
	s.ApplyLocalSend(wire.Message{LocalID: "L1", PostedAt: 100, Text: "hello"})
	require.Equal(t, 1, s.Len())
	require.Equal(t, 1, s.PendingCount())

	s.ConfirmSend("L1", wire.Message{ID: "9", LocalID: "L1", PostedAt: 100, Text: "hello"})
	require.Equal(t, 0, s.PendingCount())

	// The push stream later echoes the same message: no duplicate.
	s.ApplyRemote(created(wire.Message{ID: "9", LocalID: "L1", PostedAt: 100, Text: "hello"}))

	list := s.Snapshot()
	require.Len(t, list, 1)
	require.Equal(t, "9", list[0].ID)
	require.Equal(t, "hello", list[0].Text)
}

func TestOptimisticSend_StreamEchoBeatsHTTPResponse(t *testing.T) {
	t.Parallel()

	s := New()
	s.ApplyLocalSend(wire.Message{LocalID: "L1", PostedAt: 100, Text: "hello"})

	// The stream delivers the created message before the HTTP response lands.
	s.ApplyRemote(created(wire.Message{ID: "9", LocalID: "L1", PostedAt: 100, Text: "hello"}))
	require.Equal(t, 1, s.Len())

	s.ConfirmSend("L1", wire.Message{ID: "9", LocalID: "L1", PostedAt: 100, Text: "hello"})

	list := s.Snapshot()
	require.Len(t, list, 1)
	require.Equal(t, "9", list[0].ID)
}

func TestOptimisticSend_StreamEchoWithoutLocalID(t *testing.T) {
	t.Parallel()

	s := New()
	s.ApplyLocalSend(wire.Message{LocalID: "L1", PostedAt: 100, Text: "hello"})

	// Older servers may omit localId on the stream echo; the HTTP
	// confirmation still collapses the race to one entry.
	s.ApplyRemote(created(wire.Message{ID: "9", PostedAt: 100, Text: "hello"}))
	require.Equal(t, 2, s.Len())

	s.ConfirmSend("L1", wire.Message{ID: "9", PostedAt: 100, Text: "hello"})

	list := s.Snapshot()
	require.Len(t, list, 1)
	require.Equal(t, "9", list[0].ID)
	require.Equal(t, "hello", list[0].Text)
}

func TestRollbackSend_RemovesPendingEntry(t *testing.T) {
	t.Parallel()

	s := New()
	s.ApplyLocalSend(wire.Message{LocalID: "L1", PostedAt: 100, Text: "hello"})
	s.RollbackSend("L1")

	require.Equal(t, 0, s.Len())
	require.Equal(t, 0, s.PendingCount())
}

func TestLocalEdit_RollbackRestoresBody(t *testing.T) {
	t.Parallel()

	s := New()
	s.LoadSnapshot([]wire.Message{{ID: "m1", PostedAt: 100, Text: "original"}})

	prev, ok := s.ApplyLocalEdit("m1", "edited")
	require.True(t, ok)
	require.Equal(t, "original", prev)
	require.Equal(t, "edited", s.Snapshot()[0].Text)

	s.RollbackEdit("m1", prev)
	require.Equal(t, "original", s.Snapshot()[0].Text)
	require.Equal(t, 0, s.PendingCount())
}

func TestLocalEdit_UnknownIDFails(t *testing.T) {
	t.Parallel()

	s := New()
	_, ok := s.ApplyLocalEdit("ghost", "x")
	require.False(t, ok)
}

func TestLocalDelete_RollbackReinserts(t *testing.T) {
	t.Parallel()

	s := New()
	s.LoadSnapshot([]wire.Message{
		{ID: "m1", PostedAt: 100, Text: "a"},
		{ID: "m2", PostedAt: 200, Text: "b"},
	})

	removed, ok := s.ApplyLocalDelete("m1")
	require.True(t, ok)
	require.Equal(t, []string{"m2"}, ids(s.Snapshot()))

	s.RollbackDelete(removed)
	require.Equal(t, []string{"m1", "m2"}, ids(s.Snapshot()))
}

func TestLocalDelete_RemoteEchoIsNoop(t *testing.T) {
	t.Parallel()

	s := New()
	s.LoadSnapshot([]wire.Message{{ID: "m1", PostedAt: 100, Text: "a"}})

	_, ok := s.ApplyLocalDelete("m1")
	require.True(t, ok)
	s.ConfirmDelete("m1")

	require.False(t, s.ApplyRemote(deleted("m1")))
	require.Equal(t, 0, s.Len())
}

func TestListStaysSortedUnderArbitraryEvents(t *testing.T) {
	t.Parallel()

	s := New()
	events := []*wire.Event{
		created(wire.Message{ID: "e", PostedAt: 500, Text: "e"}),
		created(wire.Message{ID: "a", PostedAt: 100, Text: "a"}),
		created(wire.Message{ID: "c", PostedAt: 300, Text: "c"}),
		deleted("c"),
		created(wire.Message{ID: "b", PostedAt: 200, Text: "b"}),
		created(wire.Message{ID: "a", PostedAt: 100, Text: "a"}),
		updated(wire.Message{ID: "b", PostedAt: 200, Text: "b2"}),
		created(wire.Message{ID: "d", PostedAt: 400, Text: "d"}),
		deleted("ghost"),
	}
	for _, ev := range events {
		s.ApplyRemote(ev)
	}

	list := s.Snapshot()
	require.Equal(t, []string{"a", "b", "d", "e"}, ids(list))
	for i := 1; i < len(list); i++ {
		require.LessOrEqual(t, list[i-1].PostedAt, list[i].PostedAt)
	}
	seen := map[string]bool{}
	for _, m := range list {
		require.False(t, seen[m.ID])
		seen[m.ID] = true
	}
}

func TestOnChange_FiresOnMutationOnly(t *testing.T) {
	t.Parallel()

	s := New()
	changes := 0
	s.OnChange(func() { changes++ })

	s.LoadSnapshot([]wire.Message{{ID: "m1", PostedAt: 100, Text: "a"}})
	require.Equal(t, 1, changes)

	s.ApplyRemote(created(wire.Message{ID: "m1", PostedAt: 100, Text: "a"}))
	require.Equal(t, 1, changes)

	s.ApplyRemote(deleted("m1"))
	require.Equal(t, 2, changes)
}
