package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/patricou/PATTOOL2-sub002/internal/api"
	"github.com/patricou/PATTOOL2-sub002/internal/blobcache"
	"github.com/patricou/PATTOOL2-sub002/internal/connection"
	"github.com/patricou/PATTOOL2-sub002/internal/syncer"
	"github.com/patricou/PATTOOL2-sub002/internal/wire"
	"github.com/patricou/PATTOOL2-sub002/pkg/logger"
)

// Listener receives session events. Methods are invoked on a dedicated
// callback goroutine and must not call back into the Session synchronously.
type Listener interface {
	// OnMessagesChanged fires after any change to the message list.
	OnMessagesChanged()
	// OnStatus fires for every connection status transition.
	OnStatus(status connection.Status)
	// OnDiscussionStatus fires for advisory status frames pushed on the
	// discussion topic.
	OnDiscussionStatus(status string)
	// OnBlobReady fires when an attachment fetch completes.
	OnBlobReady(key blobcache.Key)
	// OnError reports a non-fatal background failure.
	OnError(message string)
}

// Config assembles a Session.
type Config struct {
	// API is the REST client for snapshot and CRUD calls.
	API *api.Client
	// Conn manages the realtime subscription.
	Conn *connection.Manager
	// Author is the local user reference stamped on optimistic messages.
	Author string
}

// Session is the composition root binding one discussion id to a connection
// manager, a message synchronizer, and a blob cache for the lifetime of a UI
// view.
//
// All state changes are serialized on one dispatcher goroutine; HTTP round
// trips run on the caller's goroutine so the event loop never blocks.
type Session struct {
	api    *api.Client
	conn   *connection.Manager
	sync   *syncer.Synchronizer
	cache  *blobcache.Cache
	author string

	dispatch  *dispatcher
	callbacks *dispatcher

	// Owned by the dispatcher goroutine.
	discussionID string
	ctx          context.Context
	cancel       context.CancelFunc

	closed atomic.Bool
	quit   chan struct{}

	mu       sync.Mutex
	listener Listener
}

// New creates a Session ready for Open.
func New(cfg Config) *Session {
	s := &Session{
		api:       cfg.API,
		conn:      cfg.Conn,
		sync:      syncer.New(),
		author:    cfg.Author,
		dispatch:  newDispatcher(),
		callbacks: newDispatcher(),
		quit:      make(chan struct{}),
	}
	s.cache = blobcache.New(func(ctx context.Context, key blobcache.Key) (*blobcache.Blob, error) {
		data, contentType, err := s.api.FetchFile(ctx, key.DiscussionID, key.Category.PathSegment(), key.Filename)
		if err != nil {
			return nil, err
		}
		return &blobcache.Blob{Data: data, ContentType: contentType}, nil
	})
	s.cache.OnReady(func(key blobcache.Key) {
		s.emitBlobReady(key)
	})
	s.sync.OnChange(func() {
		s.emitMessagesChanged()
	})

	// Pump typed events and status transitions for the session's lifetime.
	go s.pumpEvents()
	go s.pumpStatus()

	return s
}

// SetListener registers the listener for session events.
func (s *Session) SetListener(listener Listener) {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
}

// Open loads the snapshot for a discussion and subscribes to its topic. An
// already-open discussion is torn down first, so Open doubles as SwitchTo.
func (s *Session) Open(discussionID string) error {
	if discussionID == "" {
		return fmt.Errorf("discussionID required")
	}
	_, err := s.dispatch.call(func() (any, error) {
		return nil, s.open(discussionID)
	})
	return err
}

// SwitchTo closes the current discussion and opens another one without
// leaking the previous subscription or cached blobs.
func (s *Session) SwitchTo(discussionID string) error {
	return s.Open(discussionID)
}

// Close disconnects, releases every cached blob, and makes the session
// terminal. Both dispatcher goroutines and the pumps exit. Idempotent.
func (s *Session) Close() {
	_, _ = s.dispatch.call(func() (any, error) {
		if s.closed.Swap(true) {
			return nil, nil
		}
		s.teardown()
		close(s.quit)
		s.callbacks.close()
		s.dispatch.close()
		return nil, nil
	})
}

// Send creates a message optimistically and posts it to the server. On
// failure the optimistic entry is rolled back and the error returned.
func (s *Session) Send(text string, image, video *wire.Upload) error {
	localID := uuid.NewString()

	type sendState struct {
		ctx          context.Context
		discussionID string
	}
	value, err := s.dispatch.call(func() (any, error) {
		if s.closed.Load() {
			return nil, ErrClosed
		}
		if s.discussionID == "" {
			return nil, ErrNotOpen
		}
		if text == "" && image == nil && video == nil {
			return nil, ErrEmptyMessage
		}
		pending := wire.Message{
			LocalID:  localID,
			Author:   s.author,
			PostedAt: time.Now().UnixMilli(),
			Text:     text,
		}
		if image != nil {
			pending.ImageFile = image.Filename
		}
		if video != nil {
			pending.VideoFile = video.Filename
		}
		s.sync.ApplyLocalSend(pending)
		return sendState{ctx: s.ctx, discussionID: s.discussionID}, nil
	})
	if err != nil {
		return err
	}
	state := value.(sendState)

	draft := wire.MessageDraft{Text: text, LocalID: localID, Image: image, Video: video}
	created, err := s.api.CreateMessage(state.ctx, state.discussionID, draft)
	if err != nil {
		_ = s.dispatch.do(func() {
			s.sync.RollbackSend(localID)
		})
		return fmt.Errorf("send message: %w", err)
	}

	_ = s.dispatch.do(func() {
		if s.closed.Load() || s.discussionID != state.discussionID {
			return
		}
		s.sync.ConfirmSend(localID, *created)
		s.prefetchAttachments(state.ctx, state.discussionID, *created)
	})
	return nil
}

// Edit replaces a message body optimistically and mirrors it through the
// server. On failure the previous body is restored.
func (s *Session) Edit(messageID, text string) error {
	type editState struct {
		ctx          context.Context
		discussionID string
		previous     string
	}
	value, err := s.dispatch.call(func() (any, error) {
		if s.closed.Load() {
			return nil, ErrClosed
		}
		if s.discussionID == "" {
			return nil, ErrNotOpen
		}
		previous, ok := s.sync.ApplyLocalEdit(messageID, text)
		if !ok {
			return nil, fmt.Errorf("edit %s: %w", messageID, ErrUnknownMessage)
		}
		return editState{ctx: s.ctx, discussionID: s.discussionID, previous: previous}, nil
	})
	if err != nil {
		return err
	}
	state := value.(editState)

	updated, err := s.api.UpdateMessage(state.ctx, messageID, text)
	if err != nil {
		_ = s.dispatch.do(func() {
			s.sync.RollbackEdit(messageID, state.previous)
		})
		return fmt.Errorf("edit message: %w", err)
	}

	_ = s.dispatch.do(func() {
		if s.closed.Load() || s.discussionID != state.discussionID {
			return
		}
		s.sync.ConfirmEdit(messageID)
		s.sync.ApplyRemote(&wire.Event{Action: wire.ActionUpdate, Message: updated})
	})
	return nil
}

// Delete removes a message optimistically and mirrors it through the server.
// On failure the entry is re-inserted.
func (s *Session) Delete(messageID string) error {
	type deleteState struct {
		ctx          context.Context
		discussionID string
		removed      wire.Message
	}
	value, err := s.dispatch.call(func() (any, error) {
		if s.closed.Load() {
			return nil, ErrClosed
		}
		if s.discussionID == "" {
			return nil, ErrNotOpen
		}
		removed, ok := s.sync.ApplyLocalDelete(messageID)
		if !ok {
			return nil, fmt.Errorf("delete %s: %w", messageID, ErrUnknownMessage)
		}
		return deleteState{ctx: s.ctx, discussionID: s.discussionID, removed: removed}, nil
	})
	if err != nil {
		return err
	}
	state := value.(deleteState)

	if err := s.api.DeleteMessage(state.ctx, messageID); err != nil {
		_ = s.dispatch.do(func() {
			s.sync.RollbackDelete(state.removed)
		})
		return fmt.Errorf("delete message: %w", err)
	}

	_ = s.dispatch.do(func() {
		s.sync.ConfirmDelete(messageID)
	})
	return nil
}

// Messages returns the current sorted, deduplicated message list.
func (s *Session) Messages() []wire.Message {
	return s.sync.Snapshot()
}

// DiscussionID returns the currently open discussion id, if any.
func (s *Session) DiscussionID() string {
	value, _ := s.dispatch.call(func() (any, error) {
		return s.discussionID, nil
	})
	id, _ := value.(string)
	return id
}

// ConnectionStatus returns the last-known connection status.
func (s *Session) ConnectionStatus() connection.Status {
	return s.conn.Status()
}

// StatusChanges subscribes to connection status transitions.
func (s *Session) StatusChanges() (<-chan connection.Status, func()) {
	return s.conn.StatusChanges()
}

// Cache exposes the session-private blob cache to the UI layer.
func (s *Session) Cache() *blobcache.Cache {
	return s.cache
}

// open runs on the dispatcher goroutine.
func (s *Session) open(discussionID string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if s.discussionID != "" {
		s.teardown()
	}

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := s.api.ListMessages(ctx, discussionID)
	if err != nil {
		cancel()
		return fmt.Errorf("load snapshot for %s: %w", discussionID, err)
	}

	s.ctx = ctx
	s.cancel = cancel
	s.discussionID = discussionID
	s.sync.LoadSnapshot(msgs)
	s.prefetchAttachments(ctx, discussionID, msgs...)

	if err := s.conn.Connect(discussionID); err != nil {
		// Non-fatal: the failure is already on the status stream and the
		// snapshot alone still renders.
		logger.Warnf("realtime connect for %s failed: %v", discussionID, err)
	}
	return nil
}

// teardown runs on the dispatcher goroutine. It cancels the session scope so
// in-flight fetches die, drops the subscription, and releases cached blobs.
func (s *Session) teardown() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
		s.ctx = nil
	}
	s.conn.Disconnect()
	s.cache.InvalidateAll()
	s.discussionID = ""
}

func (s *Session) pumpEvents() {
	events := s.conn.Events()
	for {
		select {
		case <-s.quit:
			return
		case ev := <-events:
			_ = s.dispatch.do(func() {
				s.handleEvent(ev)
			})
		}
	}
}

func (s *Session) pumpStatus() {
	statusCh, cancel := s.conn.StatusChanges()
	defer cancel()
	last := connection.StateIdle
	for {
		select {
		case <-s.quit:
			return
		case st := <-statusCh:
			if st.State == connection.StateConnected && last == connection.StateReconnecting {
				s.resync()
			}
			last = st.State
			s.emitStatus(st)
		}
	}
}

// resync fills any gap left by a dropped subscription. The fresh listing is
// merged through the idempotent create path, so messages already held are
// untouched.
func (s *Session) resync() {
	type scope struct {
		ctx          context.Context
		discussionID string
	}
	value, err := s.dispatch.call(func() (any, error) {
		if s.closed.Load() || s.discussionID == "" {
			return nil, ErrNotOpen
		}
		return scope{ctx: s.ctx, discussionID: s.discussionID}, nil
	})
	if err != nil {
		return
	}
	sc := value.(scope)

	go func() {
		msgs, err := s.api.ListMessages(sc.ctx, sc.discussionID)
		if err != nil {
			if sc.ctx.Err() == nil {
				s.emitError(fmt.Sprintf("resync %s: %v", sc.discussionID, err))
			}
			return
		}
		_ = s.dispatch.do(func() {
			if s.closed.Load() || s.discussionID != sc.discussionID {
				return
			}
			for i := range msgs {
				s.sync.ApplyRemote(&wire.Event{
					Action:       wire.ActionCreate,
					DiscussionID: sc.discussionID,
					Message:      &msgs[i],
				})
			}
			s.prefetchAttachments(sc.ctx, sc.discussionID, msgs...)
		})
	}()
}

// handleEvent runs on the dispatcher goroutine.
func (s *Session) handleEvent(ev wire.Event) {
	if s.closed.Load() || ev.DiscussionID != s.discussionID || s.discussionID == "" {
		return
	}
	switch ev.Action {
	case wire.ActionStatus:
		s.emitDiscussionStatus(ev.Status)
	case wire.ActionCreate, wire.ActionUpdate:
		s.sync.ApplyRemote(&ev)
		if ev.Message != nil {
			s.prefetchAttachments(s.ctx, s.discussionID, *ev.Message)
		}
	default:
		s.sync.ApplyRemote(&ev)
	}
}

// prefetchAttachments starts background fetches for attachment references so
// the UI can render media as soon as it is available.
func (s *Session) prefetchAttachments(ctx context.Context, discussionID string, msgs ...wire.Message) {
	if ctx == nil {
		return
	}
	for _, msg := range msgs {
		for _, key := range attachmentKeys(discussionID, msg) {
			if s.cache.Has(key) {
				continue
			}
			go func(key blobcache.Key) {
				if _, err := s.cache.Get(ctx, key); err != nil {
					logger.Debugf("prefetch %s: %v", key, err)
				}
			}(key)
		}
	}
}

func attachmentKeys(discussionID string, msg wire.Message) []blobcache.Key {
	var keys []blobcache.Key
	if msg.ImageFile != "" {
		keys = append(keys, blobcache.Key{
			DiscussionID: discussionID,
			Category:     blobcache.CategoryImage,
			Filename:     msg.ImageFile,
		})
	}
	if msg.VideoFile != "" {
		keys = append(keys, blobcache.Key{
			DiscussionID: discussionID,
			Category:     blobcache.CategoryVideo,
			Filename:     msg.VideoFile,
		})
	}
	return keys
}

func (s *Session) getListener() Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener
}

func (s *Session) emitMessagesChanged() {
	if s.closed.Load() {
		return
	}
	if listener := s.getListener(); listener != nil {
		_ = s.callbacks.do(listener.OnMessagesChanged)
	}
}

func (s *Session) emitStatus(status connection.Status) {
	if s.closed.Load() {
		return
	}
	if listener := s.getListener(); listener != nil {
		_ = s.callbacks.do(func() { listener.OnStatus(status) })
	}
}

func (s *Session) emitDiscussionStatus(status string) {
	if listener := s.getListener(); listener != nil {
		_ = s.callbacks.do(func() { listener.OnDiscussionStatus(status) })
	}
}

func (s *Session) emitError(message string) {
	if s.closed.Load() {
		return
	}
	if listener := s.getListener(); listener != nil {
		_ = s.callbacks.do(func() { listener.OnError(message) })
	}
}

func (s *Session) emitBlobReady(key blobcache.Key) {
	if s.closed.Load() {
		return
	}
	if listener := s.getListener(); listener != nil {
		_ = s.callbacks.do(func() { listener.OnBlobReady(key) })
	}
}
