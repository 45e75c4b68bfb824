package wire

// Discussion is a named thread of messages.
type Discussion struct {
	// ID is the server-assigned discussion id.
	ID string `json:"id"`
	// Title is the discussion title.
	Title string `json:"title"`
	// Author is a reference to the discussion creator.
	Author string `json:"author,omitempty"`
	// CreatedAt is a wall-clock timestamp in milliseconds since epoch.
	CreatedAt int64 `json:"createdAt,omitempty"`
}

// Message is a single discussion entry.
//
// A message created locally has no ID until the server acknowledges it; the
// LocalID correlation token is how the eventual server echo is matched back to
// the optimistic entry.
type Message struct {
	// ID is the server-assigned message id. Empty for a pending message.
	ID string `json:"id,omitempty"`
	// Author is a reference to the message author.
	Author string `json:"author,omitempty"`
	// PostedAt is a wall-clock timestamp in milliseconds since epoch.
	PostedAt int64 `json:"postedAt"`
	// Text is the message body. May be empty when an attachment is present.
	Text string `json:"text,omitempty"`
	// ImageFile is the filename of an attached image, when present.
	ImageFile string `json:"imageFile,omitempty"`
	// VideoFile is the filename of an attached video, when present.
	VideoFile string `json:"videoFile,omitempty"`
	// LocalID is the client-generated idempotency key echoed back by the
	// server in message events.
	LocalID string `json:"localId,omitempty"`
}

// HasContent reports whether the message carries a body or an attachment.
func (m *Message) HasContent() bool {
	if m == nil {
		return false
	}
	return m.Text != "" || m.ImageFile != "" || m.VideoFile != ""
}
