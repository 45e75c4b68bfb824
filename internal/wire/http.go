package wire

// ListMessagesResponse is the HTTP GET /discussions/{id}/messages response body.
type ListMessagesResponse struct {
	// Messages is the snapshot message list, in server order.
	Messages []Message `json:"messages"`
}

// CreateMessageResponse is the HTTP POST /discussions/{id}/messages response body.
type CreateMessageResponse struct {
	// Message is the created message with its server-assigned id.
	Message Message `json:"message"`
}

// UpdateMessageRequest is the HTTP PUT /discussions/messages/{id} request body.
type UpdateMessageRequest struct {
	// Text is the replacement message body.
	Text string `json:"text"`
}

// UpdateMessageResponse is the HTTP PUT /discussions/messages/{id} response body.
type UpdateMessageResponse struct {
	// Message is the updated message.
	Message Message `json:"message"`
}

// Upload is a binary attachment included in a multipart message create.
//
// Any media compression happens before the engine sees the bytes.
type Upload struct {
	// Filename is the attachment filename as stored by the server.
	Filename string
	// Content is the raw attachment bytes.
	Content []byte
}

// MessageDraft is the client-side payload for a message create call.
type MessageDraft struct {
	// Text is the message body. May be empty when an attachment is present.
	Text string
	// LocalID is the client-generated idempotency key.
	LocalID string
	// Image is an optional image attachment.
	Image *Upload
	// Video is an optional video attachment.
	Video *Upload
}
