package session

const (
	// MessageCmd carries one envelope. Called by a guest, it is a request
	// and the reply carries the response envelope. Sent by the host, it is
	// a notification.
	MessageCmd = `$/lspbridge/message`
	// CancelCmd tells the host that the guest gave up on a request.
	CancelCmd = `$/lspbridge/cancel`
)

// Frame wraps an encoded proto.Envelope.
type Frame struct {
	Payload []byte `json:"payload"`
}

type Cancel struct {
	// ID is the envelope ID of the request to cancel.
	ID uint32 `json:"id"`
}
