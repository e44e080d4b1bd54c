package pgproto

// ProtocolVersionNumber is the protocol version (3.0) sent in the startup message.
const ProtocolVersionNumber = 196608 // 3 << 16 | 0

// BackendMessage is a message sent by the backend (i.e. the server).
type BackendMessage interface {
	Backend()

	// Decode parses the message body. Decode is allowed and expected to retain
	// references into data after returning.
	Decode(data []byte) error
}

// FrontendMessage is a message sent by the frontend (i.e. the client).
type FrontendMessage interface {
	Frontend()

	// Encode appends the wire representation of the message to dst and returns
	// the extended buffer.
	Encode(dst []byte) []byte
}
