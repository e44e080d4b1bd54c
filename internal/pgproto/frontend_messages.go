package pgproto

// StartupMessage opens a session. It is the only message without a tag byte.
type StartupMessage struct {
	ProtocolVersion uint32
	Parameters      map[string]string
}

func (*StartupMessage) Frontend() {}

func (src *StartupMessage) Encode(dst []byte) []byte {
	w := NewWriter(dst)
	w.StartUntyped()
	w.AddUint32(src.ProtocolVersion)
	w.AddCStringPairs(src.Parameters)
	return w.Finish()
}

// PasswordMessage answers a cleartext or MD5 password challenge.
type PasswordMessage struct {
	Password string
}

func (*PasswordMessage) Frontend() {}

func (src *PasswordMessage) Encode(dst []byte) []byte {
	w := NewWriter(dst)
	w.Start('p')
	w.AddCString(src.Password)
	return w.Finish()
}

// SASLInitialResponse names the selected SASL mechanism and carries the
// client-first-message.
type SASLInitialResponse struct {
	AuthMechanism string
	Data          []byte
}

func (*SASLInitialResponse) Frontend() {}

func (src *SASLInitialResponse) Encode(dst []byte) []byte {
	w := NewWriter(dst)
	w.Start('p')
	w.AddCString(src.AuthMechanism)
	w.AddInt32(int32(len(src.Data)))
	w.AddBytes(src.Data)
	return w.Finish()
}

// SASLResponse carries a continuation message of a SASL exchange.
type SASLResponse struct {
	Data []byte
}

func (*SASLResponse) Frontend() {}

func (src *SASLResponse) Encode(dst []byte) []byte {
	w := NewWriter(dst)
	w.Start('p')
	w.AddBytes(src.Data)
	return w.Finish()
}

// Query submits a simple-query protocol request.
type Query struct {
	String string
}

func (*Query) Frontend() {}

func (src *Query) Encode(dst []byte) []byte {
	w := NewWriter(dst)
	w.Start('Q')
	w.AddCString(src.String)
	return w.Finish()
}

// Terminate announces an orderly connection shutdown.
type Terminate struct{}

func (*Terminate) Frontend() {}

func (src *Terminate) Encode(dst []byte) []byte {
	w := NewWriter(dst)
	w.Start('X')
	return w.Finish()
}
