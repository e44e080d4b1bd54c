package pgc

const (
	statusUninitialized byte = iota
	statusConnecting
	statusClosed
	statusIdle
	statusBusy
)

// PostgreSQL format codes
const (
	TextFormatCode   = 0
	BinaryFormatCode = 1
)
