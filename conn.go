package pgc

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/jackc/pgtype"

	"pgc/internal/cfg"
	"pgc/internal/pgproto"
)

// Conn is a single PostgreSQL connection speaking the simple query protocol.
// It is not safe for concurrent use: all operations on the connection, from
// startup through row streaming, are strictly sequential over one transport.
type Conn struct {
	conn              net.Conn          // the underlying TCP or unix domain socket connection
	pid               uint32            // backend pid
	secretKey         uint32            // key to use to send a cancel query message to the server
	parameterStatuses map[string]string // parameters that have been reported by the server
	txStatus          byte
	lastInsertID      int64
	frontend          *pgproto.Frontend
	connInfo          *pgtype.ConnInfo

	config *cfg.Config
	logger *slog.Logger

	status byte // One of status* constants

	// peekedMsg is the single shared message cursor. Only peekMessage writes
	// it; only receiveMessage clears it.
	peekedMsg pgproto.BackendMessage

	// Reused between queries to avoid an allocation per Exec.
	multiResultReader MultiResultReader
	resultReader      ResultReader
}

// peekMessage returns the next backend message without consuming it from the
// cursor.
func (c *Conn) peekMessage() (pgproto.BackendMessage, error) {
	if c.peekedMsg != nil {
		return c.peekedMsg, nil
	}

	msg, err := c.frontend.Receive()
	if err != nil {
		// Close on anything other than timeout error - everything else is fatal
		var netErr net.Error
		isNetErr := errors.As(err, &netErr)
		if !(isNetErr && netErr.Timeout()) {
			c.hardClose()
		}

		return nil, err
	}

	c.peekedMsg = msg
	return msg, nil
}

// receiveMessage consumes the next backend message and applies its
// connection-level side effects: runtime parameter reports, transaction
// status, fatal server errors and notices.
func (c *Conn) receiveMessage() (pgproto.BackendMessage, error) {
	msg, err := c.peekMessage()
	if err != nil {
		return nil, err
	}
	c.peekedMsg = nil

	switch msg := msg.(type) {
	case *pgproto.ReadyForQuery:
		c.txStatus = msg.TxStatus
	case *pgproto.ParameterStatus:
		c.parameterStatuses[msg.Name] = msg.Value
	case *pgproto.ErrorResponse:
		if msg.Severity == "FATAL" {
			c.hardClose()
			return nil, ErrorResponseToPgError(msg)
		}
	case *pgproto.NoticeResponse:
		// Notices are informational; log and move on.
		c.logger.Debug("notice received",
			slog.String("severity", msg.Severity),
			slog.String("message", msg.Message))
	case *pgproto.UnknownMessage:
		c.hardClose()
		return nil, protocolError(fmt.Sprintf("received a message of unknown type %q", msg.Tag))
	}

	return msg, nil
}

// recordCommandTag applies command tag side effects. An INSERT tag has the
// form "INSERT <oid> <rows>"; the oid of a single inserted row is retained as
// the last-insert id.
func (c *Conn) recordCommandTag(tag CommandTag) error {
	if !tag.Insert() {
		return nil
	}

	parts := strings.Fields(tag.String())
	if len(parts) != 3 {
		return protocolError(fmt.Sprintf("malformed INSERT command tag %q", tag.String()))
	}
	if parts[2] != "1" {
		return nil
	}

	oid, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return protocolError(fmt.Sprintf("malformed INSERT command tag %q", tag.String()))
	}

	c.lastInsertID = int64(oid)
	return nil
}

// hardClose tears the connection down without the Terminate handshake. Used
// when the protocol state is no longer trustworthy.
func (c *Conn) hardClose() {
	if c.status == statusClosed {
		return
	}
	c.status = statusClosed
	if c.conn != nil {
		c.conn.Close() // Ignore error as the connection is already broken and there is already an error to return.
	}
}

// Close performs an orderly shutdown: a Terminate message followed by closing
// the transport.
func (c *Conn) Close() error {
	if c.status == statusClosed {
		return nil
	}
	c.status = statusClosed

	// Best effort; the server closes its side on seeing Terminate anyway.
	_ = c.frontend.Send(&pgproto.Terminate{})
	return c.conn.Close()
}

// IsClosed reports whether the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.status == statusClosed
}

// Conn returns the underlying net.Conn.
func (c *Conn) Conn() net.Conn {
	return c.conn
}

// PID returns the backend PID.
func (c *Conn) PID() uint32 {
	return c.pid
}

// SecretKey returns the backend cancellation key for this session.
func (c *Conn) SecretKey() uint32 {
	return c.secretKey
}

// TxStatus returns the transaction status reported by the most recent
// ReadyForQuery message ('I' idle, 'T' in transaction, 'E' failed transaction).
func (c *Conn) TxStatus() byte {
	return c.txStatus
}

// ParameterStatus returns the last reported value of a server runtime
// parameter (e.g. server_version).
func (c *Conn) ParameterStatus(key string) string {
	return c.parameterStatuses[key]
}

// LastInsertID returns the oid reported by the most recent single-row INSERT.
func (c *Conn) LastInsertID() int64 {
	return c.lastInsertID
}

// ConnInfo returns the type mapping used to decode result values.
func (c *Conn) ConnInfo() *pgtype.ConnInfo {
	return c.connInfo
}
