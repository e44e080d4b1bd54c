/*
 * Copyright (c) 2021-2022 UNNG Lab.
 */

package pgc

import (
	"errors"

	"pgc/internal/pgproto"
)

// Exec executes sql via the simple query protocol. sql may contain multiple
// statements separated by semicolons; each produces one result in the
// returned MultiResultReader. The statements run as an implicit transaction
// unless explicit transaction control statements are included.
//
// Only one query may be in flight at a time. Calling Exec while a previous
// MultiResultReader is still open drains and closes it first.
func (c *Conn) Exec(sql string) (*MultiResultReader, error) {
	switch c.status {
	case statusClosed, statusUninitialized, statusConnecting:
		return nil, &connLockError{status: "conn closed"}
	case statusBusy:
		// The previous reader was abandoned. Drain its remaining messages so
		// the stream is positioned at the start of the new query's results.
		c.multiResultReader.Close()
		if c.status != statusIdle {
			return nil, &connLockError{status: "conn busy"}
		}
	}

	c.status = statusBusy
	c.multiResultReader = MultiResultReader{conn: c}

	err := c.frontend.Send(&pgproto.Query{String: sql})
	if err != nil {
		c.hardClose()
		return nil, &writeError{err: err, safeToRetry: true}
	}

	return &c.multiResultReader, nil
}

// MultiResultReader streams the results of a simple query, one per SQL
// statement.
type MultiResultReader struct {
	conn *Conn

	rr *ResultReader

	closed bool
	err    error
}

// receiveMessage consumes one backend message on behalf of the reader and
// tracks end-of-query and error state.
func (mrr *MultiResultReader) receiveMessage() (pgproto.BackendMessage, error) {
	msg, err := mrr.conn.receiveMessage()
	if err != nil {
		mrr.closed = true
		if mrr.err == nil {
			mrr.err = err
		}
		return nil, mrr.err
	}

	switch msg := msg.(type) {
	case *pgproto.ReadyForQuery:
		mrr.closed = true
		mrr.conn.status = statusIdle
	case *pgproto.ErrorResponse:
		if mrr.err == nil {
			mrr.err = ErrorResponseToPgError(msg)
		}
	}

	return msg, nil
}

// NextResult advances to the next statement's result. It returns true when a
// result is available via ResultReader. A statement that failed server-side
// does not produce a result; its error is reported by Close.
func (mrr *MultiResultReader) NextResult() bool {
	for !mrr.closed {
		msg, err := mrr.receiveMessage()
		if err != nil {
			return false
		}

		switch msg := msg.(type) {
		case *pgproto.RowDescription:
			mrr.conn.resultReader = ResultReader{
				conn:              mrr.conn,
				multiResultReader: mrr,
				fieldDescriptions: copyFieldDescriptions(msg.Fields),
			}
			mrr.rr = &mrr.conn.resultReader
			return true
		case *pgproto.CommandComplete:
			tag := CommandTag(msg.CommandTag)
			mrr.conn.resultReader = ResultReader{
				conn:              mrr.conn,
				multiResultReader: mrr,
				commandTag:        tag,
				commandConcluded:  true,
				closed:            true,
			}
			if err := mrr.conn.recordCommandTag(tag); err != nil {
				mrr.conn.hardClose()
				mrr.closed = true
				if mrr.err == nil {
					mrr.err = err
				}
				return false
			}
			mrr.rr = &mrr.conn.resultReader
			return true
		case *pgproto.EmptyQueryResponse:
			mrr.conn.resultReader = ResultReader{
				conn:              mrr.conn,
				multiResultReader: mrr,
				commandConcluded:  true,
				closed:            true,
			}
			mrr.rr = &mrr.conn.resultReader
			return true
		}
	}

	return false
}

// ResultReader returns the reader for the result NextResult advanced to.
func (mrr *MultiResultReader) ResultReader() *ResultReader {
	return mrr.rr
}

// ReadAll reads all remaining results into memory.
func (mrr *MultiResultReader) ReadAll() ([]*Result, error) {
	var results []*Result

	for mrr.NextResult() {
		results = append(results, mrr.ResultReader().Read())
	}
	err := mrr.Close()

	return results, err
}

// Close drains any unread results and returns the first error encountered
// during the query.
func (mrr *MultiResultReader) Close() error {
	for !mrr.closed {
		_, err := mrr.receiveMessage()
		if err != nil {
			return mrr.err
		}
	}

	return mrr.err
}

// ResultReader streams the rows of a single statement's result.
type ResultReader struct {
	conn              *Conn
	multiResultReader *MultiResultReader

	fieldDescriptions []pgproto.FieldDescription
	rowValues         [][]byte
	commandTag        CommandTag
	commandConcluded  bool
	closed            bool
	err               error
}

// Result is the saved query response that is returned by calling Read on a
// ResultReader.
type Result struct {
	FieldDescriptions []pgproto.FieldDescription
	Rows              [][][]byte
	CommandTag        CommandTag
	Err               error

	conn *Conn
}

// Read saves the entire result set to memory.
func (rr *ResultReader) Read() *Result {
	res := &Result{conn: rr.conn}

	for rr.NextRow() {
		if res.FieldDescriptions == nil {
			res.FieldDescriptions = rr.FieldDescriptions()
		}

		row := make([][]byte, len(rr.Values()))
		copy(row, rr.Values())
		res.Rows = append(res.Rows, row)
	}

	res.CommandTag, res.Err = rr.Close()

	return res
}

// NextRow advances to the next row. It returns false when no more rows are
// available for this statement.
func (rr *ResultReader) NextRow() bool {
	for !rr.commandConcluded {
		msg, err := rr.receiveMessage()
		if err != nil {
			return false
		}

		if msg, ok := msg.(*pgproto.DataRow); ok {
			rr.rowValues = msg.Values
			return true
		}
	}

	return false
}

// FieldDescriptions returns the field descriptions for the current result
// set. The returned slice is valid until the next Exec on the connection.
func (rr *ResultReader) FieldDescriptions() []pgproto.FieldDescription {
	return rr.fieldDescriptions
}

// Values returns the current row's raw values. The returned [][]byte is only
// valid until the next NextRow call or the Close method is called. It is
// aliased to the read buffer and will be overwritten.
func (rr *ResultReader) Values() [][]byte {
	return rr.rowValues
}

// Close consumes the rest of the result and returns its command tag and the
// first error the statement produced, if any.
func (rr *ResultReader) Close() (CommandTag, error) {
	if rr.closed {
		return rr.commandTag, rr.err
	}
	rr.closed = true

	for !rr.commandConcluded {
		_, err := rr.receiveMessage()
		if err != nil {
			return rr.commandTag, rr.err
		}
	}

	return rr.commandTag, rr.err
}

// receiveMessage consumes one backend message on behalf of the row stream. A
// RowDescription here means the next statement's result has begun; it is left
// unconsumed for the MultiResultReader.
func (rr *ResultReader) receiveMessage() (pgproto.BackendMessage, error) {
	msg, err := rr.conn.peekMessage()
	if err != nil {
		rr.concludeCommand(CommandTag{}, err)
		rr.closed = true
		if rr.multiResultReader != nil {
			rr.multiResultReader.closed = true
			if rr.multiResultReader.err == nil {
				rr.multiResultReader.err = err
			}
		}
		return nil, rr.err
	}

	if _, ok := msg.(*pgproto.RowDescription); ok {
		rr.concludeCommand(rr.commandTag, nil)
		return msg, nil
	}

	msg, err = rr.conn.receiveMessage()
	if err != nil {
		rr.concludeCommand(CommandTag{}, err)
		rr.closed = true
		if rr.multiResultReader != nil {
			rr.multiResultReader.closed = true
			if rr.multiResultReader.err == nil {
				rr.multiResultReader.err = err
			}
		}
		return nil, rr.err
	}

	switch msg := msg.(type) {
	case *pgproto.CommandComplete:
		tag := CommandTag(msg.CommandTag)
		rr.concludeCommand(tag, nil)
		if err := rr.conn.recordCommandTag(tag); err != nil {
			rr.conn.hardClose()
			rr.concludeCommand(tag, err)
			if rr.multiResultReader != nil {
				rr.multiResultReader.closed = true
				if rr.multiResultReader.err == nil {
					rr.multiResultReader.err = err
				}
			}
			return nil, err
		}
	case *pgproto.EmptyQueryResponse:
		rr.concludeCommand(CommandTag{}, nil)
	case *pgproto.ErrorResponse:
		rr.concludeCommand(CommandTag{}, ErrorResponseToPgError(msg))
	case *pgproto.ReadyForQuery:
		// The command never concluded; the stream ended underneath us.
		rr.concludeCommand(CommandTag{}, errors.New("unexpected ReadyForQuery"))
		rr.closed = true
		if rr.multiResultReader != nil {
			rr.multiResultReader.closed = true
			rr.multiResultReader.conn.status = statusIdle
		}
	}

	return msg, nil
}

// concludeCommand records the end of a statement. The first error wins;
// subsequent calls only fill in a missing command tag.
func (rr *ResultReader) concludeCommand(commandTag CommandTag, err error) {
	if err != nil && rr.err == nil {
		rr.err = err
	}

	if rr.commandConcluded {
		return
	}

	rr.commandTag = commandTag
	rr.rowValues = nil
	rr.commandConcluded = true
}

func copyFieldDescriptions(src []pgproto.FieldDescription) []pgproto.FieldDescription {
	dst := make([]pgproto.FieldDescription, len(src))
	copy(dst, src)
	for i := range dst {
		name := make([]byte, len(src[i].Name))
		copy(name, src[i].Name)
		dst[i].Name = name
	}
	return dst
}
