package pgproto

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/jackc/chunkreader/v2"
)

// Frontend acts as a client for the PostgreSQL wire protocol version 3. It
// reads backend messages from cr and writes frontend messages to w.
type Frontend struct {
	cr *chunkreader.ChunkReader
	w  io.Writer

	// Entire backend message catalog preallocated. Receive returns pointers
	// into this set, so a returned message is only valid until the next call.
	authenticationOk                AuthenticationOk
	authenticationCleartextPassword AuthenticationCleartextPassword
	authenticationMD5Password       AuthenticationMD5Password
	authenticationSASL              AuthenticationSASL
	authenticationSASLContinue      AuthenticationSASLContinue
	authenticationSASLFinal         AuthenticationSASLFinal
	backendKeyData                  BackendKeyData
	commandComplete                 CommandComplete
	dataRow                         DataRow
	emptyQueryResponse              EmptyQueryResponse
	errorResponse                   ErrorResponse
	noticeResponse                  NoticeResponse
	parameterStatus                 ParameterStatus
	readyForQuery                   ReadyForQuery
	rowDescription                  RowDescription
	unknown                         UnknownMessage

	bodyLen    int
	msgType    byte
	partialMsg bool
}

// NewFrontend creates a Frontend from cr and w.
func NewFrontend(cr *chunkreader.ChunkReader, w io.Writer) *Frontend {
	return &Frontend{cr: cr, w: w}
}

// Send encodes and writes one frontend message.
func (f *Frontend) Send(msg FrontendMessage) error {
	_, err := f.w.Write(msg.Encode(nil))
	return err
}

// Receive blocks until one complete frame (tag byte, big-endian length
// including itself, body) is available and returns the decoded backend
// message. An unrecognized tag yields *UnknownMessage, not an error.
func (f *Frontend) Receive() (BackendMessage, error) {
	if !f.partialMsg {
		header, err := f.cr.Next(5)
		if err != nil {
			return nil, err
		}

		f.msgType = header[0]
		f.bodyLen = int(binary.BigEndian.Uint32(header[1:])) - 4
		if f.bodyLen < 0 {
			return nil, errors.New("invalid message length")
		}
		f.partialMsg = true
	}

	msgBody, err := f.cr.Next(f.bodyLen)
	if err != nil {
		return nil, err
	}
	f.partialMsg = false

	var msg BackendMessage
	switch f.msgType {
	case 'R':
		msg, err = f.authMessageFor(msgBody)
		if err != nil {
			return nil, err
		}
	case 'S':
		msg = &f.parameterStatus
	case 'K':
		msg = &f.backendKeyData
	case 'Z':
		msg = &f.readyForQuery
	case 'T':
		msg = &f.rowDescription
	case 'D':
		msg = &f.dataRow
	case 'C':
		msg = &f.commandComplete
	case 'I':
		msg = &f.emptyQueryResponse
	case 'E':
		msg = &f.errorResponse
	case 'N':
		msg = &f.noticeResponse
	default:
		f.unknown.Tag = f.msgType
		msg = &f.unknown
	}

	err = msg.Decode(msgBody)
	if err != nil {
		return nil, err
	}

	return msg, nil
}

// authMessageFor inspects the authentication sub-code in the body of an 'R'
// message and selects the matching variant.
func (f *Frontend) authMessageFor(body []byte) (BackendMessage, error) {
	if len(body) < 4 {
		return nil, newInsufficientData(len(body))
	}

	switch binary.BigEndian.Uint32(body[:4]) {
	case authTypeOk:
		return &f.authenticationOk, nil
	case authTypeCleartextPassword:
		return &f.authenticationCleartextPassword, nil
	case authTypeMD5Password:
		return &f.authenticationMD5Password, nil
	case authTypeSASL:
		return &f.authenticationSASL, nil
	case authTypeSASLContinue:
		return &f.authenticationSASLContinue, nil
	case authTypeSASLFinal:
		return &f.authenticationSASLFinal, nil
	default:
		f.unknown.Tag = f.msgType
		return &f.unknown, nil
	}
}
