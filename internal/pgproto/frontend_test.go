package pgproto

import (
	"bytes"
	"io"
	"testing"

	"github.com/jackc/chunkreader/v2"
	"github.com/jackc/pgproto3/v2"
	"github.com/stretchr/testify/require"
)

// frontendFor returns a Frontend reading from the given raw stream.
func frontendFor(stream []byte, w io.Writer) *Frontend {
	return NewFrontend(chunkreader.New(bytes.NewReader(stream)), w)
}

func TestReceiveDispatch(t *testing.T) {
	var stream []byte
	stream = (&pgproto3.ParameterStatus{Name: "server_version", Value: "14.2"}).Encode(stream)
	stream = (&pgproto3.BackendKeyData{ProcessID: 42, SecretKey: 87}).Encode(stream)
	stream = (&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{
		{Name: []byte("n"), DataTypeOID: 23, DataTypeSize: 4, TypeModifier: -1},
	}}).Encode(stream)
	stream = (&pgproto3.DataRow{Values: [][]byte{[]byte("7"), nil}}).Encode(stream)
	stream = (&pgproto3.CommandComplete{CommandTag: []byte("SELECT 1")}).Encode(stream)
	stream = (&pgproto3.ReadyForQuery{TxStatus: 'I'}).Encode(stream)

	f := frontendFor(stream, io.Discard)

	msg, err := f.Receive()
	require.NoError(t, err)
	ps, ok := msg.(*ParameterStatus)
	require.True(t, ok)
	require.Equal(t, "server_version", ps.Name)
	require.Equal(t, "14.2", ps.Value)

	msg, err = f.Receive()
	require.NoError(t, err)
	bkd, ok := msg.(*BackendKeyData)
	require.True(t, ok)
	require.Equal(t, uint32(42), bkd.ProcessID)
	require.Equal(t, uint32(87), bkd.SecretKey)

	msg, err = f.Receive()
	require.NoError(t, err)
	rd, ok := msg.(*RowDescription)
	require.True(t, ok)
	require.Len(t, rd.Fields, 1)
	require.Equal(t, []byte("n"), rd.Fields[0].Name)
	require.Equal(t, uint32(23), rd.Fields[0].DataTypeOID)
	require.Equal(t, int32(-1), rd.Fields[0].TypeModifier)

	msg, err = f.Receive()
	require.NoError(t, err)
	dr, ok := msg.(*DataRow)
	require.True(t, ok)
	require.Len(t, dr.Values, 2)
	require.Equal(t, []byte("7"), dr.Values[0])
	require.Nil(t, dr.Values[1])

	msg, err = f.Receive()
	require.NoError(t, err)
	cc, ok := msg.(*CommandComplete)
	require.True(t, ok)
	require.Equal(t, []byte("SELECT 1"), cc.CommandTag)

	msg, err = f.Receive()
	require.NoError(t, err)
	rfq, ok := msg.(*ReadyForQuery)
	require.True(t, ok)
	require.Equal(t, byte('I'), rfq.TxStatus)
}

func TestReceiveAuthVariants(t *testing.T) {
	var stream []byte
	stream = (&pgproto3.AuthenticationCleartextPassword{}).Encode(stream)
	stream = (&pgproto3.AuthenticationMD5Password{Salt: [4]byte{1, 2, 3, 4}}).Encode(stream)
	stream = (&pgproto3.AuthenticationSASL{AuthMechanisms: []string{"SCRAM-SHA-256", "SCRAM-SHA-256-PLUS"}}).Encode(stream)
	stream = (&pgproto3.AuthenticationSASLContinue{Data: []byte("r=abc,s=c2FsdA==,i=4096")}).Encode(stream)
	stream = (&pgproto3.AuthenticationSASLFinal{Data: []byte("v=sig")}).Encode(stream)
	stream = (&pgproto3.AuthenticationOk{}).Encode(stream)

	f := frontendFor(stream, io.Discard)

	msg, err := f.Receive()
	require.NoError(t, err)
	require.IsType(t, &AuthenticationCleartextPassword{}, msg)

	msg, err = f.Receive()
	require.NoError(t, err)
	md5, ok := msg.(*AuthenticationMD5Password)
	require.True(t, ok)
	require.Equal(t, [4]byte{1, 2, 3, 4}, md5.Salt)

	msg, err = f.Receive()
	require.NoError(t, err)
	sasl, ok := msg.(*AuthenticationSASL)
	require.True(t, ok)
	require.Equal(t, []string{"SCRAM-SHA-256", "SCRAM-SHA-256-PLUS"}, sasl.AuthMechanisms)

	msg, err = f.Receive()
	require.NoError(t, err)
	cont, ok := msg.(*AuthenticationSASLContinue)
	require.True(t, ok)
	require.Equal(t, []byte("r=abc,s=c2FsdA==,i=4096"), cont.Data)

	msg, err = f.Receive()
	require.NoError(t, err)
	fin, ok := msg.(*AuthenticationSASLFinal)
	require.True(t, ok)
	require.Equal(t, []byte("v=sig"), fin.Data)

	msg, err = f.Receive()
	require.NoError(t, err)
	require.IsType(t, &AuthenticationOk{}, msg)
}

func TestReceiveErrorResponse(t *testing.T) {
	stream := (&pgproto3.ErrorResponse{
		Severity: "ERROR",
		Code:     "42P01",
		Message:  `relation "missing" does not exist`,
	}).Encode(nil)

	f := frontendFor(stream, io.Discard)

	msg, err := f.Receive()
	require.NoError(t, err)
	er, ok := msg.(*ErrorResponse)
	require.True(t, ok)
	require.Equal(t, "ERROR", er.Severity)
	require.Equal(t, "42P01", er.Code)
	require.Equal(t, `relation "missing" does not exist`, er.Message)
}

func TestReceiveUnknownTag(t *testing.T) {
	// Tag '!' is not part of the protocol. The frame still decodes so the
	// caller can decide how to react.
	stream := []byte{'!', 0, 0, 0, 8, 0xde, 0xad, 0xbe, 0xef}

	f := frontendFor(stream, io.Discard)

	msg, err := f.Receive()
	require.NoError(t, err)
	um, ok := msg.(*UnknownMessage)
	require.True(t, ok)
	require.Equal(t, byte('!'), um.Tag)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, um.Body)
}

func TestReceiveNegativeLength(t *testing.T) {
	stream := []byte{'Z', 0, 0, 0, 2}

	f := frontendFor(stream, io.Discard)

	_, err := f.Receive()
	require.EqualError(t, err, "invalid message length")
}

func TestSendEncodesFrames(t *testing.T) {
	buf := &bytes.Buffer{}
	f := NewFrontend(chunkreader.New(bytes.NewReader(nil)), buf)

	require.NoError(t, f.Send(&StartupMessage{
		ProtocolVersion: ProtocolVersionNumber,
		Parameters:      map[string]string{"user": "jack", "database": "mydb"},
	}))
	require.NoError(t, f.Send(&Query{String: "select 1"}))
	require.NoError(t, f.Send(&PasswordMessage{Password: "secret"}))
	require.NoError(t, f.Send(&Terminate{}))

	// Decode with an independent implementation of the backend side.
	backend := pgproto3.NewBackend(pgproto3.NewChunkReader(bytes.NewReader(buf.Bytes())), io.Discard)

	startup, err := backend.ReceiveStartupMessage()
	require.NoError(t, err)
	sm, ok := startup.(*pgproto3.StartupMessage)
	require.True(t, ok)
	require.Equal(t, uint32(ProtocolVersionNumber), sm.ProtocolVersion)
	require.Equal(t, map[string]string{"user": "jack", "database": "mydb"}, sm.Parameters)

	msg, err := backend.Receive()
	require.NoError(t, err)
	q, ok := msg.(*pgproto3.Query)
	require.True(t, ok)
	require.Equal(t, "select 1", q.String)

	msg, err = backend.Receive()
	require.NoError(t, err)
	pw, ok := msg.(*pgproto3.PasswordMessage)
	require.True(t, ok)
	require.Equal(t, "secret", pw.Password)

	msg, err = backend.Receive()
	require.NoError(t, err)
	require.IsType(t, &pgproto3.Terminate{}, msg)
}

func TestSendSASLMessages(t *testing.T) {
	buf := &bytes.Buffer{}
	f := NewFrontend(chunkreader.New(bytes.NewReader(nil)), buf)

	require.NoError(t, f.Send(&SASLInitialResponse{
		AuthMechanism: "SCRAM-SHA-256",
		Data:          []byte("n,,n=jack,r=nonce"),
	}))
	require.NoError(t, f.Send(&SASLResponse{Data: []byte("c=biws,r=nonce,p=proof")}))

	backend := pgproto3.NewBackend(pgproto3.NewChunkReader(bytes.NewReader(buf.Bytes())), io.Discard)
	require.NoError(t, backend.SetAuthType(pgproto3.AuthTypeSASL))

	msg, err := backend.Receive()
	require.NoError(t, err)
	init, ok := msg.(*pgproto3.SASLInitialResponse)
	require.True(t, ok)
	require.Equal(t, "SCRAM-SHA-256", init.AuthMechanism)
	require.Equal(t, []byte("n,,n=jack,r=nonce"), init.Data)

	require.NoError(t, backend.SetAuthType(pgproto3.AuthTypeSASLContinue))
	msg, err = backend.Receive()
	require.NoError(t, err)
	resp, ok := msg.(*pgproto3.SASLResponse)
	require.True(t, ok)
	require.Equal(t, []byte("c=biws,r=nonce,p=proof"), resp.Data)
}
