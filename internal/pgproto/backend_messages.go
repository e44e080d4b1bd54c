package pgproto

import (
	"strconv"
)

// ParameterStatus reports the current value of a server runtime parameter.
type ParameterStatus struct {
	Name  string
	Value string
}

func (*ParameterStatus) Backend() {}

func (dst *ParameterStatus) Decode(data []byte) error {
	rd := Reader{Msg: data}

	name, err := rd.GetString()
	if err != nil {
		return err
	}

	value, err := rd.GetString()
	if err != nil {
		return err
	}

	*dst = ParameterStatus{Name: name, Value: value}
	return nil
}

// BackendKeyData carries the cancellation key for this session.
type BackendKeyData struct {
	ProcessID uint32
	SecretKey uint32
}

func (*BackendKeyData) Backend() {}

func (dst *BackendKeyData) Decode(data []byte) error {
	rd := Reader{Msg: data}

	pid, err := rd.GetUint32()
	if err != nil {
		return err
	}

	key, err := rd.GetUint32()
	if err != nil {
		return err
	}

	*dst = BackendKeyData{ProcessID: pid, SecretKey: key}
	return nil
}

// ReadyForQuery marks the server's return to an idle, command-accepting state.
type ReadyForQuery struct {
	TxStatus byte
}

func (*ReadyForQuery) Backend() {}

func (dst *ReadyForQuery) Decode(data []byte) error {
	rd := Reader{Msg: data}

	status, err := rd.GetByte()
	if err != nil {
		return err
	}

	dst.TxStatus = status
	return nil
}

// FieldDescription describes one column of an upcoming row-set.
type FieldDescription struct {
	Name                 []byte
	TableOID             uint32
	TableAttributeNumber uint16
	DataTypeOID          uint32
	DataTypeSize         int16
	TypeModifier         int32
	Format               int16
}

// RowDescription describes the columns of an upcoming row-set.
type RowDescription struct {
	Fields []FieldDescription
}

func (*RowDescription) Backend() {}

func (dst *RowDescription) Decode(data []byte) error {
	rd := Reader{Msg: data}

	fieldCount, err := rd.GetUint16()
	if err != nil {
		return err
	}

	dst.Fields = dst.Fields[:0]
	for i := 0; i < int(fieldCount); i++ {
		var fd FieldDescription

		name, err := rd.GetString()
		if err != nil {
			return err
		}
		fd.Name = []byte(name)

		if fd.TableOID, err = rd.GetUint32(); err != nil {
			return err
		}
		if fd.TableAttributeNumber, err = rd.GetUint16(); err != nil {
			return err
		}
		if fd.DataTypeOID, err = rd.GetUint32(); err != nil {
			return err
		}
		if fd.DataTypeSize, err = rd.GetInt16(); err != nil {
			return err
		}
		if fd.TypeModifier, err = rd.GetInt32(); err != nil {
			return err
		}
		if fd.Format, err = rd.GetInt16(); err != nil {
			return err
		}

		dst.Fields = append(dst.Fields, fd)
	}

	return nil
}

// DataRow is one row of a result: per-column raw byte values, nil for NULL.
// Values alias the receive buffer and are only valid until the next message is
// received.
type DataRow struct {
	Values [][]byte
}

func (*DataRow) Backend() {}

func (dst *DataRow) Decode(data []byte) error {
	rd := Reader{Msg: data}

	fieldCount, err := rd.GetUint16()
	if err != nil {
		return err
	}

	if cap(dst.Values) < int(fieldCount) {
		dst.Values = make([][]byte, fieldCount)
	} else {
		dst.Values = dst.Values[:fieldCount]
	}

	for i := 0; i < int(fieldCount); i++ {
		valueLen, err := rd.GetInt32()
		if err != nil {
			return err
		}

		dst.Values[i], err = rd.GetBytes(int(valueLen))
		if err != nil {
			return err
		}
	}

	return nil
}

// CommandComplete reports a completed SQL command and its tag.
type CommandComplete struct {
	CommandTag []byte
}

func (*CommandComplete) Backend() {}

func (dst *CommandComplete) Decode(data []byte) error {
	rd := Reader{Msg: data}

	tag, err := rd.GetString()
	if err != nil {
		return err
	}

	dst.CommandTag = []byte(tag)
	return nil
}

// EmptyQueryResponse substitutes for CommandComplete when the query string was
// empty.
type EmptyQueryResponse struct{}

func (*EmptyQueryResponse) Backend() {}

func (dst *EmptyQueryResponse) Decode(data []byte) error {
	return nil
}

// ErrorResponse is an error reported by the server. See
// https://www.postgresql.org/docs/current/protocol-error-fields.html.
type ErrorResponse struct {
	Severity         string
	Code             string
	Message          string
	Detail           string
	Hint             string
	Position         int32
	InternalPosition int32
	InternalQuery    string
	Where            string
	SchemaName       string
	TableName        string
	ColumnName       string
	DataTypeName     string
	ConstraintName   string
	File             string
	Line             int32
	Routine          string
}

func (*ErrorResponse) Backend() {}

func (dst *ErrorResponse) Decode(data []byte) error {
	*dst = ErrorResponse{}
	return dst.decodeFields(data)
}

func (dst *ErrorResponse) decodeFields(data []byte) error {
	rd := Reader{Msg: data}

	for {
		fieldType, err := rd.GetByte()
		if err != nil {
			return err
		}
		if fieldType == 0 {
			return nil
		}

		value, err := rd.GetString()
		if err != nil {
			return err
		}

		switch fieldType {
		case 'S':
			dst.Severity = value
		case 'C':
			dst.Code = value
		case 'M':
			dst.Message = value
		case 'D':
			dst.Detail = value
		case 'H':
			dst.Hint = value
		case 'P':
			n, _ := strconv.ParseInt(value, 10, 32)
			dst.Position = int32(n)
		case 'p':
			n, _ := strconv.ParseInt(value, 10, 32)
			dst.InternalPosition = int32(n)
		case 'q':
			dst.InternalQuery = value
		case 'W':
			dst.Where = value
		case 's':
			dst.SchemaName = value
		case 't':
			dst.TableName = value
		case 'c':
			dst.ColumnName = value
		case 'd':
			dst.DataTypeName = value
		case 'n':
			dst.ConstraintName = value
		case 'F':
			dst.File = value
		case 'L':
			n, _ := strconv.ParseInt(value, 10, 32)
			dst.Line = int32(n)
		case 'R':
			dst.Routine = value
		}
	}
}

// NoticeResponse is an informational message from the server. It shares the
// field layout of ErrorResponse.
type NoticeResponse ErrorResponse

func (*NoticeResponse) Backend() {}

func (dst *NoticeResponse) Decode(data []byte) error {
	*dst = NoticeResponse{}
	return (*ErrorResponse)(dst).decodeFields(data)
}

// UnknownMessage is a backend message with a tag this package does not
// recognize. The body is retained so callers can decide whether to fail.
type UnknownMessage struct {
	Tag  byte
	Body []byte
}

func (*UnknownMessage) Backend() {}

func (dst *UnknownMessage) Decode(data []byte) error {
	dst.Body = data
	return nil
}
