/*
 * Copyright (c) 2021-2022 UNNG Lab.
 */

package pgc

import (
	"fmt"
	"testing"

	"github.com/jackc/pgproto3/v2"
	"github.com/stretchr/testify/require"
)

func expectQuery(backend *pgproto3.Backend, sql string) error {
	msg, err := backend.Receive()
	if err != nil {
		return err
	}
	q, ok := msg.(*pgproto3.Query)
	if !ok {
		return fmt.Errorf("expected Query, got %T", msg)
	}
	if q.String != sql {
		return fmt.Errorf("unexpected query %q", q.String)
	}
	return nil
}

func sendMessages(backend *pgproto3.Backend, msgs ...pgproto3.BackendMessage) error {
	for _, msg := range msgs {
		if err := backend.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

func intTextColumn(name string) pgproto3.FieldDescription {
	return pgproto3.FieldDescription{Name: []byte(name), DataTypeOID: 23, DataTypeSize: 4, TypeModifier: -1}
}

func textColumn(name string) pgproto3.FieldDescription {
	return pgproto3.FieldDescription{Name: []byte(name), DataTypeOID: 25, DataTypeSize: -1, TypeModifier: -1}
}

func TestExecSelect(t *testing.T) {
	config := startMockServer(t, func(backend *pgproto3.Backend) error {
		if err := trustAuth(backend); err != nil {
			return err
		}
		if err := expectQuery(backend, "select n, s from t"); err != nil {
			return err
		}
		return sendMessages(backend,
			&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{intTextColumn("n"), textColumn("s")}},
			&pgproto3.DataRow{Values: [][]byte{[]byte("1"), []byte("foo")}},
			&pgproto3.DataRow{Values: [][]byte{[]byte("2"), nil}},
			&pgproto3.CommandComplete{CommandTag: []byte("SELECT 2")},
			&pgproto3.ReadyForQuery{TxStatus: 'I'},
		)
	})

	conn, err := ConnectConfig(config)
	require.NoError(t, err)

	mrr, err := conn.Exec("select n, s from t")
	require.NoError(t, err)

	results, err := mrr.ReadAll()
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	require.NoError(t, res.Err)
	require.Len(t, res.FieldDescriptions, 2)
	require.Equal(t, "n", string(res.FieldDescriptions[0].Name))
	require.Equal(t, "s", string(res.FieldDescriptions[1].Name))
	require.Equal(t, [][][]byte{
		{[]byte("1"), []byte("foo")},
		{[]byte("2"), nil},
	}, res.Rows)
	require.Equal(t, "SELECT 2", res.CommandTag.String())
	require.True(t, res.CommandTag.Select())
	require.EqualValues(t, 2, res.CommandTag.RowsAffected())

	require.Equal(t, byte('I'), conn.TxStatus())
	require.False(t, conn.IsClosed())
	conn.Close()
}

func TestExecMultipleStatements(t *testing.T) {
	config := startMockServer(t, func(backend *pgproto3.Backend) error {
		if err := trustAuth(backend); err != nil {
			return err
		}
		if err := expectQuery(backend, "select 1; select 2"); err != nil {
			return err
		}
		return sendMessages(backend,
			&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{intTextColumn("a")}},
			&pgproto3.DataRow{Values: [][]byte{[]byte("1")}},
			&pgproto3.CommandComplete{CommandTag: []byte("SELECT 1")},
			&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{intTextColumn("b")}},
			&pgproto3.DataRow{Values: [][]byte{[]byte("2")}},
			&pgproto3.CommandComplete{CommandTag: []byte("SELECT 1")},
			&pgproto3.ReadyForQuery{TxStatus: 'I'},
		)
	})

	conn, err := ConnectConfig(config)
	require.NoError(t, err)

	mrr, err := conn.Exec("select 1; select 2")
	require.NoError(t, err)

	results, err := mrr.ReadAll()
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Equal(t, "a", string(results[0].FieldDescriptions[0].Name))
	require.Equal(t, [][][]byte{{[]byte("1")}}, results[0].Rows)
	require.Equal(t, "b", string(results[1].FieldDescriptions[0].Name))
	require.Equal(t, [][][]byte{{[]byte("2")}}, results[1].Rows)
	conn.Close()
}

func TestExecEmptyQuery(t *testing.T) {
	config := startMockServer(t, func(backend *pgproto3.Backend) error {
		if err := trustAuth(backend); err != nil {
			return err
		}
		if err := expectQuery(backend, ";"); err != nil {
			return err
		}
		return sendMessages(backend,
			&pgproto3.EmptyQueryResponse{},
			&pgproto3.ReadyForQuery{TxStatus: 'I'},
		)
	})

	conn, err := ConnectConfig(config)
	require.NoError(t, err)

	mrr, err := conn.Exec(";")
	require.NoError(t, err)

	results, err := mrr.ReadAll()
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.Empty(t, results[0].Rows)
	require.Equal(t, "", results[0].CommandTag.String())
	require.False(t, conn.IsClosed())
	conn.Close()
}

func TestExecSyntaxError(t *testing.T) {
	config := startMockServer(t, func(backend *pgproto3.Backend) error {
		if err := trustAuth(backend); err != nil {
			return err
		}
		if err := expectQuery(backend, "slect 1"); err != nil {
			return err
		}
		if err := sendMessages(backend,
			&pgproto3.ErrorResponse{Severity: "ERROR", Code: "42601", Message: `syntax error at or near "slect"`},
			&pgproto3.ReadyForQuery{TxStatus: 'I'},
		); err != nil {
			return err
		}

		// The connection stays usable after a statement-level error.
		if err := expectQuery(backend, "create table t (n int)"); err != nil {
			return err
		}
		return sendMessages(backend,
			&pgproto3.CommandComplete{CommandTag: []byte("CREATE TABLE")},
			&pgproto3.ReadyForQuery{TxStatus: 'I'},
		)
	})

	conn, err := ConnectConfig(config)
	require.NoError(t, err)

	mrr, err := conn.Exec("slect 1")
	require.NoError(t, err)

	results, err := mrr.ReadAll()
	require.Empty(t, results)
	var pgErr *PgError
	require.ErrorAs(t, err, &pgErr)
	require.Equal(t, "42601", pgErr.Code)
	require.False(t, conn.IsClosed())

	mrr, err = conn.Exec("create table t (n int)")
	require.NoError(t, err)
	results, err = mrr.ReadAll()
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "CREATE TABLE", results[0].CommandTag.String())
	conn.Close()
}

func TestExecMidStreamError(t *testing.T) {
	config := startMockServer(t, func(backend *pgproto3.Backend) error {
		if err := trustAuth(backend); err != nil {
			return err
		}
		if err := expectQuery(backend, "select 1/n from t"); err != nil {
			return err
		}
		if err := sendMessages(backend,
			&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{intTextColumn("q")}},
			&pgproto3.DataRow{Values: [][]byte{[]byte("1")}},
			&pgproto3.ErrorResponse{Severity: "ERROR", Code: "22012", Message: "division by zero"},
			&pgproto3.ReadyForQuery{TxStatus: 'I'},
		); err != nil {
			return err
		}

		if err := expectQuery(backend, "select 2"); err != nil {
			return err
		}
		return sendMessages(backend,
			&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{intTextColumn("b")}},
			&pgproto3.DataRow{Values: [][]byte{[]byte("2")}},
			&pgproto3.CommandComplete{CommandTag: []byte("SELECT 1")},
			&pgproto3.ReadyForQuery{TxStatus: 'I'},
		)
	})

	conn, err := ConnectConfig(config)
	require.NoError(t, err)

	mrr, err := conn.Exec("select 1/n from t")
	require.NoError(t, err)

	results, err := mrr.ReadAll()
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Rows, 1)

	var pgErr *PgError
	require.ErrorAs(t, results[0].Err, &pgErr)
	require.Equal(t, "22012", pgErr.Code)
	require.False(t, conn.IsClosed())

	mrr, err = conn.Exec("select 2")
	require.NoError(t, err)
	results, err = mrr.ReadAll()
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	conn.Close()
}

func TestExecAbandonedResult(t *testing.T) {
	config := startMockServer(t, func(backend *pgproto3.Backend) error {
		if err := trustAuth(backend); err != nil {
			return err
		}
		if err := expectQuery(backend, "select n from big"); err != nil {
			return err
		}
		if err := sendMessages(backend,
			&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{intTextColumn("n")}},
			&pgproto3.DataRow{Values: [][]byte{[]byte("1")}},
			&pgproto3.DataRow{Values: [][]byte{[]byte("2")}},
			&pgproto3.DataRow{Values: [][]byte{[]byte("3")}},
			&pgproto3.CommandComplete{CommandTag: []byte("SELECT 3")},
			&pgproto3.ReadyForQuery{TxStatus: 'I'},
		); err != nil {
			return err
		}

		if err := expectQuery(backend, "select 9"); err != nil {
			return err
		}
		return sendMessages(backend,
			&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{intTextColumn("x")}},
			&pgproto3.DataRow{Values: [][]byte{[]byte("9")}},
			&pgproto3.CommandComplete{CommandTag: []byte("SELECT 1")},
			&pgproto3.ReadyForQuery{TxStatus: 'I'},
		)
	})

	conn, err := ConnectConfig(config)
	require.NoError(t, err)

	// Read only the first row, then abandon the reader.
	mrr, err := conn.Exec("select n from big")
	require.NoError(t, err)
	require.True(t, mrr.NextResult())
	rr := mrr.ResultReader()
	require.True(t, rr.NextRow())
	require.Equal(t, [][]byte{[]byte("1")}, rr.Values())

	// The next Exec drains the abandoned results before sending.
	mrr, err = conn.Exec("select 9")
	require.NoError(t, err)
	results, err := mrr.ReadAll()
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, [][][]byte{{[]byte("9")}}, results[0].Rows)
	conn.Close()
}

func TestExecLastInsertID(t *testing.T) {
	config := startMockServer(t, func(backend *pgproto3.Backend) error {
		if err := trustAuth(backend); err != nil {
			return err
		}
		if err := expectQuery(backend, "insert into t values (1)"); err != nil {
			return err
		}
		if err := sendMessages(backend,
			&pgproto3.CommandComplete{CommandTag: []byte("INSERT 123 1")},
			&pgproto3.ReadyForQuery{TxStatus: 'I'},
		); err != nil {
			return err
		}

		if err := expectQuery(backend, "insert into t values (2), (3)"); err != nil {
			return err
		}
		if err := sendMessages(backend,
			&pgproto3.CommandComplete{CommandTag: []byte("INSERT 0 2")},
			&pgproto3.ReadyForQuery{TxStatus: 'I'},
		); err != nil {
			return err
		}

		if err := expectQuery(backend, "insert into t values (4)"); err != nil {
			return err
		}
		return sendMessages(backend,
			&pgproto3.CommandComplete{CommandTag: []byte("INSERT 0 1")},
			&pgproto3.ReadyForQuery{TxStatus: 'I'},
		)
	})

	conn, err := ConnectConfig(config)
	require.NoError(t, err)

	mrr, err := conn.Exec("insert into t values (1)")
	require.NoError(t, err)
	results, err := mrr.ReadAll()
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].CommandTag.Insert())
	require.EqualValues(t, 1, results[0].CommandTag.RowsAffected())
	require.EqualValues(t, 123, conn.LastInsertID())

	// A multi-row insert does not disturb the recorded id.
	mrr, err = conn.Exec("insert into t values (2), (3)")
	require.NoError(t, err)
	_, err = mrr.ReadAll()
	require.NoError(t, err)
	require.EqualValues(t, 123, conn.LastInsertID())

	// A single-row insert with oid 0 resets the recorded id.
	mrr, err = conn.Exec("insert into t values (4)")
	require.NoError(t, err)
	_, err = mrr.ReadAll()
	require.NoError(t, err)
	require.EqualValues(t, 0, conn.LastInsertID())
	conn.Close()
}

func TestExecMalformedInsertTag(t *testing.T) {
	config := startMockServer(t, func(backend *pgproto3.Backend) error {
		if err := trustAuth(backend); err != nil {
			return err
		}
		if err := expectQuery(backend, "insert into t values (1)"); err != nil {
			return err
		}
		return sendMessages(backend,
			&pgproto3.CommandComplete{CommandTag: []byte("INSERT 1")},
			&pgproto3.ReadyForQuery{TxStatus: 'I'},
		)
	})

	conn, err := ConnectConfig(config)
	require.NoError(t, err)

	mrr, err := conn.Exec("insert into t values (1)")
	require.NoError(t, err)

	_, err = mrr.ReadAll()
	require.Error(t, err)
	require.Contains(t, err.Error(), "malformed INSERT command tag")
	require.True(t, conn.IsClosed())
}

func TestExecOnClosedConn(t *testing.T) {
	config := startMockServer(t, trustAuth)

	conn, err := ConnectConfig(config)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	_, err = conn.Exec("select 1")
	require.Error(t, err)
}

func TestResultScan(t *testing.T) {
	config := startMockServer(t, func(backend *pgproto3.Backend) error {
		if err := trustAuth(backend); err != nil {
			return err
		}
		if err := expectQuery(backend, "select n, s from t limit 1"); err != nil {
			return err
		}
		return sendMessages(backend,
			&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{intTextColumn("n"), textColumn("s")}},
			&pgproto3.DataRow{Values: [][]byte{[]byte("42"), []byte("foo")}},
			&pgproto3.CommandComplete{CommandTag: []byte("SELECT 1")},
			&pgproto3.ReadyForQuery{TxStatus: 'I'},
		)
	})

	conn, err := ConnectConfig(config)
	require.NoError(t, err)

	mrr, err := conn.Exec("select n, s from t limit 1")
	require.NoError(t, err)
	results, err := mrr.ReadAll()
	require.NoError(t, err)
	require.Len(t, results, 1)

	var n int32
	var s string
	require.NoError(t, results[0].Scan(&n, &s))
	require.Equal(t, int32(42), n)
	require.Equal(t, "foo", s)

	require.Error(t, results[0].Scan(&n))
	conn.Close()
}
