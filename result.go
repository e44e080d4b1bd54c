/*
 * Copyright (c) 2021-2022 UNNG Lab.
 */

package pgc

import "fmt"

// Scan decodes the columns of a single-row result into dest, positionally.
// The result must contain exactly one row. A nil destination skips its
// column.
func (res *Result) Scan(dest ...interface{}) error {
	if res.Err != nil {
		return res.Err
	}
	if len(res.Rows) != 1 {
		return fmt.Errorf("expected exactly 1 row, got %d", len(res.Rows))
	}
	if len(res.FieldDescriptions) != len(dest) {
		return fmt.Errorf("number of field descriptions must equal number of destinations, got %d and %d", len(res.FieldDescriptions), len(dest))
	}

	connInfo := res.conn.connInfo
	row := res.Rows[0]

	for i := range dest {
		if dest[i] == nil {
			continue
		}

		err := connInfo.PlanScan(
			res.FieldDescriptions[i].DataTypeOID,
			res.FieldDescriptions[i].Format,
			dest[i],
		).
			Scan(
				connInfo,
				res.FieldDescriptions[i].DataTypeOID,
				res.FieldDescriptions[i].Format,
				row[i],
				dest[i],
			)

		if err != nil {
			return SerializationError(fmt.Sprintf("unable to decode column %q: %v", res.FieldDescriptions[i].Name, err))
		}
	}

	return nil
}
