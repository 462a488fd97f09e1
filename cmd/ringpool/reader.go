package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	"ringpool"
)

// reader prints every row of a query as tab separated columns.
type reader struct {
	out io.Writer
}

func (reader reader) Read(ctx context.Context, helper *ringpool.Helper, query string) error {
	var columns []string
	return helper.Select(ctx, query, func(rows *sql.Rows) error {
		if columns == nil {
			var err error
			if columns, err = rows.Columns(); err != nil {
				return err
			}
			fmt.Fprintln(reader.out, strings.Join(columns, "\t"))
		}

		values := make([]sql.NullString, len(columns))
		dest := make([]interface{}, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return err
		}

		fields := make([]string, len(values))
		for i, v := range values {
			if v.Valid {
				fields[i] = v.String
			} else {
				fields[i] = "NULL"
			}
		}
		_, err := fmt.Fprintln(reader.out, strings.Join(fields, "\t"))
		return err
	})
}
