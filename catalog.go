// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package bbp

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// SQLName is a column's resolved SQL catalog identity: the schema, table,
// and column name a SQL layer on top of this pool would know it by.
type SQLName struct {
	Schema string
	Table  string
	Column string
}

func (n SQLName) String() string {
	return fmt.Sprintf("%s.%s.%s", n.Schema, n.Table, n.Column)
}

const (
	catalogNameColumn = "sql_catalog_nme"
	catalogBidColumn  = "sql_catalog_bid"
	defaultSchemaName = "sys"
	tmpSchemaName     = "tmp"
)

// mangleSQLName reproduces the pool's own encoding of a schema.table.column
// triple into the flat logical names recorded in sql_catalog_nme: lowercase
// identifiers joined by underscores. SQL identifiers in this catalog are
// already lowercase, so this is effectively just concatenation.
func mangleSQLName(schema, table, column string) string {
	return strings.ToLower(schema) + "_" + strings.ToLower(table) + "_" + strings.ToLower(column)
}

// readIntColumn decodes any integer-width column (dense or fixed-width 1,
// 2, 4, or 8 bytes) into a slice of int64, widening as needed. System
// catalog id/reference columns are typically int or similar, but their
// exact width isn't fixed by this reader's contract.
func readIntColumn(c *Column, reg *AtomRegistry) ([]int64, error) {
	if c.IsDense() {
		vals, err := c.DenseValues()
		if err != nil {
			return nil, err
		}
		out := make([]int64, len(vals))
		for i, v := range vals {
			out[i] = int64(v)
		}
		return out, nil
	}
	switch c.Width {
	case 1:
		v, err := c.Int8s(reg)
		if err != nil {
			return nil, err
		}
		out := make([]int64, len(v))
		for i := range v {
			out[i] = int64(v[i])
		}
		return out, nil
	case 2:
		v, err := c.Int16s(reg)
		if err != nil {
			return nil, err
		}
		out := make([]int64, len(v))
		for i := range v {
			out[i] = int64(v[i])
		}
		return out, nil
	case 4:
		v, err := c.Int32s(reg)
		if err != nil {
			return nil, err
		}
		out := make([]int64, len(v))
		for i := range v {
			out[i] = int64(v[i])
		}
		return out, nil
	case 8:
		return c.Int64s(reg)
	default:
		return nil, errors.Wrapf(ErrWrongSpanType, "column %d: not an integer-width column", c.Index)
	}
}

// BuildSQLIndex reconstructs schema.table.column identities for this pool's
// columns from its own self-describing catalog columns (sql_catalog_nme,
// sql_catalog_bid) and MonetDB's own system tables (sys.schemas,
// sys._tables, sys._columns), which this pool also stores as ordinary
// columns. Tables in the tmp schema and view tables (a non-empty query)
// are excluded, matching what a real SQL layer would expose. It is
// idempotent: calling it twice rebuilds the same index.
func (p *Pool) BuildSQLIndex() error {
	nameCol, ok := p.FindByLogicalName(catalogNameColumn)
	if !ok {
		return errors.Wrapf(ErrCatalogColumnMissing, "%s", catalogNameColumn)
	}
	bidCol, ok := p.FindByLogicalName(catalogBidColumn)
	if !ok {
		return errors.Wrapf(ErrCatalogColumnMissing, "%s", catalogBidColumn)
	}
	if nameCol.Length != bidCol.Length {
		return errors.Wrapf(ErrInconsistentCatalog, "%s has %d elements, %s has %d",
			catalogNameColumn, nameCol.Length, catalogBidColumn, bidCol.Length)
	}

	names, err := nameCol.Strings(p.registry)
	if err != nil {
		return errors.Wrapf(err, "reading %s", catalogNameColumn)
	}
	bids, err := readIntColumn(bidCol, p.registry)
	if err != nil {
		return errors.Wrapf(err, "reading %s", catalogBidColumn)
	}

	// "Empty" is narrowed to a zero-length column (spec leaves zero-count
	// vs. zero-size underdocumented upstream); a duplicate mangled name
	// prefers whichever side is non-empty, and is only an error when both
	// sides actually carry data.
	catalogMap := make(map[string]int32, len(names))
	for i, n := range names {
		if !n.Valid {
			continue
		}
		bid := int32(bids[i])
		col, err := p.At(bid)
		if err != nil {
			continue // points at an invalid column: not a usable catalog entry
		}
		existing, ok := catalogMap[n.Value]
		if !ok {
			catalogMap[n.Value] = bid
			continue
		}
		existingCol, err := p.At(existing)
		if err != nil {
			catalogMap[n.Value] = bid
			continue
		}
		switch {
		case existingCol.Length == 0:
			catalogMap[n.Value] = bid
		case col.Length == 0:
			// keep existing
		default:
			return errors.Wrapf(ErrInconsistentCatalog,
				"mangled name %q maps to both bat %d and bat %d", n.Value, existing, bid)
		}
	}

	lookup := func(schema, table, column string) (*Column, bool) {
		bid, ok := catalogMap[mangleSQLName(schema, table, column)]
		if !ok {
			return nil, false
		}
		col, err := p.At(bid)
		if err != nil {
			return nil, false
		}
		return col, true
	}

	schemaByID, err := p.resolveSchemas(lookup)
	if err != nil {
		return err
	}
	tableByID, err := p.resolveTables(lookup, schemaByID)
	if err != nil {
		return err
	}
	return p.resolveColumns(lookup, catalogMap, tableByID)
}

type tableIdentity struct {
	schema string
	table  string
}

func (p *Pool) resolveSchemas(lookup func(string, string, string) (*Column, bool)) (map[int64]string, error) {
	idCol, ok1 := lookup(defaultSchemaName, "schemas", "id")
	nameColumn, ok2 := lookup(defaultSchemaName, "schemas", "name")
	if !ok1 || !ok2 {
		return nil, errors.Wrap(ErrCatalogColumnMissing, "sys.schemas.id/name")
	}
	ids, err := readIntColumn(idCol, p.registry)
	if err != nil {
		return nil, errors.Wrap(err, "reading sys.schemas.id")
	}
	names, err := nameColumn.Strings(p.registry)
	if err != nil {
		return nil, errors.Wrap(err, "reading sys.schemas.name")
	}
	if len(ids) != len(names) {
		return nil, errors.Wrap(ErrInconsistentCatalog, "sys.schemas.id/name length mismatch")
	}
	out := make(map[int64]string, len(ids))
	for i, id := range ids {
		if names[i].Valid {
			out[id] = names[i].Value
		}
	}
	return out, nil
}

func (p *Pool) resolveTables(lookup func(string, string, string) (*Column, bool), schemaByID map[int64]string) (map[int64]tableIdentity, error) {
	idCol, ok1 := lookup(defaultSchemaName, "_tables", "id")
	nameColumn, ok2 := lookup(defaultSchemaName, "_tables", "name")
	schemaCol, ok3 := lookup(defaultSchemaName, "_tables", "schema_id")
	queryCol, ok4 := lookup(defaultSchemaName, "_tables", "query")
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, errors.Wrap(ErrCatalogColumnMissing, "sys._tables.id/name/schema_id/query")
	}
	ids, err := readIntColumn(idCol, p.registry)
	if err != nil {
		return nil, errors.Wrap(err, "reading sys._tables.id")
	}
	names, err := nameColumn.Strings(p.registry)
	if err != nil {
		return nil, errors.Wrap(err, "reading sys._tables.name")
	}
	schemaIDs, err := readIntColumn(schemaCol, p.registry)
	if err != nil {
		return nil, errors.Wrap(err, "reading sys._tables.schema_id")
	}
	queries, err := queryCol.Strings(p.registry)
	if err != nil {
		return nil, errors.Wrap(err, "reading sys._tables.query")
	}
	if len(ids) != len(names) || len(ids) != len(schemaIDs) || len(ids) != len(queries) {
		return nil, errors.Wrap(ErrInconsistentCatalog, "sys._tables column length mismatch")
	}

	out := make(map[int64]tableIdentity, len(ids))
	for i, id := range ids {
		schemaName, ok := schemaByID[schemaIDs[i]]
		if !ok {
			return nil, errors.Wrapf(ErrSchemaIDUnresolved, "table %d references schema %d", id, schemaIDs[i])
		}
		if schemaName == tmpSchemaName {
			continue
		}
		if queries[i].Valid && queries[i].Value != "" {
			continue // view table: discarded
		}
		if !names[i].Valid {
			continue
		}
		out[id] = tableIdentity{schema: schemaName, table: names[i].Value}
	}
	return out, nil
}

func (p *Pool) resolveColumns(lookup func(string, string, string) (*Column, bool), catalogMap map[string]int32, tableByID map[int64]tableIdentity) error {
	nameColumn, ok1 := lookup(defaultSchemaName, "_columns", "name")
	tableCol, ok2 := lookup(defaultSchemaName, "_columns", "table_id")
	if !ok1 || !ok2 {
		return errors.Wrap(ErrCatalogColumnMissing, "sys._columns.name/table_id")
	}
	names, err := nameColumn.Strings(p.registry)
	if err != nil {
		return errors.Wrap(err, "reading sys._columns.name")
	}
	tableIDs, err := readIntColumn(tableCol, p.registry)
	if err != nil {
		return errors.Wrap(err, "reading sys._columns.table_id")
	}
	if len(names) != len(tableIDs) {
		return errors.Wrap(ErrInconsistentCatalog, "sys._columns.name/table_id length mismatch")
	}

	index := make(map[SQLName]int32)
	for i, tblID := range tableIDs {
		if !names[i].Valid {
			continue
		}
		info, ok := tableByID[tblID]
		if !ok {
			continue
		}
		sqlName := SQLName{Schema: info.schema, Table: info.table, Column: names[i].Value}
		bid, ok := catalogMap[mangleSQLName(sqlName.Schema, sqlName.Table, sqlName.Column)]
		if !ok {
			continue // described in the catalog metadata but has no storage in this pool
		}
		col, err := p.At(bid)
		if err != nil {
			continue
		}
		if col.sqlName != nil {
			if *col.sqlName != sqlName {
				return errors.Wrapf(ErrInconsistentCatalog,
					"column %d already resolves to %s, also resolves to %s", bid, *col.sqlName, sqlName)
			}
			index[sqlName] = bid
			continue
		}
		name := sqlName
		col.sqlName = &name
		index[sqlName] = bid
	}

	p.sqlIndex = index
	return nil
}

// FindBySQLName returns the column with the given SQL catalog identity.
// ErrSQLIndexNotBuilt is returned if BuildSQLIndex was never called.
func (p *Pool) FindBySQLName(name SQLName) (*Column, error) {
	if p.sqlIndex == nil {
		return nil, ErrSQLIndexNotBuilt
	}
	bid, ok := p.sqlIndex[name]
	if !ok {
		return nil, errors.Wrapf(ErrNoSuchColumn, "sql name %s", name)
	}
	return p.At(bid)
}
