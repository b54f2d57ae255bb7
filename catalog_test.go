// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build unix

package bbp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// buildCatalogFixture assembles a synthetic pool whose columns reproduce
// the handful of MonetDB system-table columns BuildSQLIndex reads
// (sys.schemas, sys._tables, sys._columns) plus the pool's own
// sql_catalog_nme/sql_catalog_bid self-description, with one ordinary data
// column ("mycol") that should resolve to sys.mytable.mycol.
func buildCatalogFixture(t *testing.T) (dir string, dataCol int32) {
	t.Helper()
	tp := newTestPool(t)

	dataCol = tp.addInt64("data_col", []int64{42})

	schemasID := tp.addInt64("schemas_id", []int64{1})
	schemasName := tp.addStrings("schemas_name", []string{"sys"})
	tablesID := tp.addInt64("tables_id", []int64{10})
	tablesName := tp.addStrings("tables_name", []string{"mytable"})
	tablesSchema := tp.addInt64("tables_schema_id", []int64{1})
	tablesQuery := tp.addStrings("tables_query", []string{""})
	columnsName := tp.addStrings("columns_name", []string{"mycol"})
	columnsTable := tp.addInt64("columns_table_id", []int64{10})

	names := []string{
		"sys_schemas_id", "sys_schemas_name",
		"sys__tables_id", "sys__tables_name", "sys__tables_schema_id", "sys__tables_query",
		"sys__columns_name", "sys__columns_table_id",
		"sys_mytable_mycol",
	}
	bids := []int64{
		int64(schemasID), int64(schemasName),
		int64(tablesID), int64(tablesName), int64(tablesSchema), int64(tablesQuery),
		int64(columnsName), int64(columnsTable),
		int64(dataCol),
	}

	tp.addStrings("sql_catalog_nme", names)
	tp.addInt64("sql_catalog_bid", bids)

	return tp.build(), dataCol
}

func TestBuildSQLIndexResolvesColumn(t *testing.T) {
	dir, dataCol := buildCatalogFixture(t)

	pool, err := Open(dir, WithSQLIndex())
	require.NoError(t, err)
	defer pool.Close()

	col, err := pool.At(dataCol)
	require.NoError(t, err)

	name, ok := col.SQLName()
	require.True(t, ok, "data column has no resolved SQL name")

	want := SQLName{Schema: "sys", Table: "mytable", Column: "mycol"}
	require.Equal(t, want, name)

	found, err := pool.FindBySQLName(want)
	require.NoError(t, err)
	require.Equal(t, dataCol, found.Index)
}

func TestFindBySQLNameWithoutIndexBuilt(t *testing.T) {
	tp := newTestPool(t)
	tp.addInt64("x", []int64{1})
	dir := tp.build()

	pool, err := Open(dir)
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.FindBySQLName(SQLName{Schema: "sys", Table: "t", Column: "c"})
	require.ErrorIs(t, err, ErrSQLIndexNotBuilt)
}

func TestBuildSQLIndexIsIdempotent(t *testing.T) {
	dir, dataCol := buildCatalogFixture(t)

	pool, err := Open(dir, WithSQLIndex())
	require.NoError(t, err)
	defer pool.Close()

	require.NoError(t, pool.BuildSQLIndex())

	col, err := pool.At(dataCol)
	require.NoError(t, err)
	name, ok := col.SQLName()
	require.True(t, ok)
	require.Equal(t, "mytable", name.Table)

	found, err := pool.FindBySQLName(name)
	require.NoError(t, err)
	require.Equal(t, dataCol, found.Index)
}

// TestBuildSQLIndexDuplicateMangledNamePrefersNonEmpty exercises the "one
// side empty" rule: a duplicate sql_catalog_nme entry whose first resolution
// is a zero-length column is superseded by a later, non-empty resolution for
// the same mangled name.
func TestBuildSQLIndexDuplicateMangledNamePrefersNonEmpty(t *testing.T) {
	tp := newTestPool(t)

	emptyCol := tp.addInt64("empty_col", nil)
	dataCol := tp.addInt64("data_col", []int64{42})

	schemasID := tp.addInt64("schemas_id", []int64{1})
	schemasName := tp.addStrings("schemas_name", []string{"sys"})
	tablesID := tp.addInt64("tables_id", []int64{10})
	tablesName := tp.addStrings("tables_name", []string{"mytable"})
	tablesSchema := tp.addInt64("tables_schema_id", []int64{1})
	tablesQuery := tp.addStrings("tables_query", []string{""})
	columnsName := tp.addStrings("columns_name", []string{"mycol"})
	columnsTable := tp.addInt64("columns_table_id", []int64{10})

	names := []string{
		"sys_schemas_id", "sys_schemas_name",
		"sys__tables_id", "sys__tables_name", "sys__tables_schema_id", "sys__tables_query",
		"sys__columns_name", "sys__columns_table_id",
		"sys_mytable_mycol", "sys_mytable_mycol",
	}
	bids := []int64{
		int64(schemasID), int64(schemasName),
		int64(tablesID), int64(tablesName), int64(tablesSchema), int64(tablesQuery),
		int64(columnsName), int64(columnsTable),
		int64(emptyCol), int64(dataCol),
	}
	tp.addStrings("sql_catalog_nme", names)
	tp.addInt64("sql_catalog_bid", bids)

	dir := tp.build()
	pool, err := Open(dir, WithSQLIndex())
	require.NoError(t, err)
	defer pool.Close()

	found, err := pool.FindBySQLName(SQLName{Schema: "sys", Table: "mytable", Column: "mycol"})
	require.NoError(t, err)
	require.Equal(t, dataCol, found.Index)
}

// TestBuildSQLIndexDuplicateMangledNameBothNonEmptyFails exercises the
// failure half of the "one side empty" rule: when both colliding bats have
// data, the collision cannot be resolved and BuildSQLIndex must fail.
func TestBuildSQLIndexDuplicateMangledNameBothNonEmptyFails(t *testing.T) {
	tp := newTestPool(t)

	firstCol := tp.addInt64("first_col", []int64{1})
	secondCol := tp.addInt64("second_col", []int64{2})

	names := []string{"sys_mytable_mycol", "sys_mytable_mycol"}
	bids := []int64{int64(firstCol), int64(secondCol)}
	tp.addStrings("sql_catalog_nme", names)
	tp.addInt64("sql_catalog_bid", bids)

	dir := tp.build()
	pool, err := Open(dir)
	require.NoError(t, err)
	defer pool.Close()

	err = pool.BuildSQLIndex()
	require.ErrorIs(t, err, ErrInconsistentCatalog)
}

func TestBuildSQLIndexMissingCatalogColumn(t *testing.T) {
	tp := newTestPool(t)
	tp.addInt64("lonely", []int64{1})
	dir := tp.build()

	pool, err := Open(dir)
	require.NoError(t, err)
	defer pool.Close()

	err = pool.BuildSQLIndex()
	require.ErrorIs(t, err, ErrCatalogColumnMissing)
}
