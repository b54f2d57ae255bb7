// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"text/tabwriter"

	bbp "github.com/monetdb-contrib/bbpreader"
	"github.com/monetdb-contrib/bbpreader/log"
	"github.com/spf13/cobra"
	"golang.org/x/text/encoding/unicode"
)

// utf8Sanitizer repairs string-column bytes that were written under an
// encoding this reader does not track (MonetDB string heaps are nominally
// UTF-8, but columns populated by older or misconfigured clients sometimes
// are not): invalid byte sequences become U+FFFD rather than corrupting
// terminal output or JSON encoding.
var utf8Sanitizer = unicode.UTF8.NewDecoder()

func sanitizeString(s string) string {
	clean, err := utf8Sanitizer.String(s)
	if err != nil {
		return s
	}
	return clean
}

var (
	configPath string
	poolPath   string
	format     string
	sqlIndex   bool
)

func prettyPrint(v interface{}) string {
	var buf bytes.Buffer
	raw, _ := json.Marshal(v)
	if err := json.Indent(&buf, raw, "", "\t"); err != nil {
		return string(raw)
	}
	return buf.String()
}

// hexDump renders b the way a hex editor would: 16 bytes per row, offset,
// hex bytes, then the printable ASCII rendering.
func hexDump(b []byte) string {
	var out bytes.Buffer
	var ascii [16]byte
	n := (len(b) + 15) &^ 15
	for i := 0; i < n; i++ {
		if i%16 == 0 {
			fmt.Fprintf(&out, "%6d ", i)
		}
		if i < len(b) {
			fmt.Fprintf(&out, " %02x", b[i])
		} else {
			out.WriteString("   ")
		}
		if i < len(b) && b[i] >= 32 && b[i] < 127 {
			ascii[i%16] = b[i]
		} else {
			ascii[i%16] = '.'
		}
		if i%16 == 15 {
			fmt.Fprintf(&out, "  %s\n", string(ascii[:]))
		}
	}
	return out.String()
}

func openPool() (*bbp.Pool, error) {
	var opts []bbp.Option
	if sqlIndex {
		opts = append(opts, bbp.WithSQLIndex())
	}
	opts = append(opts, bbp.WithLogger(log.NewFilter(log.NewStdLogger(), log.FilterLevel(log.LevelWarn))))
	return bbp.Open(poolPath, opts...)
}

func resolveConfig() error {
	fc, err := loadFileConfig(configPath)
	if err != nil {
		return err
	}
	if poolPath == "" {
		poolPath = fc.PoolPath
	}
	if format == "" {
		format = fc.Format
	}
	if format == "" {
		format = "table"
	}
	if !sqlIndex {
		sqlIndex = fc.SQLIndex
	}
	return nil
}

// columnRow is the JSON/table projection of a Column used by the dump CLI;
// it never exposes raw heap bytes, only the descriptive fields.
type columnRow struct {
	Index      int32  `json:"index"`
	Logical    string `json:"logical_name"`
	Physical   string `json:"physical_name"`
	Atom       string `json:"atom"`
	Width      uint16 `json:"width"`
	Length     uint64 `json:"length"`
	Dense      bool   `json:"dense"`
	Sorted     bool   `json:"sorted"`
	RevSorted  bool   `json:"reverse_sorted"`
	KeyUnique  bool   `json:"key_unique"`
	Restricted string `json:"restricted"`
	SQLName    string `json:"sql_name,omitempty"`
}

func restrictedName(r bbp.RestrictedAccess) string {
	switch r {
	case bbp.AccessReadOnly:
		return "read_only"
	case bbp.AccessAppendOnly:
		return "append_only"
	default:
		return "read_write"
	}
}

func toRow(reg *bbp.AtomRegistry, c *bbp.Column) columnRow {
	row := columnRow{
		Index:      c.Index,
		Logical:    c.LogicalName,
		Physical:   c.PhysicalName,
		Atom:       reg.Name(c.AtomTag),
		Width:      c.Width,
		Length:     c.Length,
		Dense:      c.IsDense(),
		Sorted:     c.Sortedness.Ascending,
		RevSorted:  c.Sortedness.Descending,
		KeyUnique:  c.Sortedness.KeyUnique,
		Restricted: restrictedName(c.Restricted),
	}
	if name, ok := c.SQLName(); ok {
		row.SQLName = name.String()
	}
	return row
}

func runColumns(cmd *cobra.Command, args []string) error {
	if err := resolveConfig(); err != nil {
		return err
	}
	pool, err := openPool()
	if err != nil {
		return err
	}
	defer pool.Close()

	all := pool.All()
	sort.Slice(all, func(i, j int) bool { return all[i].Index < all[j].Index })

	rows := make([]columnRow, len(all))
	for i, c := range all {
		rows[i] = toRow(pool.Registry(), c)
	}

	if format == "json" {
		fmt.Println(prettyPrint(rows))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 1, 1, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "Index\tLogical\tAtom\tWidth\tLength\tDense\tRestricted\tSQLName\t")
	for _, r := range rows {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%v\t%s\t%s\t\n",
			r.Index, r.Logical, r.Atom, r.Width, r.Length, r.Dense, r.Restricted, r.SQLName)
	}
	return w.Flush()
}

func runDump(cmd *cobra.Command, args []string) error {
	if err := resolveConfig(); err != nil {
		return err
	}
	index, _ := cmd.Flags().GetInt32("column")
	wantVHeap, _ := cmd.Flags().GetBool("vheap")

	pool, err := openPool()
	if err != nil {
		return err
	}
	defer pool.Close()

	col, err := pool.At(index)
	if err != nil {
		return err
	}

	heap := col.MainHeap
	if wantVHeap {
		heap = col.VHeap
	}
	if heap == nil {
		return fmt.Errorf("column %d has no loaded %s heap", index, map[bool]string{true: "vheap", false: "main"}[wantVHeap])
	}
	fmt.Print(hexDump(heap.Base))
	return nil
}

// runStrings decodes and prints every element of one variable-width column,
// one value per line, sanitizing each value's bytes to valid UTF-8 first.
func runStrings(cmd *cobra.Command, args []string) error {
	if err := resolveConfig(); err != nil {
		return err
	}
	index, _ := cmd.Flags().GetInt32("column")

	pool, err := openPool()
	if err != nil {
		return err
	}
	defer pool.Close()

	col, err := pool.At(index)
	if err != nil {
		return err
	}
	values, err := col.Strings(pool.Registry())
	if err != nil {
		return err
	}
	for _, v := range values {
		if !v.Valid {
			fmt.Println("NULL")
			continue
		}
		fmt.Println(sanitizeString(v.Value))
	}
	return nil
}

// runScan concurrently fetches column descriptors across several worker
// goroutines; it exists to exercise the reader under the same kind of
// bounded worker-pool fan-out a batch pipeline would use against it.
func runScan(cmd *cobra.Command, args []string) error {
	if err := resolveConfig(); err != nil {
		return err
	}
	workers, _ := cmd.Flags().GetInt("workers")
	if workers < 1 {
		workers = 1
	}

	pool, err := openPool()
	if err != nil {
		return err
	}
	defer pool.Close()

	all := pool.All()
	jobs := make(chan *bbp.Column)
	results := make([]columnRow, len(all))
	indexOf := make(map[int32]int, len(all))
	for i, c := range all {
		indexOf[c.Index] = i
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				row := toRow(pool.Registry(), c)
				mu.Lock()
				results[indexOf[c.Index]] = row
				mu.Unlock()
			}
		}()
	}
	for _, c := range all {
		jobs <- c
	}
	close(jobs)
	wg.Wait()

	fmt.Println(prettyPrint(results))
	return nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "bbpdump",
		Short: "Inspect a MonetDB BAT buffer pool",
		Long:  "bbpdump reads a MonetDB BBP.dir directory and dumps its column catalog and heap contents, read-only",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "optional TOML config file")
	rootCmd.PersistentFlags().StringVar(&poolPath, "pool", "", "path to the pool directory (containing BBP.dir)")
	rootCmd.PersistentFlags().StringVar(&format, "format", "", "output format: table or json")
	rootCmd.PersistentFlags().BoolVar(&sqlIndex, "sql-index", false, "resolve sys.schemas/_tables/_columns into SQL names")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("bbpdump 0.1.0")
		},
	}

	columnsCmd := &cobra.Command{
		Use:   "columns",
		Short: "List every column in the pool",
		RunE:  runColumns,
	}

	dumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Hex-dump one column's heap bytes",
		RunE:  runDump,
	}
	dumpCmd.Flags().Int32("column", 0, "pool index of the column to dump")
	dumpCmd.Flags().Bool("vheap", false, "dump the column's vheap instead of its main heap")
	dumpCmd.MarkFlagRequired("column")

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Concurrently collect every column's descriptor",
		RunE:  runScan,
	}
	scanCmd.Flags().Int("workers", 4, "number of concurrent workers")

	stringsCmd := &cobra.Command{
		Use:   "strings",
		Short: "Print every value of a variable-width column, one per line",
		RunE:  runStrings,
	}
	stringsCmd.Flags().Int32("column", 0, "pool index of the column to print")
	stringsCmd.MarkFlagRequired("column")

	rootCmd.AddCommand(versionCmd, columnsCmd, dumpCmd, scanCmd, stringsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
