// Package view projects the registry and document store into filtered,
// sorted table rows and serializes them for export.
package view

import (
	"slices"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/sells-group/contract-cli/internal/docstore"
	"github.com/sells-group/contract-cli/internal/model"
	"github.com/sells-group/contract-cli/internal/registry"
)

// NotAvailable is rendered for missing and null terms.
const NotAvailable = "N/A"

// Direction is a sort direction. DirectionNone keeps arrival order.
type Direction string

const (
	DirectionNone Direction = ""
	DirectionAsc  Direction = "asc"
	DirectionDesc Direction = "desc"
)

// SortSpec sorts by at most one column.
type SortSpec struct {
	ColumnID  string    `json:"column_id,omitempty"`
	Direction Direction `json:"direction,omitempty"`
}

// Active reports whether a column and direction are set.
func (s SortSpec) Active() bool {
	return s.ColumnID != "" && s.Direction != DirectionNone
}

// Query selects rows. A nil Sort uses the engine's click-cycled sort.
type Query struct {
	Search string
	Sort   *SortSpec
}

// CellState distinguishes a term that was never extracted from one that was
// extracted and found nothing.
type CellState int

const (
	CellMissing CellState = iota
	CellNull
	CellValue
)

// Cell is one column of a row.
type Cell struct {
	ColumnID string      `json:"column_id"`
	State    CellState   `json:"state"`
	Term     *model.Term `json:"term,omitempty"`
}

// Text is the display value: the term value or NotAvailable.
func (c Cell) Text() string {
	if c.State != CellValue {
		return NotAvailable
	}
	return c.Term.ValueString()
}

// Row is one document projected onto the visible columns.
type Row struct {
	Document model.Document `json:"document"`
	Cells    []Cell         `json:"cells"`
}

// Table is a projection: visible columns in order plus rows.
type Table struct {
	Columns []model.Column `json:"columns"`
	Rows    []Row          `json:"rows"`
	Sort    SortSpec       `json:"sort"`
}

type cacheKey struct {
	registry  uint64
	documents uint64
	search    string
	sort      SortSpec
}

// Engine derives table projections. The last projection is cached until the
// registry or document store version changes or the query differs.
type Engine struct {
	reg  *registry.Registry
	docs *docstore.Store

	mu       sync.Mutex
	sort     SortSpec
	collator *collate.Collator
	fold     cases.Caser
	cached   *Table
	key      cacheKey
}

// New creates an Engine ordering text by the collation rules of lang.
func New(reg *registry.Registry, docs *docstore.Store, lang language.Tag) *Engine {
	return &Engine{
		reg:      reg,
		docs:     docs,
		collator: collate.New(lang),
		fold:     cases.Fold(),
	}
}

// Click cycles the sort for columnID: ascending, descending, then unsorted.
// Clicking a different column starts it at ascending.
func (e *Engine) Click(columnID string) (SortSpec, error) {
	if !e.reg.Has(columnID) {
		return SortSpec{}, eris.Wrapf(model.ErrUnknownColumn, "view: sort by %s", columnID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.sort.ColumnID != columnID || e.sort.Direction == DirectionNone:
		e.sort = SortSpec{ColumnID: columnID, Direction: DirectionAsc}
	case e.sort.Direction == DirectionAsc:
		e.sort.Direction = DirectionDesc
	default:
		e.sort = SortSpec{}
	}
	return e.sort, nil
}

// SortSpec returns the click-cycled sort.
func (e *Engine) SortSpec() SortSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sort
}

// Rows returns the projected rows for q.
func (e *Engine) Rows(q Query) []Row {
	return e.Table(q).Rows
}

// Table returns the projection for q. The result must not be modified.
func (e *Engine) Table(q Query) Table {
	e.mu.Lock()
	defer e.mu.Unlock()

	sort := e.sort
	if q.Sort != nil {
		sort = *q.Sort
	}
	key := cacheKey{
		registry:  e.reg.Version(),
		documents: e.docs.Version(),
		search:    q.Search,
		sort:      sort,
	}
	if e.cached != nil && e.key == key {
		return *e.cached
	}

	t := e.project(q.Search, sort)
	e.cached = &t
	e.key = key
	return t
}

func (e *Engine) project(search string, sort SortSpec) Table {
	columns := e.reg.VisibleColumns()
	docs := e.docs.List()

	needle := e.fold.String(strings.TrimSpace(search))
	rows := make([]Row, 0, len(docs))
	for _, d := range docs {
		if needle != "" && !e.matches(d, needle) {
			continue
		}
		rows = append(rows, Row{Document: d, Cells: cells(d, columns)})
	}

	if sort.Active() && e.reg.Has(sort.ColumnID) {
		e.sortRows(rows, sort)
	} else {
		sort = SortSpec{}
	}
	return Table{Columns: columns, Rows: rows, Sort: sort}
}

// matches reports whether the display name or any term value, visible or
// not, contains needle case-insensitively.
func (e *Engine) matches(d model.Document, needle string) bool {
	if strings.Contains(e.fold.String(d.DisplayName), needle) {
		return true
	}
	for _, t := range d.Terms {
		if t.Value != nil && strings.Contains(e.fold.String(*t.Value), needle) {
			return true
		}
	}
	return false
}

// sortRows orders by the term value string with missing and null as "".
// Ties keep arrival order.
func (e *Engine) sortRows(rows []Row, sort SortSpec) {
	slices.SortStableFunc(rows, func(a, b Row) int {
		c := e.collator.CompareString(
			a.Document.Terms[sort.ColumnID].ValueString(),
			b.Document.Terms[sort.ColumnID].ValueString(),
		)
		if sort.Direction == DirectionDesc {
			return -c
		}
		return c
	})
}

func cells(d model.Document, columns []model.Column) []Cell {
	out := make([]Cell, len(columns))
	for i, col := range columns {
		c := Cell{ColumnID: col.ID}
		if t, ok := d.Terms[col.ID]; ok {
			c.Term = &t
			c.State = CellNull
			if t.HasValue() {
				c.State = CellValue
			}
		}
		out[i] = c
	}
	return out
}
