// Package registry owns the ordered column schema of the contract table.
package registry

import (
	"maps"
	"slices"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contract-cli/internal/model"
)

// Registry is the schema registry: the ordered set of known columns. It is
// safe for concurrent use. Columns are never removed.
type Registry struct {
	mu      sync.RWMutex
	columns []model.Column
	byID    map[string]int
	version uint64
}

// New creates a Registry seeded with the given columns. Seed columns with a
// duplicate id are skipped, and a seed column reusing an earlier order is
// moved after the maximum, both with a warning.
func New(seed ...model.Column) *Registry {
	r := &Registry{byID: make(map[string]int, len(seed))}
	for _, c := range seed {
		if _, ok := r.byID[c.ID]; ok || c.ID == "" {
			zap.L().Warn("registry: skipping invalid seed column", zap.String("column_id", c.ID))
			continue
		}
		r.byID[c.ID] = len(r.columns)
		r.columns = append(r.columns, c)
	}
	for _, id := range settleOrders(r.columns, nil, nil) {
		zap.L().Warn("registry: seed column order already used, moved to end", zap.String("column_id", id))
	}
	return r
}

// ListColumns returns all columns sorted by Order. Ties keep insertion order.
func (r *Registry) ListColumns() []model.Column {
	r.mu.RLock()
	out := slices.Clone(r.columns)
	r.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b model.Column) int {
		return a.Order - b.Order
	})
	return out
}

// VisibleColumns returns the visible columns in display order.
func (r *Registry) VisibleColumns() []model.Column {
	all := r.ListColumns()
	out := all[:0]
	for _, c := range all {
		if c.Visible {
			out = append(out, c)
		}
	}
	return out
}

// IDs returns every column id in display order.
func (r *Registry) IDs() []string {
	cols := r.ListColumns()
	ids := make([]string, len(cols))
	for i, c := range cols {
		ids[i] = c.ID
	}
	return ids
}

// Get returns the column with the given id.
func (r *Registry) Get(id string) (model.Column, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byID[id]
	if !ok {
		return model.Column{}, false
	}
	return r.columns[i], true
}

// Has reports whether a column with the given id exists.
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// AddColumn appends a new column. Without an explicit order the column is
// placed after the current maximum; an explicit order already in use fails
// with ErrValidation. Visible defaults to true.
func (r *Registry) AddColumn(def model.ColumnDef) (model.Column, error) {
	if def.ID == "" {
		return model.Column{}, eris.Wrap(model.ErrValidation, "registry: column id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[def.ID]; ok {
		return model.Column{}, eris.Wrapf(model.ErrDuplicateColumnID, "registry: %s", def.ID)
	}

	col := model.Column{
		ID:          def.ID,
		Label:       def.Label,
		Description: def.Description,
		Visible:     true,
	}
	if col.Label == "" {
		col.Label = def.ID
	}
	if def.Visible != nil {
		col.Visible = *def.Visible
	}
	if def.Order != nil {
		for _, c := range r.columns {
			if c.Order == *def.Order {
				return model.Column{}, eris.Wrapf(model.ErrValidation, "registry: order %d already used by %s", c.Order, c.ID)
			}
		}
		col.Order = *def.Order
	} else {
		col.Order = r.maxOrderLocked() + 1
	}

	r.byID[col.ID] = len(r.columns)
	r.columns = append(r.columns, col)
	r.version++

	zap.L().Info("registry: column added",
		zap.String("column_id", col.ID),
		zap.Int("order", col.Order),
	)
	return col, nil
}

// SetVisibility shows or hides a column. It is idempotent and does not
// affect ordering.
func (r *Registry) SetVisibility(id string, visible bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.byID[id]
	if !ok {
		return eris.Wrapf(model.ErrUnknownColumn, "registry: %s", id)
	}
	if r.columns[i].Visible == visible {
		return nil
	}
	r.columns[i].Visible = visible
	r.version++
	return nil
}

// SetOrder moves a column to the given order value. Order values must stay
// unique, so a collision fails with ErrValidation.
func (r *Registry) SetOrder(id string, order int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.byID[id]
	if !ok {
		return eris.Wrapf(model.ErrUnknownColumn, "registry: %s", id)
	}
	if r.columns[i].Order == order {
		return nil
	}
	for j, c := range r.columns {
		if j != i && c.Order == order {
			return eris.Wrapf(model.ErrValidation, "registry: order %d already used by %s", order, c.ID)
		}
	}
	r.columns[i].Order = order
	r.version++
	return nil
}

// Restore applies persisted column settings in one step. Persisted columns
// take their saved visibility and order together, so saved orders never
// collide with seeded orders they displaced. A seeded column whose order is
// now held by a persisted one moves after the maximum. Persisted columns the
// registry does not know yet are added as saved.
func (r *Registry) Restore(saved []model.Column) {
	if len(saved) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cols := slices.Clone(r.columns)
	byID := maps.Clone(r.byID)
	fixed := make(map[string]bool, len(saved))
	unplaced := make(map[string]bool)
	taken := make(map[int]bool, len(saved))

	for _, s := range saved {
		if s.ID == "" || fixed[s.ID] || unplaced[s.ID] {
			continue
		}
		i, ok := byID[s.ID]
		if !ok {
			c := s
			if c.Label == "" {
				c.Label = c.ID
			}
			i = len(cols)
			byID[c.ID] = i
			cols = append(cols, c)
		}
		cols[i].Visible = s.Visible
		if taken[s.Order] {
			unplaced[s.ID] = true
			continue
		}
		cols[i].Order = s.Order
		taken[s.Order] = true
		fixed[s.ID] = true
	}

	for _, id := range settleOrders(cols, fixed, unplaced) {
		zap.L().Warn("registry: column order taken by a restored column, moved to end", zap.String("column_id", id))
	}

	r.columns = cols
	r.byID = byID
	r.version++
}

// Version increases on every mutation. Projection caches compare it to
// detect staleness.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Len returns the number of columns.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.columns)
}

func (r *Registry) maxOrderLocked() int {
	if len(r.columns) == 0 {
		return -1
	}
	maxOrder := r.columns[0].Order
	for _, c := range r.columns[1:] {
		if c.Order > maxOrder {
			maxOrder = c.Order
		}
	}
	return maxOrder
}

// settleOrders makes order values unique in place. Columns in fixed keep
// their order. Among the rest, the lowest-ordered holder of a value keeps it;
// later holders and every column in unplaced move past the maximum in turn.
// It returns the ids that moved.
func settleOrders(cols []model.Column, fixed, unplaced map[string]bool) []string {
	used := make(map[int]bool, len(cols))
	var rest []int
	for i, c := range cols {
		if fixed[c.ID] {
			used[c.Order] = true
			continue
		}
		rest = append(rest, i)
	}
	slices.SortStableFunc(rest, func(a, b int) int {
		return cols[a].Order - cols[b].Order
	})

	var moved []int
	for _, i := range rest {
		c := cols[i]
		if unplaced[c.ID] || used[c.Order] {
			moved = append(moved, i)
			continue
		}
		used[c.Order] = true
	}
	if len(moved) == 0 {
		return nil
	}

	next, first := 0, true
	for o := range used {
		if first || o >= next {
			next, first = o+1, false
		}
	}
	ids := make([]string, 0, len(moved))
	for _, i := range moved {
		cols[i].Order = next
		next++
		ids = append(ids, cols[i].ID)
	}
	return ids
}
