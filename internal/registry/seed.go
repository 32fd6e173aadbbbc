package registry

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/contract-cli/internal/model"
)

// seedFile is the on-disk shape of a column seed file.
type seedFile struct {
	Columns []model.ColumnDef `yaml:"columns"`
}

// LoadSeedFile reads a YAML column seed file and returns the columns it
// defines, in file order. Missing order values follow file position and
// missing visibility defaults to true.
func LoadSeedFile(path string) ([]model.Column, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read seed file")
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal seed file")
	}

	cols := make([]model.Column, 0, len(f.Columns))
	for i, def := range f.Columns {
		if def.ID == "" {
			return nil, eris.Wrapf(model.ErrValidation, "registry: seed column %d has no id", i)
		}
		c := model.Column{
			ID:          def.ID,
			Label:       def.Label,
			Description: def.Description,
			Visible:     true,
			Order:       i,
		}
		if def.Visible != nil {
			c.Visible = *def.Visible
		}
		if def.Order != nil {
			c.Order = *def.Order
		}
		if c.Label == "" {
			c.Label = c.ID
		}
		cols = append(cols, c)
	}
	return cols, nil
}

// SeedColumns returns the columns from path, or the built-in defaults when
// path is empty.
func SeedColumns(path string) ([]model.Column, error) {
	if path == "" {
		return model.DefaultColumns(), nil
	}
	return LoadSeedFile(path)
}
