package view

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// DocumentLabelHeader heads the document name column of an export.
const DocumentLabelHeader = "DocumentLabel"

// ExportFileName returns "contracts-export-YYYY-MM-DD.<ext>".
func ExportFileName(now time.Time, ext string) string {
	return fmt.Sprintf("contracts-export-%s.%s", now.Format("2006-01-02"), ext)
}

// records flattens a table into header and data rows in display order.
func records(t Table) (header []string, rows [][]string) {
	header = make([]string, 0, len(t.Columns)+1)
	header = append(header, DocumentLabelHeader)
	for _, c := range t.Columns {
		header = append(header, c.Label)
	}
	rows = make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		rec := make([]string, 0, len(r.Cells)+1)
		rec = append(rec, r.Document.DisplayName)
		for _, c := range r.Cells {
			rec = append(rec, c.Text())
		}
		rows[i] = rec
	}
	return header, rows
}

// ExportCSV writes the rows selected by q. The header is quoted only where
// needed; every data cell is double-quoted.
func (e *Engine) ExportCSV(w io.Writer, q Query) error {
	header, rows := records(e.Table(q))

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "view: write csv header")
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "view: write csv header")
	}

	var sb strings.Builder
	for _, rec := range rows {
		sb.Reset()
		for i, v := range rec {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteByte('"')
			sb.WriteString(strings.ReplaceAll(v, `"`, `""`))
			sb.WriteByte('"')
		}
		sb.WriteByte('\n')
		if _, err := io.WriteString(w, sb.String()); err != nil {
			return eris.Wrap(err, "view: write csv row")
		}
	}
	return nil
}

// ExportXLSX writes the rows selected by q as a single-sheet workbook.
func (e *Engine) ExportXLSX(w io.Writer, q Query) error {
	header, rows := records(e.Table(q))

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Contracts")
	if err != nil {
		return eris.Wrap(err, "view: add sheet")
	}
	addRow(sheet, header)
	for _, rec := range rows {
		addRow(sheet, rec)
	}
	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "view: write xlsx")
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
