// Package table persists extracted rows in an Excel workbook. The
// column layout is a versioned contract: known prior layouts are
// migrated in place on open, anything else is rejected rather than
// reinterpreted.
package table

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/storesace-cv/bwb-efatura-docs/internal/core/domain"
	"github.com/storesace-cv/bwb-efatura-docs/internal/core/ports/driven"
	"github.com/storesace-cv/bwb-efatura-docs/internal/logger"
)

const sheetName = "Documentos"

const timestampLayout = "2006-01-02 15:04:05"

// Column positions in the current layout (1-based).
const (
	colUID = iota + 1
	colError
	colSupplierName
	colSupplierTaxID
	colSupplierAddress
	colEfaturaDate
	colDocumentDate
	colDocumentType
	colDocumentNumber
	colItemCode
	colItemName
	colQuantity
	colUnit
	colUnitPrice
	colDiscount
	colLineTotal
	colLastUpdated
	colExported
)

// header is the current column layout.
var header = []string{
	"UID", "Erro", "Nome Fornecedor", "NIF Fornecedor", "Morada Fornecedor",
	"Data eFatura", "Data Documento", "Tipo de Documento", "Numero Documento",
	"Código Artigo", "Nome Artigo", "Quantidade", "Unidade Medida",
	"Preço Unitário", "Desconto", "Preço Total (linha)", "last_updated",
	"Exported",
}

// headerV1 is the layout before "Tipo de Documento" existed.
var headerV1 = append(append([]string{}, header[:colDocumentType-1]...), header[colDocumentType:]...)

// migrations maps known prior layouts to their in-place upgrade, in
// version order. Unknown layouts are a hard error.
var migrations = []struct {
	name   string
	header []string
	apply  func(s *Store) error
}{
	{name: "v1", header: headerV1, apply: (*Store).migrateV1},
}

// Store is the workbook-backed row store.
type Store struct {
	path    string
	sheet   string
	file    *excelize.File
	lastRow int
	uidRows map[string][]int
}

var _ driven.RowStore = (*Store)(nil)

// Open loads the workbook at path, creating it with the canonical
// header when absent and migrating known prior layouts in place. A
// migration is persisted immediately so a later crash cannot leave a
// half-upgraded file.
func Open(path string) (*Store, error) {
	s := &Store{path: path, sheet: sheetName, uidRows: make(map[string][]int)}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.create(); err != nil {
			return nil, err
		}
		return s, nil
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open table %s: %w", path, err)
	}
	s.file = f
	s.sheet = f.GetSheetName(0)

	existing, err := s.headerRow()
	if err != nil {
		return nil, err
	}
	if !equalHeader(existing, header) {
		migrated := false
		for _, m := range migrations {
			if equalHeader(existing, m.header) {
				logger.Info("table %s uses the %s layout, migrating", path, m.name)
				if err := m.apply(s); err != nil {
					return nil, fmt.Errorf("migrate table %s from %s: %w", path, m.name, err)
				}
				migrated = true
				break
			}
		}
		if !migrated {
			return nil, fmt.Errorf("%w: table %s header %v", domain.ErrSchemaMismatch, path, existing)
		}
	}

	if err := s.reindex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) create() error {
	f := excelize.NewFile()
	index, err := f.NewSheet(s.sheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("drop default sheet: %w", err)
	}
	if err := f.SetSheetRow(s.sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	// Keep the header visible while scrolling.
	if err := f.SetPanes(s.sheet, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}
	s.file = f
	s.lastRow = 1
	return s.Save()
}

func (s *Store) headerRow() ([]string, error) {
	rows, err := s.file.GetRows(s.sheet)
	if err != nil {
		return nil, fmt.Errorf("read table: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func equalHeader(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if strings.TrimSpace(got[i]) != want[i] {
			return false
		}
	}
	return true
}

// migrateV1 inserts the "Tipo de Documento" column and backfills it
// from each row's document-number prefix where possible.
func (s *Store) migrateV1() error {
	col, _ := excelize.ColumnNumberToName(colDocumentType)
	if err := s.file.InsertCols(s.sheet, col, 1); err != nil {
		return fmt.Errorf("insert column: %w", err)
	}
	headerCell, _ := excelize.CoordinatesToCellName(colDocumentType, 1)
	if err := s.file.SetCellValue(s.sheet, headerCell, header[colDocumentType-1]); err != nil {
		return fmt.Errorf("write column header: %w", err)
	}

	rows, err := s.file.GetRows(s.sheet)
	if err != nil {
		return fmt.Errorf("read table: %w", err)
	}
	backfilled := 0
	for i := 2; i <= len(rows); i++ {
		number := cellAt(rows[i-1], colDocumentNumber)
		if number == "" {
			continue
		}
		if label := domain.InferDocumentLabel(number, ""); label != "" {
			cell, _ := excelize.CoordinatesToCellName(colDocumentType, i)
			if err := s.file.SetCellValue(s.sheet, cell, label); err != nil {
				return fmt.Errorf("backfill row %d: %w", i, err)
			}
			backfilled++
		}
	}
	logger.Info("migration backfilled document type on %d of %d rows", backfilled, max(len(rows)-1, 0))
	return s.Save()
}

// reindex rebuilds the UID to row-number map from the sheet.
func (s *Store) reindex() error {
	rows, err := s.file.GetRows(s.sheet)
	if err != nil {
		return fmt.Errorf("read table: %w", err)
	}
	s.uidRows = make(map[string][]int)
	s.lastRow = len(rows)
	if s.lastRow == 0 {
		s.lastRow = 1
	}
	for i := 2; i <= len(rows); i++ {
		if uid := cellAt(rows[i-1], colUID); uid != "" {
			s.uidRows[uid] = append(s.uidRows[uid], i)
		}
	}
	return nil
}

func cellAt(row []string, col int) string {
	if col <= len(row) {
		return strings.TrimSpace(row[col-1])
	}
	return ""
}

// UIDs returns every UID currently present in the table.
func (s *Store) UIDs() map[string]struct{} {
	out := make(map[string]struct{}, len(s.uidRows))
	for uid := range s.uidRows {
		out[uid] = struct{}{}
	}
	return out
}

// HasUID reports whether any row exists for the UID.
func (s *Store) HasUID(uid string) bool {
	_, ok := s.uidRows[uid]
	return ok
}

// DeleteRows removes every row for a UID and returns the count. The
// remaining index is rebuilt because removals shift row numbers.
func (s *Store) DeleteRows(uid string) int {
	rows := s.uidRows[uid]
	if len(rows) == 0 {
		return 0
	}
	// Bottom-up so earlier removals do not shift pending ones.
	sort.Sort(sort.Reverse(sort.IntSlice(rows)))
	for _, r := range rows {
		if err := s.file.RemoveRow(s.sheet, r); err != nil {
			logger.Error("remove row %d for %s: %v", r, uid, err)
		}
	}
	if err := s.reindex(); err != nil {
		logger.Error("reindex after delete of %s: %v", uid, err)
	}
	return len(rows)
}

// AppendErrorRow appends the single error row for a UID.
func (s *Store) AppendErrorRow(uid, message string) {
	row := make([]any, len(header))
	row[colUID-1] = uid
	row[colError-1] = message
	row[colLastUpdated-1] = time.Now().Format(timestampLayout)
	s.appendRow(uid, row)
}

// AppendLineRows appends one row per line item, denormalising the
// header fields into each. Returns the number of rows appended.
func (s *Store) AppendLineRows(uid, efaturaDate string, hdr *domain.HeaderRecord, lines []domain.LineItem) int {
	for _, line := range lines {
		row := make([]any, len(header))
		row[colUID-1] = uid
		row[colSupplierName-1] = hdr.SupplierName
		row[colSupplierTaxID-1] = hdr.SupplierTaxID
		row[colSupplierAddress-1] = hdr.SupplierAddress
		row[colEfaturaDate-1] = efaturaDate
		row[colDocumentDate-1] = hdr.IssueDate
		row[colDocumentType-1] = domain.InferDocumentLabel(hdr.DocumentNumber, hdr.DocKind)
		row[colDocumentNumber-1] = hdr.DocumentNumber
		row[colItemCode-1] = line.ItemCode
		row[colItemName-1] = line.ItemName
		row[colQuantity-1] = numberCell(line.Quantity)
		row[colUnit-1] = line.Unit
		row[colUnitPrice-1] = numberCell(line.UnitPrice)
		row[colDiscount-1] = numberCell(line.Discount)
		row[colLineTotal-1] = numberCell(line.LineTotal)
		row[colLastUpdated-1] = time.Now().Format(timestampLayout)
		s.appendRow(uid, row)
	}
	return len(lines)
}

func numberCell(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	f, _ := d.Decimal.Float64()
	return f
}

func (s *Store) appendRow(uid string, row []any) {
	s.lastRow++
	cell, _ := excelize.CoordinatesToCellName(1, s.lastRow)
	if err := s.file.SetSheetRow(s.sheet, cell, &row); err != nil {
		logger.Error("append row %d for %s: %v", s.lastRow, uid, err)
		return
	}
	s.uidRows[uid] = append(s.uidRows[uid], s.lastRow)
}

// BackfillAuthorizedDates fills blank "Data eFatura" cells from listed
// authorised dates, keyed by UID. Returns the number of cells updated.
func (s *Store) BackfillAuthorizedDates(dates map[string]string) int {
	updated := 0
	for uid, date := range dates {
		if date == "" {
			continue
		}
		for _, r := range s.uidRows[uid] {
			cell, _ := excelize.CoordinatesToCellName(colEfaturaDate, r)
			current, err := s.file.GetCellValue(s.sheet, cell)
			if err != nil || strings.TrimSpace(current) != "" {
				continue
			}
			if err := s.file.SetCellValue(s.sheet, cell, date); err != nil {
				logger.Error("backfill date on row %d: %v", r, err)
				continue
			}
			updated++
		}
	}
	return updated
}

// RowCount returns the number of data rows currently in the table.
func (s *Store) RowCount() int {
	n := 0
	for _, rows := range s.uidRows {
		n += len(rows)
	}
	return n
}

// Path returns the workbook location.
func (s *Store) Path() string { return s.path }

// Save persists the workbook atomically via a temp file and rename.
// The temp name keeps the workbook extension; excelize rejects any
// other suffix.
func (s *Store) Save() error {
	ext := filepath.Ext(s.path)
	tmp := strings.TrimSuffix(s.path, ext) + ".tmp" + ext
	if err := s.file.SaveAs(tmp); err != nil {
		return fmt.Errorf("save table: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace table: %w", err)
	}
	return nil
}

// Close releases the workbook resources without saving.
func (s *Store) Close() error {
	return s.file.Close()
}
