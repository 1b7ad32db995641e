// Package workbook reads and writes the two-sheet spreadsheet the inspector
// works from: a per-user usage ledger and a per-URL status sheet.
package workbook

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Harvey-AU/index-inspector/internal/inspection"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

// ErrNoWorkbook is returned when the input directory holds no spreadsheet
var ErrNoWorkbook = errors.New("no workbook found")

// Column headings
const (
	ColUser       = "USER"
	ColLastAccess = "LAST ACCESS DATE"
	ColTotalCount = "TOTAL COUNT"
	ColProperty   = "PROPERTY"
	ColURL        = "URL"
	ColStatus     = "STATUS"
	ColIndexing   = "INDEXING STATE"
	ColCoverage   = "COVERAGE STATE"
	ColRobotsTxt  = "ROBOTS.TXT STATE"
	ColPageFetch  = "PAGEFETCH STATE"
	ColLastCrawl  = "LAST CRAWL"
	ColCrawledAs  = "CRAWLED AS"
)

// Sheet names of a saved workbook
const (
	LedgerSheet = "Sheet1"
	StatusSheet = "Sheet2"
)

const (
	outputPrefix   = "processed_data_"
	outputLayout   = "20060102150405"
	workbookSuffix = ".xlsx"
	columnPadding  = 5
)

// StatusColumns are written for every status row, in this order when appended
var StatusColumns = []string{
	ColStatus,
	ColIndexing,
	ColCoverage,
	ColRobotsTxt,
	ColPageFetch,
	ColLastCrawl,
	ColCrawledAs,
}

// table keeps a sheet's header and raw cells so columns we do not use survive a round trip
type table struct {
	header []string
	rows   [][]string
	index  map[string]int
	width  int // widest data row
}

func newTable(rows [][]string) *table {
	t := &table{index: make(map[string]int)}
	if len(rows) == 0 {
		return t
	}
	for i, name := range rows[0] {
		name = strings.TrimSpace(name)
		t.header = append(t.header, name)
		key := strings.ToUpper(name)
		if _, exists := t.index[key]; !exists && key != "" {
			t.index[key] = i
		}
	}
	t.rows = rows[1:]
	for _, row := range t.rows {
		t.width = max(t.width, len(row))
	}
	return t
}

// ensure appends name to the header when it is missing and returns its column index.
// New columns go after every populated cell so unnamed data columns are not taken over.
func (t *table) ensure(name string) int {
	if i, ok := t.index[name]; ok {
		return i
	}
	for len(t.header) < t.width {
		t.header = append(t.header, "")
	}
	t.header = append(t.header, name)
	i := len(t.header) - 1
	t.index[name] = i
	return i
}

func (t *table) column(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// Workbook is a loaded spreadsheet
type Workbook struct {
	Path   string
	Ledger *inspection.Ledger
	Status []inspection.StatusRow

	ledger *table
	status *table
}

// FindWorkbook returns the first .xlsx file in dir by name, ignoring Office lock files
func FindWorkbook(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w in %s: directory does not exist", ErrNoWorkbook, dir)
		}
		return "", fmt.Errorf("failed to list %s: %w", dir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, "~$") {
			continue
		}
		if strings.EqualFold(filepath.Ext(name), workbookSuffix) {
			return filepath.Join(dir, name), nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNoWorkbook, dir)
}

// Load reads the ledger from the first sheet and the status rows from the second
func Load(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to close workbook")
		}
	}()

	sheets := f.GetSheetList()
	if len(sheets) < 2 {
		return nil, fmt.Errorf("workbook %s has %d sheets, need a ledger sheet and a status sheet", path, len(sheets))
	}

	ledgerRows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger sheet %q: %w", sheets[0], err)
	}
	statusRows, err := f.GetRows(sheets[1])
	if err != nil {
		return nil, fmt.Errorf("failed to read status sheet %q: %w", sheets[1], err)
	}

	wb := &Workbook{Path: path}

	wb.ledger = newTable(ledgerRows)
	ledger, err := parseLedger(wb.ledger)
	if err != nil {
		return nil, fmt.Errorf("sheet %q: %w", sheets[0], err)
	}
	wb.Ledger = ledger

	wb.status = newTable(statusRows)
	status, err := parseStatus(wb.status)
	if err != nil {
		return nil, fmt.Errorf("sheet %q: %w", sheets[1], err)
	}
	wb.Status = status

	log.Info().
		Str("path", path).
		Int("users", len(wb.Ledger.Rows)).
		Int("urls", len(wb.Status)).
		Msg("Workbook loaded")

	return wb, nil
}

func parseLedger(t *table) (*inspection.Ledger, error) {
	userCol, ok := t.column(ColUser)
	if !ok {
		return nil, fmt.Errorf("missing %s column", ColUser)
	}
	accessCol := t.ensure(ColLastAccess)
	countCol := t.ensure(ColTotalCount)

	rows := make([]inspection.LedgerRow, 0, len(t.rows))
	for i, raw := range t.rows {
		rows = append(rows, inspection.LedgerRow{
			User:       cell(raw, userCol),
			LastAccess: cell(raw, accessCol),
			TotalCount: parseCount(cell(raw, countCol), i+2),
		})
	}
	return inspection.NewLedger(rows), nil
}

// parseCount reads a TOTAL COUNT cell; blanks and unreadable values count as 0
func parseCount(value string, sheetRow int) int {
	if value == "" {
		return 0
	}
	n, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		log.Warn().
			Str("value", value).
			Int("row", sheetRow).
			Msg("Unreadable TOTAL COUNT, treating as 0")
		return 0
	}
	return int(n)
}

func parseStatus(t *table) ([]inspection.StatusRow, error) {
	var missing []string
	for _, name := range []string{ColUser, ColProperty, ColURL} {
		if _, ok := t.column(name); !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing %s column(s)", strings.Join(missing, ", "))
	}

	cols := make(map[string]int, len(StatusColumns)+3)
	for _, name := range append([]string{ColUser, ColProperty, ColURL}, StatusColumns...) {
		cols[name] = t.ensure(name)
	}

	rows := make([]inspection.StatusRow, 0, len(t.rows))
	for i, raw := range t.rows {
		rows = append(rows, inspection.StatusRow{
			Position: i,
			User:     cell(raw, cols[ColUser]),
			Property: cell(raw, cols[ColProperty]),
			URL:      cell(raw, cols[ColURL]),
			Result: inspection.Result{
				Verdict:        cell(raw, cols[ColStatus]),
				IndexingState:  cell(raw, cols[ColIndexing]),
				CoverageState:  cell(raw, cols[ColCoverage]),
				RobotsTxtState: cell(raw, cols[ColRobotsTxt]),
				PageFetchState: cell(raw, cols[ColPageFetch]),
				LastCrawlTime:  cell(raw, cols[ColLastCrawl]),
				CrawledAs:      cell(raw, cols[ColCrawledAs]),
			},
		})
	}
	return rows, nil
}

// OutputName returns the file name Save uses for a run finished at now
func OutputName(now time.Time) string {
	return outputPrefix + now.Format(outputLayout) + workbookSuffix
}

// Save writes wb to a new timestamped file in dir and returns its path.
// The input file is never modified.
func Save(dir string, wb *Workbook, now time.Time) (string, error) {
	if wb == nil || wb.ledger == nil || wb.status == nil {
		return "", errors.New("workbook was not loaded")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close output workbook")
		}
	}()

	if _, err := f.NewSheet(StatusSheet); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", StatusSheet, err)
	}

	if err := writeSheet(f, LedgerSheet, wb.ledger.header, wb.ledgerCells()); err != nil {
		return "", err
	}
	if err := writeSheet(f, StatusSheet, wb.status.header, wb.statusCells()); err != nil {
		return "", err
	}

	path := filepath.Join(dir, OutputName(now))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save workbook %s: %w", path, err)
	}

	log.Info().
		Str("path", path).
		Int("users", len(wb.Ledger.Rows)).
		Int("urls", len(wb.Status)).
		Msg("Workbook saved")

	return path, nil
}

// ledgerCells merges the ledger's current values into the raw sheet cells
func (wb *Workbook) ledgerCells() [][]any {
	t := wb.ledger
	userCol, _ := t.column(ColUser)
	accessCol, _ := t.column(ColLastAccess)
	countCol, _ := t.column(ColTotalCount)

	out := make([][]any, 0, len(wb.Ledger.Rows))
	for i, row := range wb.Ledger.Rows {
		var raw []string
		if i < len(t.rows) {
			raw = t.rows[i]
		}
		cells := rawCells(raw, len(t.header))
		cells[userCol] = blankToNil(row.User)
		cells[accessCol] = blankToNil(row.LastAccess)
		cells[countCol] = row.TotalCount
		out = append(out, cells)
	}
	return out
}

// statusCells merges each row's result into the raw sheet cells
func (wb *Workbook) statusCells() [][]any {
	t := wb.status
	col := func(name string) int {
		i, _ := t.column(name)
		return i
	}

	out := make([][]any, len(t.rows))
	for i, raw := range t.rows {
		out[i] = rawCells(raw, len(t.header))
	}

	for _, row := range wb.Status {
		if row.Position < 0 || row.Position >= len(out) {
			continue
		}
		cells := out[row.Position]
		r := row.Result
		cells[col(ColStatus)] = blankToNil(r.Verdict)
		cells[col(ColIndexing)] = blankToNil(r.IndexingState)
		cells[col(ColCoverage)] = blankToNil(r.CoverageState)
		cells[col(ColRobotsTxt)] = blankToNil(r.RobotsTxtState)
		cells[col(ColPageFetch)] = blankToNil(r.PageFetchState)
		cells[col(ColLastCrawl)] = blankToNil(r.LastCrawlTime)
		cells[col(ColCrawledAs)] = blankToNil(r.CrawledAs)
	}
	return out
}

func rawCells(raw []string, width int) []any {
	if len(raw) > width {
		width = len(raw)
	}
	cells := make([]any, width)
	for i, v := range raw {
		cells[i] = blankToNil(v)
	}
	return cells
}

func blankToNil(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// writeSheet writes a header and rows, then sizes each column to its longest value plus padding
func writeSheet(f *excelize.File, sheet string, header []string, rows [][]any) error {
	widths := make([]int, len(header))
	track := func(i int, v any) {
		if v == nil {
			return
		}
		for len(widths) <= i {
			widths = append(widths, 0)
		}
		if n := utf8.RuneCountInString(fmt.Sprint(v)); n > widths[i] {
			widths[i] = n
		}
	}

	headerCells := make([]any, len(header))
	for i, h := range header {
		headerCells[i] = h
		track(i, h)
	}
	if err := f.SetSheetRow(sheet, "A1", &headerCells); err != nil {
		return fmt.Errorf("failed to write %s header: %w", sheet, err)
	}

	for r, cells := range rows {
		for i, v := range cells {
			track(i, v)
		}
		start, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, start, &cells); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, r+2, err)
		}
	}

	for i, w := range widths {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, name, name, float64(w+columnPadding)); err != nil {
			return fmt.Errorf("failed to size %s column %s: %w", sheet, name, err)
		}
	}
	return nil
}
