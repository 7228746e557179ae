// Package export renders the member directory as an XLSX workbook.
package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"churchadmin/internal/model"
	"churchadmin/internal/records"
	"churchadmin/internal/storage"

	"github.com/xuri/excelize/v2"
)

const (
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	sheetName   = "Members"
	// pageSize is the backend page size used while collecting members.
	pageSize = 100
)

var memberHeader = []string{
	"First Name", "Last Name", "Email", "Phone", "Gender",
	"Date of Birth", "Status", "Address", "Joined", "Services",
}

var columnWidths = []float64{18, 18, 30, 16, 10, 14, 12, 36, 14, 30}

// MemberLister is satisfied by *records.Members.
type MemberLister interface {
	List(ctx context.Context, filter records.Filter) (records.Page[model.Member], error)
}

type Exporter struct {
	members MemberLister
	storage storage.Storage
	logger  *slog.Logger
	now     func() time.Time
}

func NewExporter(members MemberLister, store storage.Storage, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		members: members,
		storage: store,
		logger:  logger.With("component", "export"),
		now:     time.Now,
	}
}

type Result struct {
	Key      string
	Filename string
	Count    int
}

// ExportMembers walks every page matching filter, writes the workbook and
// stores it under the organization.
func (e *Exporter) ExportMembers(ctx context.Context, organizationID string, filter records.MemberFilter) (Result, error) {
	members, err := e.collect(ctx, filter)
	if err != nil {
		return Result{}, err
	}

	now := e.now()
	data, err := MembersWorkbook(members, now)
	if err != nil {
		return Result{}, err
	}

	filename := fmt.Sprintf("members-%s.xlsx", now.Format("20060102-150405"))
	key, err := e.storage.Store(ctx, organizationID, filename, bytes.NewReader(data), ContentType)
	if err != nil {
		return Result{}, fmt.Errorf("failed to store export: %w", err)
	}

	e.logger.InfoContext(ctx, "Member directory exported",
		"organization_id", organizationID, "count", len(members), "key", key)
	return Result{Key: key, Filename: filename, Count: len(members)}, nil
}

func (e *Exporter) collect(ctx context.Context, filter records.MemberFilter) ([]model.Member, error) {
	filter.Limit = pageSize
	var members []model.Member
	for page := 1; ; page++ {
		filter.Page = page
		result, err := e.members.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		members = append(members, result.Items...)
		if page >= result.Pages || len(result.Items) == 0 {
			return members, nil
		}
	}
}

// MembersWorkbook renders members into a single sheet workbook.
func MembersWorkbook(members []model.Member, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	header := make([]any, len(memberHeader))
	for i, h := range memberHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	last, err := excelize.ColumnNumberToName(len(memberHeader))
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(sheetName, "A1", last+"1", headerStyle); err != nil {
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}
	for i, width := range columnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(sheetName, col, col, width); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, m := range members {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := []any{
			m.FirstName, m.LastName, m.Email, m.Phone, m.Gender,
			formatDate(m.DateOfBirth), string(m.Status), m.Address,
			formatDate(m.JoinedAt), strings.Join(m.ServiceIDs, ", "),
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("failed to freeze header: %w", err)
	}
	if err := f.SetDocProps(&excelize.DocProperties{
		Title:   "Member directory",
		Created: generatedAt.UTC().Format(time.RFC3339),
	}); err != nil {
		return nil, fmt.Errorf("failed to set document properties: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
