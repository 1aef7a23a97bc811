package problems

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"andon/internal/audit"
	"andon/internal/response"
	"andon/internal/validation"
	"andon/internal/visibility"
)

// Export writes the problem history as CSV or Excel. Only rows the
// caller could see through the API are included.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	_, viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	ve := &validation.ValidationErrors{}
	validation.ValidateEnum(ve, "format", format, validation.ValidExportFormats)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	problems, err := h.Store.ListAll(r.Context())
	if err != nil {
		response.Err(w, "store unavailable, try again", 503)
		return
	}

	headers := []string{"ID", "Line", "Machine", "Type", "Severity", "Status",
		"Forwarded To", "Detected At", "Resolved At", "Duration (s)"}
	var data [][]string
	now := h.now()
	for i := range problems {
		p := &problems[i]
		if !visibility.Visible(p, viewer) {
			continue
		}
		resolvedAt := ""
		if p.ResolvedAt != nil {
			resolvedAt = *p.ResolvedAt
		}
		data = append(data, []string{
			p.ID, p.LineNumber, p.Machine, p.ProblemType, p.Severity, p.Status(),
			p.ForwardedToRole, p.DetectedAt, resolvedAt,
			strconv.FormatInt(p.DurationSeconds(now), 10),
		})
	}

	audit.LogAudit(h.DB, viewer.Username, audit.ActionExport, "problems", "",
		fmt.Sprintf("Exported %d problems as %s", len(data), format))

	if format == "xlsx" {
		ExportExcel(w, "Problems", headers, data)
	} else {
		ExportCSV(w, "problems.csv", headers, data)
	}
}

// ExportCSV writes data to CSV format.
func ExportCSV(w http.ResponseWriter, filename string, headers []string, data [][]string) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(headers); err != nil {
		http.Error(w, "Failed to write CSV headers", 500)
		return
	}
	for _, row := range data {
		if err := writer.Write(row); err != nil {
			http.Error(w, "Failed to write CSV row", 500)
			return
		}
	}
}

// ExportExcel writes data to Excel format.
func ExportExcel(w http.ResponseWriter, sheetName string, headers []string, data [][]string) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		http.Error(w, "Failed to create Excel sheet", 500)
		return
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D3D3D3"}, Pattern: 1},
	})
	if err != nil {
		http.Error(w, "Failed to create header style", 500)
		return
	}

	for i, header := range headers {
		cell := fmt.Sprintf("%s1", string(rune('A'+i)))
		f.SetCellValue(sheetName, cell, header)
		f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	for rowIdx, row := range data {
		for colIdx, value := range row {
			cell := fmt.Sprintf("%s%d", string(rune('A'+colIdx)), rowIdx+2)
			f.SetCellValue(sheetName, cell, value)
		}
	}

	for i := range headers {
		col := string(rune('A' + i))
		f.SetColWidth(sheetName, col, col, 15)
	}

	if sheetName != "Sheet1" {
		f.DeleteSheet("Sheet1")
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.xlsx", strings.ToLower(sheetName)))

	if err := f.Write(w); err != nil {
		http.Error(w, "Failed to write Excel file", 500)
		return
	}
}
