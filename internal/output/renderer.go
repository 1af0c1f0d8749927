package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/smartdevs17/machine-logger/internal/audit"
	"github.com/smartdevs17/machine-logger/internal/models"
)

// Renderer writes logbook views to an output stream.
type Renderer interface {
	RenderHistory(derived []models.DerivedLogEntry) error
	RenderMachines(summaries []models.MachineSummary) error
	RenderNotice(notice *models.Notice) error
}

// New returns the renderer for format ("text" or "json")
func New(format string, w io.Writer) (Renderer, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return NewTextRenderer(w), nil
	case "json":
		return NewJSONRenderer(w), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q (use text or json)", format)
	}
}

// HistoryRow is the display form of a derived entry
type HistoryRow struct {
	SystemTimestamp string `json:"systemTimestamp"`
	MachineID       string `json:"machineId"`
	OperatorName    string `json:"operatorName"`
	CleaningDate    string `json:"cleaningDate"`
	CleaningDateISO string `json:"cleaningDateIso"`
	NextTargetDate  string `json:"nextTargetDate"`
	NextTargetISO   string `json:"nextTargetIso"`
	OperatorLate    bool   `json:"operatorLate"`
	TargetMissed    bool   `json:"targetMissed"`
	Status          string `json:"status"`
}

// MachineRow is the display form of a machine summary
type MachineRow struct {
	MachineID        string `json:"machineId"`
	Entries          int    `json:"entries"`
	LateEntries      int    `json:"lateEntries"`
	LastCleaningDate string `json:"lastCleaningDate"`
	LastOperator     string `json:"lastOperator"`
	NextTargetDate   string `json:"nextTargetDate"`
	Overdue          bool   `json:"overdue"`
	Status           string `json:"status"`
}

// HistoryRows converts derived entries to display rows, keeping their order
func HistoryRows(derived []models.DerivedLogEntry) []HistoryRow {
	rows := make([]HistoryRow, 0, len(derived))
	for _, d := range derived {
		rows = append(rows, HistoryRow{
			SystemTimestamp: d.SystemTimestamp,
			MachineID:       d.MachineID,
			OperatorName:    d.OperatorName,
			CleaningDate:    audit.FormatDisplayDate(d.CleaningDay),
			CleaningDateISO: audit.FormatISODate(d.CleaningDay),
			NextTargetDate:  audit.FormatDisplayDate(d.NextTargetDate),
			NextTargetISO:   audit.FormatISODate(d.NextTargetDate),
			OperatorLate:    d.OperatorLate,
			TargetMissed:    d.TargetMissed,
			Status:          audit.StatusLabel(d.TargetMissed),
		})
	}
	return rows
}

// MachineRows converts summaries to display rows
func MachineRows(summaries []models.MachineSummary) []MachineRow {
	rows := make([]MachineRow, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, MachineRow{
			MachineID:        s.MachineID,
			Entries:          s.Entries,
			LateEntries:      s.LateEntries,
			LastCleaningDate: audit.FormatDisplayDate(s.LastCleaningDate),
			LastOperator:     s.LastOperator,
			NextTargetDate:   audit.FormatDisplayDate(s.NextTargetDate),
			Overdue:          s.Overdue,
			Status:           audit.StatusLabel(s.Overdue),
		})
	}
	return rows
}

// ---------------------------------------------------------------------------
// Text Renderer (colorized terminal table)
// ---------------------------------------------------------------------------

var (
	styleHeader  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	styleMachine = lipgloss.NewStyle().Bold(true)
	styleMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleLate    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleOverdue = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleOnTrack = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	styleError   = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Background(lipgloss.Color("196")).
			Bold(true) // white on red
)

// TextRenderer prints logbook tables with status colors.
type TextRenderer struct {
	w io.Writer
}

// NewTextRenderer returns a Renderer that writes colorized text to w.
func NewTextRenderer(w io.Writer) *TextRenderer {
	return &TextRenderer{w: w}
}

func (r *TextRenderer) RenderHistory(derived []models.DerivedLogEntry) error {
	if len(derived) == 0 {
		_, err := fmt.Fprintln(r.w, styleMuted.Render("No cleaning records found."))
		return err
	}

	headers := []string{"MACHINE", "OPERATOR", "CLEANED", "NEXT TARGET", "STATUS", "SUBMITTED"}
	rows := HistoryRows(derived)
	cells := make([][]string, len(rows))
	for i, row := range rows {
		operator := row.OperatorName
		if row.OperatorLate {
			operator += " (late)"
		}
		cells[i] = []string{row.MachineID, operator, row.CleaningDate, row.NextTargetDate, row.Status, row.SystemTimestamp}
	}

	widths := columnWidths(headers, cells)
	if err := r.writeHeader(headers, widths); err != nil {
		return err
	}

	for i, row := range rows {
		styles := []lipgloss.Style{styleMachine, lipgloss.NewStyle(), lipgloss.NewStyle(), lipgloss.NewStyle(), statusStyle(row.TargetMissed), styleMuted}
		if row.OperatorLate {
			styles[1] = styleLate
		}
		if _, err := fmt.Fprintln(r.w, formatRow(cells[i], widths, styles)); err != nil {
			return err
		}
	}
	return nil
}

func (r *TextRenderer) RenderMachines(summaries []models.MachineSummary) error {
	if len(summaries) == 0 {
		_, err := fmt.Fprintln(r.w, styleMuted.Render("No machines found."))
		return err
	}

	headers := []string{"MACHINE", "ENTRIES", "LATE", "LAST CLEANED", "LAST OPERATOR", "NEXT TARGET", "STATUS"}
	rows := MachineRows(summaries)
	cells := make([][]string, len(rows))
	for i, row := range rows {
		cells[i] = []string{
			row.MachineID,
			fmt.Sprintf("%d", row.Entries),
			fmt.Sprintf("%d", row.LateEntries),
			row.LastCleaningDate,
			row.LastOperator,
			row.NextTargetDate,
			row.Status,
		}
	}

	widths := columnWidths(headers, cells)
	if err := r.writeHeader(headers, widths); err != nil {
		return err
	}

	for i, row := range rows {
		late := lipgloss.NewStyle()
		if row.LateEntries > 0 {
			late = styleLate
		}
		styles := []lipgloss.Style{styleMachine, lipgloss.NewStyle(), late, lipgloss.NewStyle(), lipgloss.NewStyle(), lipgloss.NewStyle(), statusStyle(row.Overdue)}
		if _, err := fmt.Fprintln(r.w, formatRow(cells[i], widths, styles)); err != nil {
			return err
		}
	}
	return nil
}

func (r *TextRenderer) RenderNotice(notice *models.Notice) error {
	if notice == nil {
		return nil
	}
	style := styleSuccess
	if notice.Kind == models.NoticeError {
		style = styleError
	}
	_, err := fmt.Fprintln(r.w, style.Render(notice.Text))
	return err
}

func (r *TextRenderer) writeHeader(headers []string, widths []int) error {
	styles := make([]lipgloss.Style, len(headers))
	for i := range styles {
		styles[i] = styleHeader
	}
	_, err := fmt.Fprintln(r.w, formatRow(headers, widths, styles))
	return err
}

func statusStyle(missed bool) lipgloss.Style {
	if missed {
		return styleOverdue
	}
	return styleOnTrack
}

// columnWidths returns the display width of every column
func columnWidths(headers []string, rows [][]string) []int {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	return widths
}

// formatRow pads each cell before styling so escape codes do not skew alignment
func formatRow(cells []string, widths []int, styles []lipgloss.Style) string {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		padded := cell
		if i < len(cells)-1 {
			padded += strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
		}
		parts[i] = styles[i].Render(padded)
	}
	return strings.Join(parts, "  ")
}

// ---------------------------------------------------------------------------
// JSON Renderer (structured output for piping)
// ---------------------------------------------------------------------------

// JSONRenderer prints each view as a single JSON document.
type JSONRenderer struct {
	enc *json.Encoder
}

// NewJSONRenderer returns a Renderer that writes JSON to w.
func NewJSONRenderer(w io.Writer) *JSONRenderer {
	return &JSONRenderer{enc: json.NewEncoder(w)}
}

func (r *JSONRenderer) RenderHistory(derived []models.DerivedLogEntry) error {
	return r.enc.Encode(HistoryRows(derived))
}

func (r *JSONRenderer) RenderMachines(summaries []models.MachineSummary) error {
	return r.enc.Encode(MachineRows(summaries))
}

func (r *JSONRenderer) RenderNotice(notice *models.Notice) error {
	if notice == nil {
		return nil
	}
	return r.enc.Encode(notice)
}
