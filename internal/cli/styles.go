// Package cli provides styled terminal output using lipgloss.
package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

var (
	// PrimaryColor is the main theme color.
	PrimaryColor = lipgloss.Color("#5B8DEF")
	// SuccessColor indicates successful operations.
	SuccessColor = lipgloss.Color("#4ECDC4")
	// WarningColor indicates warnings or caution messages.
	WarningColor = lipgloss.Color("#FFE66D")
	// ErrorColor indicates errors or failure messages.
	ErrorColor = lipgloss.Color("#FF6B6B")
	// InfoColor indicates informational messages.
	InfoColor = lipgloss.Color("#95E1D3")
	// SubtleColor indicates less prominent UI elements.
	SubtleColor = lipgloss.Color("#666666")

	// TitleStyle is used for section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			MarginBottom(1)

	// SuccessStyle formats success messages.
	SuccessStyle = lipgloss.NewStyle().Foreground(SuccessColor)

	// WarningStyle formats warning messages.
	WarningStyle = lipgloss.NewStyle().Foreground(WarningColor)

	// ErrorStyle formats error messages.
	ErrorStyle = lipgloss.NewStyle().Foreground(ErrorColor)

	// InfoStyle formats informational messages.
	InfoStyle = lipgloss.NewStyle().Foreground(InfoColor)

	// SubtleStyle formats less prominent text.
	SubtleStyle = lipgloss.NewStyle().Foreground(SubtleColor)

	// BoxStyle is used for bordered content boxes.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#333")).
			Padding(1, 2)

	// TableHeaderStyle is used for table headers.
	TableHeaderStyle = lipgloss.NewStyle().Bold(true)

	// TableCellStyle formats table cells with appropriate padding.
	TableCellStyle = lipgloss.NewStyle().PaddingRight(2)

	// PromptStyle is used for user prompts.
	PromptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor)
)

// Icons.
const (
	SuccessIcon = "✓"
	ErrorIcon   = "✗"
	WarningIcon = "⚠"
	InfoIcon    = "ℹ"
	SkipIcon    = "↷"
)

// FormatSuccess formats a success message with icon.
func FormatSuccess(message string) string {
	return SuccessStyle.Render(SuccessIcon + " " + message)
}

// FormatError formats an error message with icon.
func FormatError(message string) string {
	return ErrorStyle.Render(ErrorIcon + " " + message)
}

// FormatWarning formats a warning message with icon.
func FormatWarning(message string) string {
	return WarningStyle.Render(WarningIcon + " " + message)
}

// FormatInfo formats an info message with icon.
func FormatInfo(message string) string {
	return InfoStyle.Render(InfoIcon + " " + message)
}

// FormatTitle formats a section title.
func FormatTitle(title string) string {
	return TitleStyle.Render(title)
}

// FormatPrompt formats a prompt message.
func FormatPrompt(prompt string) string {
	return PromptStyle.Render(prompt + " → ")
}

// RenderBox renders content in a styled box.
func RenderBox(title, content string) string {
	return BoxStyle.Render(lipgloss.JoinVertical(
		lipgloss.Left,
		TitleStyle.UnsetMargins().Render(title),
		content,
	))
}

// RenderTable lays rows out in left-aligned columns under a bold header.
func RenderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}

	line := func(cells []string, style lipgloss.Style) string {
		parts := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			parts[i] = TableCellStyle.Render(style.Width(widths[i]).Render(cell))
		}
		return strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, parts...), " ")
	}

	var b strings.Builder
	b.WriteString(line(headers, TableHeaderStyle))
	for _, row := range rows {
		b.WriteString("\n")
		b.WriteString(line(row, lipgloss.NewStyle()))
	}
	return b.String()
}

// TransactionRows formats transactions for RenderTable; names maps category ids to labels.
func TransactionRows(txns []model.Transaction, names map[int64]string) ([]string, [][]string) {
	headers := []string{"ID", "DATE", "AMOUNT", "DESCRIPTION", "STATUS", "CATEGORY"}
	rows := make([][]string, 0, len(txns))
	for _, t := range txns {
		category := ""
		switch {
		case t.CategoryID != nil:
			category = names[*t.CategoryID]
		case t.StagedCategoryID != nil:
			category = names[*t.StagedCategoryID] + " (staged)"
		case t.PredictedCategoryID != nil:
			category = SubtleStyle.Render(names[*t.PredictedCategoryID] + "?")
		}
		rows = append(rows, []string{
			t.ID,
			t.Date.Format("2006-01-02"),
			t.Amount.String(),
			truncate(t.Description, 40),
			string(t.Status),
			category,
		})
	}
	return headers, rows
}

// RenderTree draws the category tree with ids, parents first.
func RenderTree(nodes []model.CategoryNode) string {
	var b strings.Builder
	for i, node := range nodes {
		if i > 0 {
			b.WriteString("\n")
		}
		parent := TableHeaderStyle.Render(node.Label())
		if node.Color != "" {
			parent = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(node.Color)).Render(node.Label())
		}
		fmt.Fprintf(&b, "%s %s", parent, SubtleStyle.Render(fmt.Sprintf("[%d] %s", node.ID, node.Name)))
		for j, child := range node.Children {
			branch := "├──"
			if j == len(node.Children)-1 {
				branch = "└──"
			}
			fmt.Fprintf(&b, "\n%s %s %s%s", branch, child.Label(),
				SubtleStyle.Render(fmt.Sprintf("[%d] %s", child.ID, child.Name)), flags(child))
		}
	}
	return b.String()
}

func flags(c model.Category) string {
	var out []string
	if c.IsIncome {
		out = append(out, "income")
	}
	if c.IsRecurring {
		out = append(out, "recurring")
	}
	if len(out) == 0 {
		return ""
	}
	return " " + InfoStyle.Render("("+strings.Join(out, ", ")+")")
}

// RenderBatch summarizes a batch result, one line per item that did not succeed.
func RenderBatch(verb string, result *service.BatchResult) string {
	var b strings.Builder
	skipped := result.Count(service.ItemSkipped)
	ok := len(result.Succeeded()) - skipped
	b.WriteString(FormatSuccess(fmt.Sprintf("%s %d of %d", verb, ok, len(result.Items))))
	if skipped > 0 {
		b.WriteString("\n" + SubtleStyle.Render(fmt.Sprintf("%s %d skipped as duplicates", SkipIcon, skipped)))
	}
	for _, item := range result.Failed() {
		b.WriteString("\n" + FormatError(fmt.Sprintf("%s: %v", item.ID, item.Err)))
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
