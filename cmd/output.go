package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/rotisserie/eris"

	"github.com/sells-group/apm-cli/internal/pipeline"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode output")
}

// printResults writes one row per operation result, followed by the item
// failures, and returns an error when any operation failed.
func printResults(w io.Writer, results []*pipeline.OpResult) error {
	if outputJSON {
		if err := writeJSON(w, results); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(w, renderTable(
			[]string{"Operation", "Application", "Status", "Reason", "Items", "Confidence", "Cost (USD)"},
			resultRows(results),
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
		))
		if rows := failureRows(results); len(rows) > 0 {
			fmt.Fprintln(w, renderTable([]string{"Application", "Item", "Kind", "Error"}, rows, nil))
		}
	}

	failed := 0
	for _, r := range results {
		if r != nil && r.Status == pipeline.StatusFailed {
			failed++
		}
	}
	if failed > 0 {
		return eris.Errorf("%d of %d operations failed", failed, len(results))
	}
	return nil
}

func resultRows(results []*pipeline.OpResult) [][]string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		reason := string(r.Reason)
		if r.Status == pipeline.StatusFailed {
			reason = string(r.Kind)
		}
		items := ""
		if len(r.Items) > 0 {
			items = fmt.Sprintf("%d/%d", r.Count(pipeline.StatusProcessed), len(r.Items))
		}
		rows = append(rows, []string{
			r.Operation,
			r.Application,
			string(r.Status),
			reason,
			items,
			fmt.Sprintf("%.2f", r.Confidence),
			fmt.Sprintf("%.4f", r.CostUSD),
		})
	}
	return rows
}

func failureRows(results []*pipeline.OpResult) [][]string {
	var rows [][]string
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Status == pipeline.StatusFailed && r.Error != "" {
			rows = append(rows, []string{r.Application, "", string(r.Kind), oneLine(r.Error)})
		}
		for _, it := range r.Items {
			if it.Status == pipeline.StatusFailed {
				rows = append(rows, []string{r.Application, it.Key, string(it.Kind), oneLine(it.Error)})
			}
		}
	}
	return rows
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 120 {
		return s[:117] + "..."
	}
	return s
}
