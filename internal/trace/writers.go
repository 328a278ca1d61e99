package trace

import (
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
)

var columnHeaders = []string{
	"ID", "Title", "App", "Area", "Suite", "Type", "Priority",
	"Status", "Owner", "Stories", "Bugs", "Automation", "Path",
}

func refTexts(refs []Ref) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = r.Text
	}
	return strings.Join(parts, ", ")
}

func rowCells(r Row) []string {
	return []string{
		r.ID, r.Title, r.App, r.Area, r.Suite, r.Type, r.Priority,
		r.Status, r.Owner, refTexts(r.Stories), refTexts(r.Bugs),
		r.Automation, r.Path,
	}
}

// writeCSVFile renders the matrix as CSV the way spreadsheet tools expect
// it: UTF-8 BOM, CRLF line endings, every field quoted.
func writeCSVFile(rows []Row, path string) error {
	var b strings.Builder
	b.WriteString("\uFEFF")
	if len(rows) > 0 {
		writeCSVRecord(&b, columnHeaders)
		for _, r := range rows {
			writeCSVRecord(&b, rowCells(r))
		}
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func writeCSVRecord(b *strings.Builder, fields []string) {
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(f, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteString("\r\n")
}

// writeXLSX renders the matrix as a workbook with a bold frozen header row
// and an autofilter over the whole table.
func writeXLSX(rows []Row, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Traceability"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]interface{}, len(columnHeaders))
	for i, h := range columnHeaders {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, r := range rows {
		cells := rowCells(r)
		vals := make([]interface{}, len(cells))
		for j, c := range cells {
			vals[j] = c
		}
		if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+2), &vals); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}
	tableRef := fmt.Sprintf("A1:M%d", len(rows)+1)
	if err := f.AutoFilter(sheet, tableRef, nil); err != nil {
		return fmt.Errorf("failed to set autofilter: %w", err)
	}

	widths := map[string]float64{
		"A": 14, "B": 42, "C": 12, "D": 26, "E": 12, "F": 14, "G": 10,
		"H": 12, "I": 12, "J": 22, "K": 28, "L": 14, "M": 36,
	}
	for col, w := range widths {
		if err := f.SetColWidth(sheet, col, col, w); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

var htmlTpl = template.Must(template.New("matrix").Parse(`<!doctype html><meta charset="utf-8">
<title>Traceability</title>
<style>
:root { --chip:#eef; --chip2:#efe; --hdr:#f6f7fb; }
body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Helvetica,Arial,sans-serif;margin:16px}
h1{margin:0 0 12px 0;font-size:20px}
.controls{display:flex;gap:8px;flex-wrap:wrap;margin:8px 0 12px}
.controls select, .controls input{padding:6px 8px;font-size:14px}
table{border-collapse:collapse;width:100%}
th,td{border:1px solid #e5e7eb;padding:8px 10px;font-size:14px;vertical-align:top}
th{background:var(--hdr); position:sticky; top:0; z-index:1; cursor:pointer; user-select:none}
tbody tr:nth-child(odd){background:#fafafa}
.badge{display:inline-block; padding:2px 8px; border-radius:999px; font-size:12px}
.suite-Smoke{background:var(--chip)}
.suite-Regression{background:var(--chip2)}
.priority-P0{background:#ffe0e0}
.priority-P1{background:#fff2cc}
.priority-P2{background:#e6f7ff}
.priority-P3{background:#eef}
.status-Ready{background:#e8ffe8}
.status-Draft{background:#fde68a}
.cell a{color:#2563eb; text-decoration:none}
.count{opacity:.7;margin-left:6px}
.small{font-size:12px; opacity:.7}
</style>

<h1>Traceability <span class="count">({{len .Rows}} cases)</span></h1>

<div class="controls">
  <input id="q" placeholder="Search…" />
  <select id="fApp"><option value="">All Apps</option></select>
  <select id="fSuite"><option value="">All Suites</option></select>
  <select id="fPrio"><option value="">All Priorities</option></select>
  <button id="clear">Clear</button>
</div>

<table id="t" data-sortcol="0" data-sortdir="asc">
  <thead><tr>
    {{range .Heads}}<th>{{.}}</th>{{end}}
  </tr></thead>
  <tbody>
    {{range .Rows}}
    <tr data-app="{{.App}}" data-suite="{{.Suite}}" data-prio="{{.Priority}}">
      <td class="cell">{{.ID}}</td>
      <td class="cell">{{.Title}}</td>
      <td class="cell">{{.App}}</td>
      <td class="cell">{{.Area}}</td>
      <td class="cell"><span class="badge suite-{{.Suite}}">{{.Suite}}</span></td>
      <td class="cell">{{.Type}}</td>
      <td class="cell"><span class="badge priority-{{.Priority}}">{{.Priority}}</span></td>
      <td class="cell"><span class="badge status-{{.Status}}">{{.Status}}</span></td>
      <td class="cell">{{.Owner}}</td>
      <td class="cell">{{range $i, $s := .Stories}}{{if $i}}, {{end}}{{if $s.URL}}<a href="{{$s.URL}}">{{$s.Text}}</a>{{else}}{{$s.Text}}{{end}}{{end}}</td>
      <td class="cell">{{range $i, $b := .Bugs}}{{if $i}}, {{end}}{{if $b.URL}}<a href="{{$b.URL}}">{{$b.Text}}</a>{{else}}{{$b.Text}}{{end}}{{end}}</td>
      <td class="cell">{{.Automation}}</td>
      <td class="cell small">{{.Path}}</td>
    </tr>
    {{end}}
  </tbody>
</table>

<script>
const q = document.getElementById('q');
const t = document.getElementById('t');
const fApp = document.getElementById('fApp');
const fSuite = document.getElementById('fSuite');
const fPrio = document.getElementById('fPrio');
const clearBtn = document.getElementById('clear');

function buildFilters() {
  const vals = {app:new Set(), suite:new Set(), prio:new Set()};
  for (const tr of t.tBodies[0].rows) {
    vals.app.add(tr.dataset.app || '');
    vals.suite.add(tr.dataset.suite || '');
    vals.prio.add(tr.dataset.prio || '');
  }
  for (const v of [...vals.app].filter(Boolean).sort()) fApp.add(new Option(v,v));
  for (const v of [...vals.suite].filter(Boolean).sort()) fSuite.add(new Option(v,v));
  for (const v of [...vals.prio].filter(Boolean).sort()) fPrio.add(new Option(v,v));
}
buildFilters();

function applyFilters() {
  const term = (q.value||'').toLowerCase();
  const a = fApp.value, s = fSuite.value, p = fPrio.value;
  for (const tr of t.tBodies[0].rows) {
    const hit = (!a || tr.dataset.app===a)
      && (!s || tr.dataset.suite===s)
      && (!p || tr.dataset.prio===p)
      && ([...tr.cells].some(td => td.textContent.toLowerCase().includes(term)));
    tr.style.display = hit ? '' : 'none';
  }
}
[q,fApp,fSuite,fPrio].forEach(el => el.addEventListener('input', applyFilters));
clearBtn.addEventListener('click', ()=>{ q.value=''; fApp.value=''; fSuite.value=''; fPrio.value=''; applyFilters(); });

document.querySelectorAll('th').forEach((th,idx)=>{
  th.addEventListener('click', ()=>{
    const dir = (t.dataset.sortdir==='asc' && t.dataset.sortcol==idx) ? 'desc':'asc';
    t.dataset.sortcol = idx; t.dataset.sortdir = dir;
    const rows = [...t.tBodies[0].rows];
    rows.sort((a,b)=>{
      const av=a.cells[idx].textContent.trim().toLowerCase();
      const bv=b.cells[idx].textContent.trim().toLowerCase();
      if (av<bv) return dir==='asc'?-1:1;
      if (av>bv) return dir==='asc'?1:-1;
      return 0;
    });
    for (const r of rows) t.tBodies[0].appendChild(r);
  });
});
</script>
`))

func writeHTMLFile(rows []Row, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	data := struct {
		Heads []string
		Rows  []Row
	}{Heads: columnHeaders, Rows: rows}
	if err := htmlTpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to render %s: %w", path, err)
	}
	return nil
}

// writeStats renders per-app, per-suite and per-priority counts as JSON
// plus a barebones HTML summary.
func writeStats(rows []Row, jsonPath, htmlPath string) error {
	byApp := map[string]int{}
	bySuite := map[string]int{}
	byPrio := map[string]int{}
	for _, r := range rows {
		byApp[r.App]++
		bySuite[r.Suite]++
		byPrio[r.Priority]++
	}

	data, err := json.MarshalIndent(map[string]any{
		"by_app":      byApp,
		"by_suite":    bySuite,
		"by_priority": byPrio,
		"total":       len(rows),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", jsonPath, err)
	}

	html := fmt.Sprintf(`<h3>Total: %d</h3>
<ul>
  <li>Apps: %v</li>
  <li>Suites: %v</li>
  <li>Priorities: %v</li>
</ul>`, len(rows), byApp, bySuite, byPrio)
	if err := os.WriteFile(htmlPath, []byte(html), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", htmlPath, err)
	}
	return nil
}

func writeWarnings(warnings []string, path string) error {
	content := "No warnings.\n"
	if len(warnings) > 0 {
		content = strings.Join(warnings, "\n") + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
