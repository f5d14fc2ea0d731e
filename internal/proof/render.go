// Package proof renders the closing proof documents: the drawer closing
// statement and the disbursement journal. Rendering is deterministic so a
// re-render of the same record produces the same document.
package proof

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tresoria-erp/tresoria/internal/closing"
)

var frenchPrinter = message.NewPrinter(language.French)

// frenchGroupSep is the digit grouping separator from the locale data.
var frenchGroupSep = func() string {
	grouped := frenchPrinter.Sprintf("%d", 1000)
	return strings.TrimFunc(grouped, func(r rune) bool { return r >= '0' && r <= '9' })
}()

// formatAmount renders a monetary value in French locale, e.g. 1 234,56.
// The decimal digits are carried through exactly, never via binary floats,
// so amounts of any magnitude render to the cent.
func formatAmount(v decimal.Decimal) string {
	fixed := v.StringFixed(2)
	neg := strings.HasPrefix(fixed, "-")
	fixed = strings.TrimPrefix(fixed, "-")
	intPart := fixed[:len(fixed)-3]
	cents := fixed[len(fixed)-2:]

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i := 0; i < len(intPart); i++ {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteString(frenchGroupSep)
		}
		b.WriteByte(intPart[i])
	}
	b.WriteByte(',')
	b.WriteString(cents)
	return b.String()
}

func formatOptional(v *decimal.Decimal) string {
	if v == nil {
		return "N/A"
	}
	return formatAmount(*v)
}

type breakdownRow struct {
	Value    string
	Quantity int64
	Subtotal string
}

// breakdownRows orders a denomination breakdown by descending face value.
func breakdownRows(counts map[string]int64) []breakdownRow {
	values := make([]decimal.Decimal, 0, len(counts))
	for raw := range counts {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return values[i].GreaterThan(values[j]) })
	rows := make([]breakdownRow, 0, len(values))
	for _, v := range values {
		qty := counts[v.String()]
		rows = append(rows, breakdownRow{
			Value:    formatAmount(v),
			Quantity: qty,
			Subtotal: formatAmount(v.Mul(decimal.NewFromInt(qty))),
		})
	}
	return rows
}

type movementRow struct {
	OccurredAt string
	Kind       string
	Label      string
	Reference  string
	AmountUSD  string
	AmountCDF  string
}

func movementRows(items []closing.LineItem, only closing.MovementKind) ([]movementRow, decimal.Decimal, decimal.Decimal) {
	rows := make([]movementRow, 0, len(items))
	totalUSD := decimal.Zero
	totalCDF := decimal.Zero
	for _, item := range items {
		if only != "" && item.Kind != only {
			continue
		}
		rows = append(rows, movementRow{
			OccurredAt: item.OccurredAt.UTC().Format("2006-01-02 15:04"),
			Kind:       movementLabel(item.Kind),
			Label:      item.Label,
			Reference:  item.Reference,
			AmountUSD:  formatAmount(item.AmountUSD),
			AmountCDF:  formatAmount(item.AmountCDF),
		})
		totalUSD = totalUSD.Add(item.AmountUSD)
		totalCDF = totalCDF.Add(item.AmountCDF)
	}
	return rows, totalUSD, totalCDF
}

func movementLabel(kind closing.MovementKind) string {
	switch kind {
	case closing.MovementIn:
		return "Encaissement"
	case closing.MovementOut:
		return "Décaissement"
	default:
		return string(kind)
	}
}

func classificationLabel(c string) string {
	switch c {
	case "SHORTFALL":
		return "Manquant"
	case "SURPLUS":
		return "Surplus"
	case "BALANCED":
		return "Équilibré"
	default:
		return c
	}
}

type closingView struct {
	Reference      string
	ClosedAt       string
	CashierID      int64
	ExchangeRate   string
	TheoreticalUSD string
	TheoreticalCDF string
	PhysicalUSD    string
	PhysicalCDF    string
	UsdEquivalent  string
	VarianceUSD    string
	VarianceCDF    string
	Classification string
	Observation    string
	BreakdownUSD   []breakdownRow
	BreakdownCDF   []breakdownRow
	Movements      []movementRow
	MovementsUSD   string
	MovementsCDF   string
}

func buildClosingView(data closing.ProofData) closingView {
	rec := data.Record
	rows, totalUSD, totalCDF := movementRows(data.LineItems, "")
	return closingView{
		Reference:      rec.Reference,
		ClosedAt:       rec.ClosedAt.UTC().Format("02/01/2006 15:04"),
		CashierID:      rec.CashierID,
		ExchangeRate:   formatAmount(rec.ExchangeRate),
		TheoreticalUSD: formatAmount(rec.TheoreticalUSD),
		TheoreticalCDF: formatAmount(rec.TheoreticalCDF),
		PhysicalUSD:    formatAmount(rec.PhysicalUSD),
		PhysicalCDF:    formatAmount(rec.PhysicalCDF),
		UsdEquivalent:  formatOptional(rec.UsdEquivalent),
		VarianceUSD:    formatOptional(rec.VarianceUSD),
		VarianceCDF:    formatAmount(rec.VarianceCDF),
		Classification: classificationLabel(string(rec.Classification)),
		Observation:    rec.Observation,
		BreakdownUSD:   breakdownRows(rec.BreakdownUSD),
		BreakdownCDF:   breakdownRows(rec.BreakdownCDF),
		Movements:      rows,
		MovementsUSD:   formatAmount(totalUSD),
		MovementsCDF:   formatAmount(totalCDF),
	}
}

var closingTmpl = template.Must(template.New("closing").Parse(`<!DOCTYPE html>
<html lang="fr">
<head>
<meta charset="utf-8">
<title>Procès-verbal de clôture {{.Reference}}</title>
<style>
body { font-family: "DejaVu Sans", sans-serif; font-size: 12px; margin: 32px; }
h1 { font-size: 18px; text-align: center; }
table { width: 100%; border-collapse: collapse; margin-bottom: 16px; }
th, td { border: 1px solid #444; padding: 4px 6px; text-align: left; }
td.num, th.num { text-align: right; }
tfoot td { font-weight: bold; }
.meta td { border: none; padding: 2px 6px; }
.signatures { margin-top: 48px; width: 100%; }
.signatures td { border: none; border-top: 1px solid #444; width: 45%; text-align: center; padding-top: 8px; }
.spacer { width: 10%; border: none; }
</style>
</head>
<body>
<h1>Procès-verbal de clôture de caisse</h1>
<table class="meta">
<tr><td>Référence</td><td>{{.Reference}}</td></tr>
<tr><td>Date de clôture</td><td>{{.ClosedAt}}</td></tr>
<tr><td>Caissier</td><td>N° {{.CashierID}}</td></tr>
<tr><td>Taux appliqué</td><td>{{.ExchangeRate}} CDF/USD</td></tr>
</table>
<h2>Réconciliation</h2>
<table>
<thead><tr><th></th><th class="num">USD</th><th class="num">CDF</th></tr></thead>
<tbody>
<tr><td>Solde théorique</td><td class="num">{{.TheoreticalUSD}}</td><td class="num">{{.TheoreticalCDF}}</td></tr>
<tr><td>Encaisse physique</td><td class="num">{{.PhysicalUSD}}</td><td class="num">{{.PhysicalCDF}}</td></tr>
<tr><td>Écart</td><td class="num">{{.VarianceUSD}}</td><td class="num">{{.VarianceCDF}}</td></tr>
</tbody>
<tfoot>
<tr><td>Équivalent USD de l'encaisse</td><td class="num" colspan="2">{{.UsdEquivalent}}</td></tr>
<tr><td>Conclusion</td><td colspan="2">{{.Classification}}</td></tr>
</tfoot>
</table>
<h2>Billetage USD</h2>
<table>
<thead><tr><th class="num">Coupure</th><th class="num">Quantité</th><th class="num">Sous-total</th></tr></thead>
<tbody>
{{range .BreakdownUSD}}<tr><td class="num">{{.Value}}</td><td class="num">{{.Quantity}}</td><td class="num">{{.Subtotal}}</td></tr>
{{end}}</tbody>
<tfoot><tr><td colspan="2">Total USD</td><td class="num">{{.PhysicalUSD}}</td></tr></tfoot>
</table>
<h2>Billetage CDF</h2>
<table>
<thead><tr><th class="num">Coupure</th><th class="num">Quantité</th><th class="num">Sous-total</th></tr></thead>
<tbody>
{{range .BreakdownCDF}}<tr><td class="num">{{.Value}}</td><td class="num">{{.Quantity}}</td><td class="num">{{.Subtotal}}</td></tr>
{{end}}</tbody>
<tfoot><tr><td colspan="2">Total CDF</td><td class="num">{{.PhysicalCDF}}</td></tr></tfoot>
</table>
<h2>Mouvements de la période</h2>
<table>
<thead><tr><th>Date</th><th>Nature</th><th>Libellé</th><th>Référence</th><th class="num">USD</th><th class="num">CDF</th></tr></thead>
<tbody>
{{range .Movements}}<tr><td>{{.OccurredAt}}</td><td>{{.Kind}}</td><td>{{.Label}}</td><td>{{.Reference}}</td><td class="num">{{.AmountUSD}}</td><td class="num">{{.AmountCDF}}</td></tr>
{{end}}</tbody>
<tfoot><tr><td colspan="4">Totaux</td><td class="num">{{.MovementsUSD}}</td><td class="num">{{.MovementsCDF}}</td></tr></tfoot>
</table>
{{if .Observation}}<h2>Observation</h2><p>{{.Observation}}</p>{{end}}
<table class="signatures">
<tr><td>Le Caissier</td><td class="spacer"></td><td>Le Trésorier</td></tr>
</table>
</body>
</html>
`))

// RenderClosing produces the HTML body of the closing statement.
func RenderClosing(data closing.ProofData) (string, error) {
	if data.Record.Reference == "" {
		return "", fmt.Errorf("proof: record has no reference")
	}
	var buf bytes.Buffer
	if err := closingTmpl.Execute(&buf, buildClosingView(data)); err != nil {
		return "", fmt.Errorf("proof: render closing: %w", err)
	}
	return buf.String(), nil
}

type journalView struct {
	Reference string
	ClosedAt  string
	CashierID int64
	Rows      []movementRow
	TotalUSD  string
	TotalCDF  string
}

var journalTmpl = template.Must(template.New("journal").Parse(`<!DOCTYPE html>
<html lang="fr">
<head>
<meta charset="utf-8">
<title>Journal des décaissements {{.Reference}}</title>
<style>
body { font-family: "DejaVu Sans", sans-serif; font-size: 12px; margin: 32px; }
h1 { font-size: 18px; text-align: center; }
table { width: 100%; border-collapse: collapse; }
th, td { border: 1px solid #444; padding: 4px 6px; text-align: left; }
td.num, th.num { text-align: right; }
tfoot td { font-weight: bold; }
</style>
</head>
<body>
<h1>Journal des décaissements</h1>
<p>Clôture {{.Reference}} du {{.ClosedAt}}, caissier n° {{.CashierID}}</p>
<table>
<thead><tr><th>Date</th><th>Libellé</th><th>Référence</th><th class="num">USD</th><th class="num">CDF</th></tr></thead>
<tbody>
{{range .Rows}}<tr><td>{{.OccurredAt}}</td><td>{{.Label}}</td><td>{{.Reference}}</td><td class="num">{{.AmountUSD}}</td><td class="num">{{.AmountCDF}}</td></tr>
{{end}}</tbody>
<tfoot><tr><td colspan="3">Totaux</td><td class="num">{{.TotalUSD}}</td><td class="num">{{.TotalCDF}}</td></tr></tfoot>
</table>
</body>
</html>
`))

// RenderJournal produces the HTML body of the disbursement journal covering
// the record's window. Only décaissements appear.
func RenderJournal(data closing.ProofData) (string, error) {
	rows, totalUSD, totalCDF := movementRows(data.LineItems, closing.MovementOut)
	view := journalView{
		Reference: data.Record.Reference,
		ClosedAt:  data.Record.ClosedAt.UTC().Format("02/01/2006"),
		CashierID: data.Record.CashierID,
		Rows:      rows,
		TotalUSD:  formatAmount(totalUSD),
		TotalCDF:  formatAmount(totalCDF),
	}
	var buf bytes.Buffer
	if err := journalTmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("proof: render journal: %w", err)
	}
	return buf.String(), nil
}
