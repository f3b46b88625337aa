package partneremails

import (
	"bytes"
	"fmt"
	"text/template"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"referly/internal/partners"
)

const subjectTemplate = `[{{.Period}}] Partner payment notice for {{.Domain}}`

const bodyTemplate = `Dear {{.Name}},

Thank you for featuring our referral widget on {{.Domain}}.
Here is your payment summary for the period {{.Period}}.

  Active days:    {{.ActiveDays}} / {{.TotalDays}}
  Inactive days:  {{.InactiveDays}}
  Daily rate:     {{amount .DailyRate}}
  Amount due:     {{amount .Amount}}
{{- with .Bank}}{{if not .IsZero}}

The amount will be transferred to:
{{- if or .BankName .BranchName}}
  {{.BankName}}{{if and .BankName .BranchName}} {{end}}{{.BranchName}}{{end}}
{{- if or .AccountType .AccountNumber}}
  {{.AccountType}}{{if and .AccountType .AccountNumber}} {{end}}{{.AccountNumber}}{{end}}
{{- with .AccountHolder}}
  {{.}}{{end}}
{{- end}}{{end}}

Please reply to this message if anything looks wrong.
`

// invoiceData is what the templates see.
type invoiceData struct {
	Name         string
	Domain       string
	Period       string
	ActiveDays   int
	InactiveDays int
	TotalDays    int
	DailyRate    int64
	Amount       int64
	Bank         partners.BankInfo
}

// Renderer produces the subject and body of an invoice notice.
type Renderer struct {
	subject *template.Template
	body    *template.Template
}

// NewRenderer builds a renderer formatting amounts for locale with symbol as prefix.
func NewRenderer(locale, symbol string) (*Renderer, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("invalid invoice locale %q: %w", locale, err)
	}
	printer := message.NewPrinter(tag)
	funcs := template.FuncMap{
		"amount": func(v int64) string {
			return symbol + printer.Sprintf("%d", v)
		},
	}

	subject, err := template.New("subject").Funcs(funcs).Parse(subjectTemplate)
	if err != nil {
		return nil, err
	}
	body, err := template.New("body").Funcs(funcs).Parse(bodyTemplate)
	if err != nil {
		return nil, err
	}
	return &Renderer{subject: subject, body: body}, nil
}

func (r *Renderer) render(partner *partners.Partner, payment *partners.Payment) (subject, body string, err error) {
	data := invoiceData{
		Name:         partner.Name,
		Domain:       partner.Domain,
		Period:       payment.PeriodStart + " ~ " + payment.PeriodEnd,
		ActiveDays:   payment.DaysActive,
		InactiveDays: payment.InactiveDays,
		TotalDays:    payment.TotalDays,
		DailyRate:    payment.DailyRate,
		Amount:       payment.Amount,
		Bank:         partner.BankInfo.Data(),
	}

	var buf bytes.Buffer
	if err := r.subject.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("failed to render subject: %w", err)
	}
	subject = buf.String()

	buf.Reset()
	if err := r.body.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("failed to render body: %w", err)
	}
	return subject, buf.String(), nil
}
