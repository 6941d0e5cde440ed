package common

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"lovia/src/models"
	"time"
)

// Notifier delivers a rendered email.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

type mailData struct {
	Name        string
	OrderUUID   string
	Project     string
	Plan        string
	Quantity    uint
	Amount      int64
	Method      string
	PaidAt      string
	InvoiceNo   string
	InvoiceType string
	Title       string
	TaxID       string
}

var (
	confirmationTpl = template.Must(template.New("confirmation").Parse(`<p>Hi {{.Name}},</p>
<p>Thank you for backing <strong>{{.Project}}</strong>. Your payment has been received.</p>
<table>
<tr><td>Order</td><td>{{.OrderUUID}}</td></tr>
<tr><td>Plan</td><td>{{.Plan}} x {{.Quantity}}</td></tr>
<tr><td>Amount</td><td>NT$ {{.Amount}}</td></tr>
<tr><td>Method</td><td>{{.Method}}</td></tr>
<tr><td>Paid at</td><td>{{.PaidAt}}</td></tr>
</table>
<p>The Lovia team</p>`))

	receiptTpl = template.Must(template.New("receipt").Parse(`<p>Hi {{.Name}},</p>
<p>This is the receipt for your sponsorship of <strong>{{.Project}}</strong>.</p>
<table>
<tr><td>Receipt no.</td><td>{{.InvoiceNo}}</td></tr>
<tr><td>Type</td><td>{{.InvoiceType}}</td></tr>
{{if .Title}}<tr><td>Title</td><td>{{.Title}}</td></tr>{{end}}
{{if .TaxID}}<tr><td>Tax ID</td><td>{{.TaxID}}</td></tr>{{end}}
<tr><td>Order</td><td>{{.OrderUUID}}</td></tr>
<tr><td>Amount</td><td>NT$ {{.Amount}}</td></tr>
<tr><td>Paid at</td><td>{{.PaidAt}}</td></tr>
</table>`))
)

func newMailData(order *models.Order, user *models.User, project *models.Project, plan *models.Plan) *mailData {
	d := &mailData{
		Name:      user.Name,
		OrderUUID: order.OrderUUID.String(),
		Quantity:  order.Quantity,
		Amount:    order.Amount,
	}
	if d.Name == "" {
		d.Name = user.Email
	}
	if project != nil {
		d.Project = project.Title
	}
	if plan != nil {
		d.Plan = plan.Name
	}
	if order.PaymentMethod != nil {
		d.Method = *order.PaymentMethod
	}
	if order.PaidAt != nil {
		d.PaidAt = order.PaidAt.In(taipei).Format(time.DateTime)
	}
	if inv := order.Invoice; inv != nil {
		d.InvoiceType = string(inv.Type)
		d.Title = inv.Title
		if inv.InvoiceNo != nil {
			d.InvoiceNo = *inv.InvoiceNo
		}
		if inv.TaxID != nil {
			d.TaxID = *inv.TaxID
		}
	}
	return d
}

var taipei = time.FixedZone("Asia/Taipei", 8*60*60)

func renderConfirmation(d *mailData) (string, string, error) {
	var buf bytes.Buffer
	if err := confirmationTpl.Execute(&buf, d); err != nil {
		return "", "", err
	}
	return fmt.Sprintf("[Lovia] Payment received for %s", d.Project), buf.String(), nil
}

func renderReceipt(d *mailData) (string, string, error) {
	var buf bytes.Buffer
	if err := receiptTpl.Execute(&buf, d); err != nil {
		return "", "", err
	}
	return fmt.Sprintf("[Lovia] Receipt %s", d.InvoiceNo), buf.String(), nil
}
