package email

import (
	"fmt"
	"html"
	"strings"

	"github.com/shopspring/decimal"
)

// ReceiptItem represents an order line for email purposes
type ReceiptItem struct {
	Name      string
	Quantity  int
	Unit      string
	UnitPrice decimal.Decimal
}

type Receipt struct {
	OrderNumber   string
	Reference     string
	TransactionID string
	Currency      string
	Amount        decimal.Decimal
	Items         []ReceiptItem
}

const cell = `style="padding: 12px; border-bottom: 1px solid #eee;`

// BuildPaymentReceiptBody builds the HTML body for a payment receipt
func BuildPaymentReceiptBody(r Receipt) string {
	var itemsHTML strings.Builder
	for _, item := range r.Items {
		lineTotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		itemsHTML.WriteString(fmt.Sprintf(
			`<tr>
				<td %s">%s</td>
				<td %s text-align: center;">%d %s</td>
				<td %s text-align: right;">%s</td>
				<td %s text-align: right;">%s</td>
			</tr>`,
			cell, html.EscapeString(item.Name),
			cell, item.Quantity, html.EscapeString(item.Unit),
			cell, formatMoney(r.Currency, item.UnitPrice),
			cell, formatMoney(r.Currency, lineTotal),
		))
	}

	content := fmt.Sprintf(`<p style="margin-top: 0;">We have received your payment. Your order is confirmed and the farmer has been notified.</p>

		%s

		<table style="width: 100%%; border-collapse: collapse; margin: 20px 0;">
			<thead>
				<tr style="background: #f8f9fa;">
					<th style="padding: 12px; text-align: left; font-weight: 600;">Product</th>
					<th style="padding: 12px; text-align: center; font-weight: 600;">Quantity</th>
					<th style="padding: 12px; text-align: right; font-weight: 600;">Unit price</th>
					<th style="padding: 12px; text-align: right; font-weight: 600;">Total</th>
				</tr>
			</thead>
			<tbody>
				%s
			</tbody>
		</table>

		<div style="text-align: right; padding: 20px; background: #f8f9fa; border-radius: 5px;">
			<span style="font-size: 14px; color: #666;">Amount paid</span>
			<span style="font-size: 24px; font-weight: bold; color: #2e7d32; margin-left: 10px;">%s</span>
		</div>

		<p style="font-size: 13px; color: #666;">Payment reference: <span style="font-family: monospace;">%s</span></p>`,
		orderNumberBlock(r.OrderNumber), itemsHTML.String(), formatMoney(r.Currency, r.Amount), html.EscapeString(r.Reference))

	return layout("Payment received", content)
}

// BuildPaymentFailedBody builds the HTML body for a failed payment
func BuildPaymentFailedBody(orderNumber, reason string) string {
	if reason == "" {
		reason = "payment failed"
	}
	content := fmt.Sprintf(`<p style="margin-top: 0;">Your payment could not be completed, so this order will not be fulfilled.</p>

		%s

		<p>Reason given by the payment provider: <strong>%s</strong></p>
		<p>No stock was reserved for this order. Please place a new order to try again.</p>`,
		orderNumberBlock(orderNumber), html.EscapeString(reason))

	return layout("Payment not completed", content)
}

// BuildOrderExpiredBody builds the HTML body for an order cancelled unpaid
func BuildOrderExpiredBody(orderNumber string) string {
	content := fmt.Sprintf(`<p style="margin-top: 0;">We did not receive payment for this order in time, so it has been cancelled.</p>

		%s

		<p>You have not been charged. Please place a new order if you still need these products.</p>`,
		orderNumberBlock(orderNumber))

	return layout("Order expired", content)
}

// BuildFulfillmentBody builds the HTML body for shipping progress
func BuildFulfillmentBody(orderNumber, status string) string {
	message := "Your order has been updated."
	switch status {
	case "shipped":
		message = "Good news: your order is on its way."
	case "delivered":
		message = "Your order has been delivered. Thank you for buying from local farmers."
	}
	content := fmt.Sprintf(`<p style="margin-top: 0;">%s</p>

		%s`, message, orderNumberBlock(orderNumber))

	return layout("Order "+html.EscapeString(status), content)
}

func orderNumberBlock(orderNumber string) string {
	return fmt.Sprintf(`<div style="background: #f8f9fa; padding: 15px; border-radius: 5px; margin: 20px 0;">
			<p style="margin: 0; font-size: 14px; color: #666;">Order number</p>
			<p style="margin: 5px 0 0 0; font-size: 18px; font-weight: bold; font-family: monospace;">%s</p>
		</div>`, html.EscapeString(orderNumber))
}

func layout(title, content string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background: linear-gradient(135deg, #43a047 0%%, #1b5e20 100%%); padding: 30px; border-radius: 10px 10px 0 0;">
		<h1 style="color: white; margin: 0; font-size: 24px;">%s</h1>
	</div>

	<div style="background: #fff; padding: 30px; border: 1px solid #eee; border-top: none; border-radius: 0 0 10px 10px;">
		%s

		<hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">

		<p style="font-size: 12px; color: #999; margin-bottom: 0;">
			This is an automated message from AgriLink. Contact support if you have any questions.
		</p>
	</div>
</body>
</html>`, title, content)
}

// formatMoney renders an amount with two decimals and thousands separators
func formatMoney(currency string, amount decimal.Decimal) string {
	whole, frac, _ := strings.Cut(amount.Abs().StringFixed(2), ".")

	var groups []string
	for len(whole) > 3 {
		groups = append([]string{whole[len(whole)-3:]}, groups...)
		whole = whole[:len(whole)-3]
	}
	groups = append([]string{whole}, groups...)

	sign := ""
	if amount.IsNegative() {
		sign = "-"
	}
	return fmt.Sprintf("%s %s%s.%s", currency, sign, strings.Join(groups, ","), frac)
}
