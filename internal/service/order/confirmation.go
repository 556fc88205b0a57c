package order

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
)

var confirmationTemplate = template.Must(template.New("confirmation").Parse(
	`Заказ #{{ .Order.ID }} от {{ .Order.CreatedAt.Format "02.01.2006 15:04" }}

Покупатель: {{ .Order.LastName }} {{ .Order.FirstName }}
Телефон: {{ .Order.Phone }}
{{- if .Order.Email }}
Email: {{ .Order.Email }}
{{- end }}
{{- if .Order.Address }}
Адрес: {{ .Order.Address }}
{{- end }}
Получение: {{ .Order.BuyingType }}, оплата: {{ .Order.PaymentType }}
{{- if .Order.Comment }}
Комментарий: {{ .Order.Comment }}
{{- end }}

{{ range .Lines -}}
- {{ .Name }}{{ if .Size }} (размер {{ .Size }}){{ end }}: {{ .Qty }} x {{ .UnitPrice }} = {{ .FinalPrice }}
{{ end -}}

Итого: {{ .Total }}
`))

type confirmationLine struct {
	Name       string
	Size       string
	Qty        int
	UnitPrice  string
	FinalPrice string
}

// RenderConfirmation собирает тему и текст подтверждения заказа.
func RenderConfirmation(o domain.Order, items []domain.LineItem) (string, string, error) {
	lines := make([]confirmationLine, 0, len(items))
	for _, item := range items {
		line := confirmationLine{
			Name:       item.Product.Name,
			Qty:        item.Qty,
			UnitPrice:  item.UnitPrice.StringFixed(2),
			FinalPrice: item.FinalPrice.StringFixed(2),
		}
		if item.Size != nil {
			line.Size = domain.NormalizeSize(item.Size.Value)
		}
		lines = append(lines, line)
	}

	var body bytes.Buffer
	err := confirmationTemplate.Execute(&body, struct {
		Order domain.Order
		Lines []confirmationLine
		Total string
	}{
		Order: o,
		Lines: lines,
		Total: o.FinalPrice.StringFixed(2),
	})
	if err != nil {
		return "", "", fmt.Errorf("render confirmation: %w", err)
	}

	return fmt.Sprintf("Заказ #%s", o.ID), body.String(), nil
}

// sendConfirmation отправляет подтверждение после фиксации заказа. Ошибки только логируются.
func (s *Service) sendConfirmation(ctx context.Context, o domain.Order, items []domain.LineItem) {
	if s.notifier == nil {
		return
	}

	logger := s.logger.WithField("order_id", o.ID)
	subject, body, err := RenderConfirmation(o, items)
	if err != nil {
		s.metrics.RecordNotification(metrics.ResultError)
		logger.WithError(err).Warn("failed to render order confirmation")
		return
	}

	if err := s.notifier.Send(ctx, s.notifyTo, subject, body); err != nil {
		s.metrics.RecordNotification(metrics.ResultError)
		logger.WithError(err).Warn("failed to send order confirmation")
		return
	}
	s.metrics.RecordNotification(metrics.ResultOK)
}
