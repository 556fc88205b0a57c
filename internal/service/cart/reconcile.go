package cart

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// WarningKind: что сверка сделала с позицией.
type WarningKind string

const (
	// WarningReduced: количество урезано до остатка.
	WarningReduced WarningKind = "reduced"
	// WarningUnavailable означает, что позиция удалена, потому что товара нет или он исчез из каталога.
	WarningUnavailable WarningKind = "unavailable"
)

// Warning описывает изменение одной позиции.
type Warning struct {
	Key         domain.LineKey
	ProductName string
	Kind        WarningKind
	Requested   int
	Available   int
}

// Report описывает результат сверки. NeedsRecheck=true означает, что корзина изменена и сверку нужно повторить.
type Report struct {
	Warnings     []Warning
	NeedsRecheck bool
}

// ReconcileBeforeCheckout сверяет позиции с живыми остатками в порядке ключей.
// На первой позиции, которую пришлось урезать или удалить, сверка останавливается.
func (s *Service) ReconcileBeforeCheckout(ctx context.Context, h Handle) (Report, error) {
	b, err := s.backend(h)
	if err != nil {
		return Report{}, err
	}

	var report Report
	_, err = b.update(ctx, false, func(_ context.Context, ws *workingSet) error {
		report = reconcile(ws)
		return nil
	})
	if err != nil {
		return Report{}, err
	}

	for _, w := range report.Warnings {
		s.metrics.RecordReconcileWarning(string(w.Kind))
		s.logger.WithFields(log.Fields{
			"cart":      h.Kind(),
			"line":      w.Key,
			"kind":      w.Kind,
			"requested": w.Requested,
			"available": w.Available,
		}).Info("cart line adjusted before checkout")
	}
	return report, nil
}

func reconcile(ws *workingSet) Report {
	for _, key := range ws.keys() {
		item, ok := ws.get(key)
		if !ok {
			ws.remove(key)
			return halted(Warning{Key: key, Kind: WarningUnavailable})
		}

		available := item.Available()
		if item.Qty <= available {
			continue
		}

		warning := Warning{Key: key, ProductName: item.Product.Name, Requested: item.Qty, Available: available}
		if available <= 0 {
			ws.remove(key)
			warning.Kind = WarningUnavailable
			warning.Available = 0
		} else {
			item.Qty = available
			ws.set(item)
			warning.Kind = WarningReduced
		}
		return halted(warning)
	}
	return Report{}
}

func halted(w Warning) Report {
	return Report{Warnings: []Warning{w}, NeedsRecheck: true}
}
