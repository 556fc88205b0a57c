package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const defaultTTL = 24 * time.Hour

// ErrRequestInProgress: оформление с тем же ключом ещё выполняется.
var ErrRequestInProgress = errors.New("checkout with the same idempotency key is already processing")

// Response: ответ на оформление заказа.
type Response struct {
	Status int
	Body   []byte
	// OrderID заполняется, когда заказ создан.
	OrderID string
	// Retryable: итог зависит от корзины или остатков, а не от тела запроса.
	// Такой ответ не сохраняется, и повтор с тем же ключом снова оформляет заказ.
	Retryable bool
	Replayed  bool
}

// Guard оформляет заказ не больше одного раза на ключ корзины и воспроизводит сохранённый ответ.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
	now    func() time.Time
}

// NewGuard создаёт Guard. ttl<=0 означает сутки.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "checkout-guard")
	}
	return &Guard{
		repo:   repo,
		ttl:    ttl,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RequestHash строит отпечаток запроса из вида корзины, владельца и тела.
func RequestHash(parts ...[]byte) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write(part)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Execute оформляет заказ через run под ключом key в корзине scope. Пустой ключ отключает защиту.
func (g *Guard) Execute(ctx context.Context, scope domain.CheckoutScope, key, requestHash string, run func(ctx context.Context) Response) (Response, error) {
	key = strings.TrimSpace(key)
	if g == nil || g.repo == nil || key == "" {
		return run(ctx), nil
	}

	claimed, err := g.repo.Claim(ctx, scope, key, requestHash, g.now().Add(g.ttl))
	if err != nil {
		return g.replay(err, claimed)
	}

	logger := g.logger.WithFields(log.Fields{
		"cart":            scope.String(),
		"idempotency_key": key,
	})

	resp := run(ctx)
	if resp.Retryable {
		if err := g.repo.Release(ctx, scope, key); err != nil {
			logger.WithError(err).Warn("failed to release checkout key")
		}
		return resp, nil
	}

	outcome := domain.CheckoutOutcome{
		State:      domain.CheckoutKeyPlaced,
		OrderID:    resp.OrderID,
		HTTPStatus: resp.Status,
		Response:   resp.Body,
	}
	if resp.Status >= http.StatusBadRequest || resp.OrderID == "" {
		outcome.State = domain.CheckoutKeyRejected
		outcome.OrderID = ""
	}
	if err := g.repo.Settle(ctx, scope, key, outcome); err != nil {
		logger.WithError(err).Warn("failed to store checkout outcome")
	} else if outcome.State == domain.CheckoutKeyPlaced {
		logger.WithField("order_id", outcome.OrderID).Debug("checkout key settled")
	}
	return resp, nil
}

func (g *Guard) replay(claimErr error, existing domain.CheckoutKey) (Response, error) {
	switch {
	case errors.Is(claimErr, domain.ErrIdempotencyHashMismatch):
		return Response{}, claimErr
	case errors.Is(claimErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch {
		case existing.State.Settled():
			return Response{
				Status:   existing.HTTPStatus,
				Body:     existing.Response,
				OrderID:  existing.OrderID,
				Replayed: true,
			}, nil
		case existing.State == domain.CheckoutKeyPending || existing.State == "":
			return Response{}, ErrRequestInProgress
		default:
			return Response{}, fmt.Errorf("unknown checkout key state %q", existing.State)
		}
	default:
		return Response{}, fmt.Errorf("claim checkout key: %w", claimErr)
	}
}
