package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type checkoutKeyRepository struct {
	db dbtx
}

// Idempotency возвращает хранилище ключей оформления заказа.
func (s *Store) Idempotency() domain.IdempotencyRepository {
	return &checkoutKeyRepository{db: s.db}
}

const checkoutKeyColumns = `cart_kind, subject, key, request_hash, state, order_id, http_status, response, expires_at, created_at, updated_at`

// Claim занимает ключ. Истёкший ключ перезанимается, как будто его уже убрала очистка.
func (r *checkoutKeyRepository) Claim(ctx context.Context, scope domain.CheckoutScope, key, requestHash string, expiresAt time.Time) (domain.CheckoutKey, error) {
	scope, key, err := checkoutKeyArgs(scope, key)
	if err != nil {
		return domain.CheckoutKey{}, err
	}
	requestHash = strings.TrimSpace(requestHash)
	if requestHash == "" {
		return domain.CheckoutKey{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := time.Now().UTC()
	claimed, err := scanCheckoutKey(r.db.QueryRowContext(ctx, `
		INSERT INTO checkout_keys (cart_kind, subject, key, request_hash, state, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (cart_kind, subject, key) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
		    state = EXCLUDED.state,
		    order_id = NULL,
		    http_status = NULL,
		    response = NULL,
		    expires_at = EXCLUDED.expires_at,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at
		WHERE checkout_keys.expires_at <= EXCLUDED.created_at
		RETURNING `+checkoutKeyColumns,
		scope.CartKind, scope.Subject, key, requestHash, string(domain.CheckoutKeyPending), expiresAt, now,
	))
	if err == nil {
		return claimed, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.CheckoutKey{}, fmt.Errorf("claim checkout key: %w", err)
	}

	existing, err := scanCheckoutKey(r.db.QueryRowContext(ctx, `
		SELECT `+checkoutKeyColumns+`
		FROM checkout_keys
		WHERE cart_kind = $1 AND subject = $2 AND key = $3
	`, scope.CartKind, scope.Subject, key))
	if err != nil {
		// Ключ освободили между INSERT и SELECT: считаем его занятым, клиент повторит.
		return domain.CheckoutKey{}, domain.ErrIdempotencyKeyAlreadyExists
	}
	if existing.RequestHash != requestHash {
		return existing, domain.ErrIdempotencyHashMismatch
	}
	return existing, domain.ErrIdempotencyKeyAlreadyExists
}

func (r *checkoutKeyRepository) Settle(ctx context.Context, scope domain.CheckoutScope, key string, outcome domain.CheckoutOutcome) error {
	scope, key, err := checkoutKeyArgs(scope, key)
	if err != nil {
		return err
	}
	if !outcome.State.Settled() {
		return fmt.Errorf("%w: checkout key state %q is not final", domain.ErrValidation, outcome.State)
	}

	var orderID sql.NullString
	if outcome.OrderID != "" {
		orderID = sql.NullString{String: outcome.OrderID, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE checkout_keys
		SET state = $4, order_id = $5, http_status = $6, response = $7, updated_at = $8
		WHERE cart_kind = $1 AND subject = $2 AND key = $3 AND state = 'pending'
	`,
		scope.CartKind, scope.Subject, key,
		string(outcome.State), orderID, outcome.HTTPStatus, outcome.Response, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("settle checkout key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checkout key rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

func (r *checkoutKeyRepository) Release(ctx context.Context, scope domain.CheckoutScope, key string) error {
	scope, key, err := checkoutKeyArgs(scope, key)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM checkout_keys
		WHERE cart_kind = $1 AND subject = $2 AND key = $3 AND state = 'pending'
	`, scope.CartKind, scope.Subject, key); err != nil {
		return fmt.Errorf("release checkout key: %w", err)
	}
	return nil
}

// ReleaseStale удаляет до limit pending-ключей, занятых раньше claimedBefore.
func (r *checkoutKeyRepository) ReleaseStale(ctx context.Context, claimedBefore time.Time, limit int) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM checkout_keys
		WHERE (cart_kind, subject, key) IN (
			SELECT cart_kind, subject, key
			FROM checkout_keys
			WHERE state = 'pending' AND created_at < $1
			ORDER BY created_at
			LIMIT $2
		)
	`, claimedBefore, limitArg(limit))
	if err != nil {
		return 0, fmt.Errorf("release stale checkout keys: %w", err)
	}
	return rowsAffected(res)
}

// DeleteExpired удаляет до limit истёкших ключей, начиная с самых старых. limit<=0 снимает ограничение.
func (r *checkoutKeyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM checkout_keys
		WHERE (cart_kind, subject, key) IN (
			SELECT cart_kind, subject, key
			FROM checkout_keys
			WHERE expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
		)
	`, before, limitArg(limit))
	if err != nil {
		return 0, fmt.Errorf("delete expired checkout keys: %w", err)
	}
	return rowsAffected(res)
}

// limitArg превращает limit<=0 в NULL: LIMIT NULL снимает ограничение.
func limitArg(limit int) sql.NullInt64 {
	if limit <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(limit), Valid: true}
}

func rowsAffected(res sql.Result) (int, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checkout key rows affected: %w", err)
	}
	return int(affected), nil
}

func checkoutKeyArgs(scope domain.CheckoutScope, key string) (domain.CheckoutScope, string, error) {
	scope = domain.NewCheckoutScope(scope.CartKind, scope.Subject)
	if scope.Empty() {
		return scope, "", domain.ErrCheckoutScopeRequired
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return scope, "", domain.ErrIdempotencyKeyRequired
	}
	return scope, key, nil
}

func scanCheckoutKey(row *sql.Row) (domain.CheckoutKey, error) {
	var (
		k          domain.CheckoutKey
		state      string
		orderID    sql.NullString
		httpStatus sql.NullInt64
		response   []byte
	)
	if err := row.Scan(
		&k.Scope.CartKind, &k.Scope.Subject, &k.Key, &k.RequestHash, &state,
		&orderID, &httpStatus, &response, &k.ExpiresAt, &k.CreatedAt, &k.UpdatedAt,
	); err != nil {
		return domain.CheckoutKey{}, err
	}

	k.State = domain.CheckoutKeyState(state)
	if !k.State.Valid() {
		return domain.CheckoutKey{}, fmt.Errorf("invalid checkout key state %q for %s/%s", state, k.Scope, k.Key)
	}
	k.OrderID = orderID.String
	k.HTTPStatus = int(httpStatus.Int64)
	k.Response = append([]byte(nil), response...)
	return k, nil
}

var _ domain.IdempotencyRepository = (*checkoutKeyRepository)(nil)
