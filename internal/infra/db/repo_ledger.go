package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quotasigner/internal/domain"
	"quotasigner/internal/infra/ledger"

	"gorm.io/gorm"
)

// LedgerRepository is the postgres ledger backend.
type LedgerRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db, now: time.Now}
}

func (r *LedgerRepository) QuotaStatus(ctx context.Context, id domain.Identifier) (domain.QuotaStatus, error) {
	if r.db == nil {
		return domain.QuotaStatus{}, errDBUnavailable
	}
	var model QuotaAccountModel
	err := r.db.WithContext(ctx).Where("identifier = ?", string(id)).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.QuotaStatus{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.QuotaStatus{}, err
	}
	return domain.QuotaStatus{
		PerformedQueryCount: model.PerformedQueryCount,
		TotalQuota:          model.TotalQuota,
	}, nil
}

func (r *LedgerRepository) DomainState(ctx context.Context, d domain.Identifier) (domain.DomainState, error) {
	if r.db == nil {
		return domain.DomainState{}, errDBUnavailable
	}
	var model DomainStateModel
	err := r.db.WithContext(ctx).Where("domain = ?", string(d)).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.DomainState{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.DomainState{}, err
	}
	return domain.DomainState{
		Domain:   domain.Identifier(model.Domain),
		Disabled: model.Disabled,
		Quota: domain.QuotaStatus{
			PerformedQueryCount: model.PerformedQueryCount,
			TotalQuota:          model.TotalQuota,
		},
	}, nil
}

func (r *LedgerRepository) DisableDomain(ctx context.Context, d domain.Identifier) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO domain_states (domain, disabled, performed_query_count, total_quota, updated_at)
		 VALUES (?, true, 0, 0, ?)
		 ON CONFLICT (domain)
		 DO UPDATE SET disabled = true, updated_at = EXCLUDED.updated_at`,
		string(d),
		r.now().UTC(),
	).Error
}

func (r *LedgerRepository) IncrementQuota(ctx context.Context, kind domain.QuotaKind, id domain.Identifier, amount int64, idempotencyKey string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	var update string
	switch kind {
	case domain.QuotaKindPNP:
		update = `UPDATE quota_accounts
		 SET performed_query_count = performed_query_count + ?, updated_at = ?
		 WHERE identifier = ?`
	case domain.QuotaKindDomain:
		update = `UPDATE domain_states
		 SET performed_query_count = performed_query_count + ?, updated_at = ?
		 WHERE domain = ?`
	default:
		return fmt.Errorf("%w: unknown quota kind %q", domain.ErrValidation, kind)
	}
	if idempotencyKey == "" {
		return errors.New("idempotency key is required")
	}
	now := r.now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(
			`INSERT INTO quota_increments (idempotency_key, identifier, amount, created_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (idempotency_key) DO NOTHING`,
			idempotencyKey, string(id), amount, now,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Already applied by an earlier attempt.
			return nil
		}
		res = tx.Exec(update, amount, now, string(id))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

// UpsertQuota provisions or resets an account's quota counters.
func (r *LedgerRepository) UpsertQuota(ctx context.Context, id domain.Identifier, status domain.QuotaStatus) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO quota_accounts (identifier, performed_query_count, total_quota, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (identifier)
		 DO UPDATE SET performed_query_count = EXCLUDED.performed_query_count,
		               total_quota = EXCLUDED.total_quota,
		               updated_at = EXCLUDED.updated_at`,
		string(id), status.PerformedQueryCount, status.TotalQuota, r.now().UTC(),
	).Error
}

// UpsertDomain registers a domain. An existing disabled flag is never cleared.
func (r *LedgerRepository) UpsertDomain(ctx context.Context, state domain.DomainState) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO domain_states (domain, disabled, performed_query_count, total_quota, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (domain)
		 DO UPDATE SET disabled = domain_states.disabled OR EXCLUDED.disabled,
		               performed_query_count = EXCLUDED.performed_query_count,
		               total_quota = EXCLUDED.total_quota,
		               updated_at = EXCLUDED.updated_at`,
		string(state.Domain), state.Disabled, state.Quota.PerformedQueryCount, state.Quota.TotalQuota, r.now().UTC(),
	).Error
}

var _ ledger.Backend = (*LedgerRepository)(nil)
