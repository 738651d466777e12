package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/veloura/api/internal/domain"
	pfirestore "github.com/veloura/api/internal/platform/firestore"
	"github.com/veloura/api/internal/repositories"
)

const vouchersCollection = "vouchers"

// VoucherRepository implements repositories.VoucherRepository backed by Firestore transactions.
type VoucherRepository struct {
	provider *pfirestore.Provider
	vouchers *pfirestore.BaseRepository[voucherDocument]
}

// NewVoucherRepository constructs a Firestore-backed voucher repository.
func NewVoucherRepository(provider *pfirestore.Provider) (*VoucherRepository, error) {
	if provider == nil {
		return nil, errors.New("voucher repository requires firestore provider")
	}
	vouchers := pfirestore.NewBaseRepository[voucherDocument](provider, vouchersCollection, nil, nil)
	return &VoucherRepository{provider: provider, vouchers: vouchers}, nil
}

func (r *VoucherRepository) FindByCode(ctx context.Context, code string) (domain.Voucher, error) {
	if r == nil || r.vouchers == nil {
		return domain.Voucher{}, errors.New("voucher repository not initialised")
	}
	code = normalizeVoucherCode(code)
	if code == "" {
		return domain.Voucher{}, errors.New("voucher find: code is required")
	}

	doc, err := r.vouchers.Get(ctx, code)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.Voucher{}, repositories.NewVoucherError(repositories.VoucherErrorNotFound, fmt.Sprintf("voucher %s not found", code), err)
		}
		return domain.Voucher{}, wrapVoucherError("vouchers.find", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *VoucherRepository) Save(ctx context.Context, voucher domain.Voucher) error {
	if r == nil || r.vouchers == nil {
		return errors.New("voucher repository not initialised")
	}
	code := normalizeVoucherCode(voucher.Code)
	if code == "" {
		return errors.New("voucher save: code is required")
	}
	if _, err := r.vouchers.Set(ctx, code, newVoucherDocument(voucher)); err != nil {
		return wrapVoucherError("vouchers.save", err)
	}
	return nil
}

// Redeem validates quotas and records a redemption inside one transaction, so
// two racing checkouts can never both consume the last remaining slot.
func (r *VoucherRepository) Redeem(ctx context.Context, req repositories.VoucherRedeemRequest) (domain.Voucher, error) {
	if r == nil || r.provider == nil {
		return domain.Voucher{}, errors.New("voucher repository not initialised")
	}
	code := normalizeVoucherCode(req.Code)
	userID := strings.TrimSpace(req.UserID)
	if code == "" || userID == "" {
		return domain.Voucher{}, errors.New("voucher redeem: code and user id are required")
	}
	now := req.Now.UTC()

	var redeemed domain.Voucher
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, doc, err := r.getForUpdate(ctx, tx, code)
		if err != nil {
			return err
		}

		if !doc.IsActive {
			return repositories.NewVoucherError(repositories.VoucherErrorInactive, fmt.Sprintf("voucher %s is not active", code), nil)
		}
		if !doc.withinWindow(now) {
			return repositories.NewVoucherError(repositories.VoucherErrorInactive, fmt.Sprintf("voucher %s is outside its validity window", code), nil)
		}
		if doc.UsageLimit > 0 && doc.UsedCount >= doc.UsageLimit {
			return repositories.NewVoucherError(repositories.VoucherErrorQuotaExceeded, fmt.Sprintf("voucher %s usage limit reached", code), nil)
		}
		if doc.LimitPerUser > 0 && doc.UsedBy[userID] >= doc.LimitPerUser {
			return repositories.NewVoucherError(repositories.VoucherErrorQuotaExceeded, fmt.Sprintf("voucher %s limit reached for user", code), nil)
		}

		doc.UsedCount++
		if doc.UsedBy == nil {
			doc.UsedBy = make(map[string]int, 1)
		}
		doc.UsedBy[userID]++
		doc.UpdatedAt = now

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		redeemed = doc.toDomain(code)
		return nil
	})
	if err != nil {
		return domain.Voucher{}, wrapVoucherError("vouchers.redeem", err)
	}
	return redeemed, nil
}

// Release returns one redemption slot, flooring counters at zero so repeated
// compensation passes cannot drive quotas negative.
func (r *VoucherRepository) Release(ctx context.Context, code, userID string, now time.Time) (domain.Voucher, error) {
	if r == nil || r.provider == nil {
		return domain.Voucher{}, errors.New("voucher repository not initialised")
	}
	code = normalizeVoucherCode(code)
	userID = strings.TrimSpace(userID)
	if code == "" || userID == "" {
		return domain.Voucher{}, errors.New("voucher release: code and user id are required")
	}
	nowUTC := now.UTC()

	var released domain.Voucher
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, doc, err := r.getForUpdate(ctx, tx, code)
		if err != nil {
			return err
		}

		if doc.UsedCount > 0 {
			doc.UsedCount--
		}
		if doc.UsedBy[userID] > 0 {
			doc.UsedBy[userID]--
			if doc.UsedBy[userID] == 0 {
				delete(doc.UsedBy, userID)
			}
		}
		doc.UpdatedAt = nowUTC

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		released = doc.toDomain(code)
		return nil
	})
	if err != nil {
		return domain.Voucher{}, wrapVoucherError("vouchers.release", err)
	}
	return released, nil
}

func (r *VoucherRepository) getForUpdate(ctx context.Context, tx *firestore.Transaction, code string) (*firestore.DocumentRef, voucherDocument, error) {
	ref, err := r.vouchers.DocumentRef(ctx, code)
	if err != nil {
		return nil, voucherDocument{}, err
	}
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, voucherDocument{}, repositories.NewVoucherError(repositories.VoucherErrorNotFound, fmt.Sprintf("voucher %s not found", code), err)
		}
		return nil, voucherDocument{}, err
	}
	var doc voucherDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, voucherDocument{}, fmt.Errorf("decode voucher %s: %w", code, err)
	}
	return ref, doc, nil
}

// Helper structures ---------------------------------------------------------

type voucherDocument struct {
	Type          string         `firestore:"type"`
	Discount      int64          `firestore:"discount"`
	MinOrderValue int64          `firestore:"minOrderValue"`
	MaxDiscount   int64          `firestore:"maxDiscount"`
	UsageLimit    int            `firestore:"usageLimit"`
	UsedCount     int            `firestore:"usedCount"`
	LimitPerUser  int            `firestore:"limitPerUser"`
	UsedBy        map[string]int `firestore:"usedBy,omitempty"`
	IsActive      bool           `firestore:"isActive"`
	StartsAt      time.Time      `firestore:"startsAt,omitempty"`
	EndsAt        time.Time      `firestore:"endsAt,omitempty"`
	UpdatedAt     time.Time      `firestore:"updatedAt"`
}

func (d voucherDocument) withinWindow(now time.Time) bool {
	if !d.StartsAt.IsZero() && now.Before(d.StartsAt) {
		return false
	}
	if !d.EndsAt.IsZero() && now.After(d.EndsAt) {
		return false
	}
	return true
}

func newVoucherDocument(voucher domain.Voucher) voucherDocument {
	return voucherDocument{
		Type:          string(voucher.Type),
		Discount:      voucher.Discount,
		MinOrderValue: voucher.MinOrderValue,
		MaxDiscount:   voucher.MaxDiscount,
		UsageLimit:    voucher.UsageLimit,
		UsedCount:     voucher.UsedCount,
		LimitPerUser:  voucher.LimitPerUser,
		UsedBy:        voucher.UsedBy,
		IsActive:      voucher.IsActive,
		StartsAt:      voucher.StartsAt.UTC(),
		EndsAt:        voucher.EndsAt.UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
}

func (d voucherDocument) toDomain(code string) domain.Voucher {
	return domain.Voucher{
		Code:          code,
		Type:          domain.VoucherType(d.Type),
		Discount:      d.Discount,
		MinOrderValue: d.MinOrderValue,
		MaxDiscount:   d.MaxDiscount,
		UsageLimit:    d.UsageLimit,
		UsedCount:     d.UsedCount,
		LimitPerUser:  d.LimitPerUser,
		UsedBy:        d.UsedBy,
		IsActive:      d.IsActive,
		StartsAt:      d.StartsAt,
		EndsAt:        d.EndsAt,
	}
}

func normalizeVoucherCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func wrapVoucherError(op string, err error) error {
	if err == nil {
		return nil
	}
	var voucherErr *repositories.VoucherError
	if errors.As(err, &voucherErr) {
		if voucherErr.Op == "" {
			voucherErr.Op = op
		}
		return voucherErr
	}
	return pfirestore.WrapError(op, err)
}
