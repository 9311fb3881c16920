// Package topup credits user balances from redeemed TrueMoney vouchers.
package topup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/lrgstore/idstore/internal/app/domain/topup"
	"github.com/lrgstore/idstore/internal/app/metrics"
	"github.com/lrgstore/idstore/internal/app/storage"
	"github.com/lrgstore/idstore/pkg/logger"
)

// ErrVoucherUsed is returned when a voucher code was already credited.
var ErrVoucherUsed = errors.New("voucher already used")

// Service redeems vouchers and credits balances.
type Service struct {
	topups        storage.TopUpStore
	users         storage.UserStore
	verifier      VoucherVerifier
	merchantPhone string
	log           *logger.Logger
}

// New constructs a topup service. merchantPhone is the wallet the vouchers
// are redeemed into.
func New(topups storage.TopUpStore, users storage.UserStore, verifier VoucherVerifier, merchantPhone string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("topup")
	}
	return &Service{
		topups:        topups,
		users:         users,
		verifier:      verifier,
		merchantPhone: merchantPhone,
		log:           log,
	}
}

// RedeemVoucher verifies a voucher link, credits the user and records the
// topup. The reference code is credited at most once across all users.
func (s *Service) RedeemVoucher(ctx context.Context, userID, voucherLink string) (domain.TopUp, error) {
	phone := strings.TrimSpace(s.merchantPhone)
	if phone == "" {
		return domain.TopUp{}, fmt.Errorf("merchant phone is not configured")
	}

	code, err := ParseVoucherCode(voucherLink)
	if err != nil {
		metrics.RecordTopUp(string(domain.StatusFailed))
		return domain.TopUp{}, err
	}

	if _, err := s.topups.GetTopUpByReference(ctx, code); err == nil {
		metrics.RecordTopUp(string(domain.StatusFailed))
		return domain.TopUp{}, ErrVoucherUsed
	} else if !errors.Is(err, storage.ErrNotFound) {
		return domain.TopUp{}, err
	}

	result, err := s.verifier.Redeem(ctx, code, phone)
	if err != nil {
		metrics.RecordTopUp(string(domain.StatusFailed))
		s.log.WithError(err).WithField("user_id", userID).Warn("voucher redemption failed")
		return domain.TopUp{}, err
	}

	// CreateTopUp enforces reference uniqueness, closing the race between
	// the lookup above and concurrent redemptions of the same voucher.
	created, err := s.topups.CreateTopUp(ctx, domain.TopUp{
		UserID:        userID,
		Amount:        result.Amount,
		Method:        domain.MethodTrueMoneyAngpao,
		ReferenceCode: code,
		OwnerName:     result.OwnerName,
		Status:        domain.StatusSuccess,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			metrics.RecordTopUp(string(domain.StatusFailed))
			return domain.TopUp{}, ErrVoucherUsed
		}
		return domain.TopUp{}, err
	}

	if _, err := s.users.AdjustBalance(ctx, userID, result.Amount); err != nil {
		created.Status = domain.StatusFailed
		if _, updateErr := s.topups.UpdateTopUp(ctx, created); updateErr != nil {
			s.log.WithError(updateErr).Error("mark topup failed")
		}
		metrics.RecordTopUp(string(domain.StatusFailed))
		return domain.TopUp{}, err
	}

	metrics.RecordTopUp(string(domain.StatusSuccess))
	s.log.WithField("user_id", userID).
		WithField("topup_id", created.ID).
		WithField("amount", result.Amount).
		Info("voucher redeemed")
	return created, nil
}

// History returns a user's topups, newest first.
func (s *Service) History(ctx context.Context, userID string) ([]domain.TopUp, error) {
	return s.topups.ListTopUpsByUser(ctx, userID)
}

// ExpireStale marks pending topups older than maxAge as expired. Returns
// the number of records changed.
func (s *Service) ExpireStale(ctx context.Context, maxAge time.Duration) (int, error) {
	stale, err := s.topups.ListPendingTopUps(ctx, time.Now().UTC().Add(-maxAge))
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, t := range stale {
		t.Status = domain.StatusExpired
		if _, err := s.topups.UpdateTopUp(ctx, t); err != nil {
			s.log.WithError(err).WithField("topup_id", t.ID).Warn("expire topup")
			continue
		}
		metrics.RecordTopUp(string(domain.StatusExpired))
		expired++
	}
	return expired, nil
}
