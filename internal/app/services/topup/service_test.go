package topup

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/lrgstore/idstore/internal/app/domain/topup"
	"github.com/lrgstore/idstore/internal/app/domain/user"
	"github.com/lrgstore/idstore/internal/app/storage/memory"
)

type fakeVerifier struct {
	result VoucherResult
	err    error
	calls  int
}

func (f *fakeVerifier) Redeem(context.Context, string, string) (VoucherResult, error) {
	f.calls++
	return f.result, f.err
}

const testVoucherLink = "https://gift.truemoney.com/campaign/?v=01546f8e0a8f8d53417e6267930573B4bfa"

func newTestUser(t *testing.T, store *memory.Store) user.User {
	t.Helper()
	u, err := store.CreateUser(context.Background(), user.User{
		Username:     "buyer",
		Email:        "buyer@example.com",
		PasswordHash: "x",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestRedeemVoucherCreditsBalance(t *testing.T) {
	store := memory.New()
	u := newTestUser(t, store)
	verifier := &fakeVerifier{result: VoucherResult{Amount: 100, OwnerName: "Somchai"}}
	svc := New(store, store, verifier, "0812345678", nil)

	created, err := svc.RedeemVoucher(context.Background(), u.ID, testVoucherLink)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if created.Status != domain.StatusSuccess {
		t.Fatalf("expected success status, got %s", created.Status)
	}
	if created.Amount != 100 {
		t.Fatalf("expected amount 100, got %v", created.Amount)
	}

	after, err := store.GetUser(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if after.Balance != 100 {
		t.Fatalf("expected balance 100, got %v", after.Balance)
	}
}

func TestRedeemVoucherRejectsReuse(t *testing.T) {
	store := memory.New()
	u := newTestUser(t, store)
	verifier := &fakeVerifier{result: VoucherResult{Amount: 50}}
	svc := New(store, store, verifier, "0812345678", nil)

	if _, err := svc.RedeemVoucher(context.Background(), u.ID, testVoucherLink); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if _, err := svc.RedeemVoucher(context.Background(), u.ID, testVoucherLink); !errors.Is(err, ErrVoucherUsed) {
		t.Fatalf("expected ErrVoucherUsed, got %v", err)
	}
	if verifier.calls != 1 {
		t.Fatalf("expected proxy called once, got %d", verifier.calls)
	}
}

func TestRedeemVoucherRequiresMerchantPhone(t *testing.T) {
	store := memory.New()
	u := newTestUser(t, store)
	svc := New(store, store, &fakeVerifier{}, "", nil)

	if _, err := svc.RedeemVoucher(context.Background(), u.ID, testVoucherLink); err == nil {
		t.Fatal("expected error without merchant phone")
	}
}

func TestRedeemVoucherVerifierFailure(t *testing.T) {
	store := memory.New()
	u := newTestUser(t, store)
	verifier := &fakeVerifier{err: errors.New("voucher rejected: expired")}
	svc := New(store, store, verifier, "0812345678", nil)

	if _, err := svc.RedeemVoucher(context.Background(), u.ID, testVoucherLink); err == nil {
		t.Fatal("expected redeem failure")
	}

	after, err := store.GetUser(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if after.Balance != 0 {
		t.Fatalf("expected untouched balance, got %v", after.Balance)
	}
	list, err := svc.History(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no topup recorded, got %d", len(list))
	}
}

func TestExpireStale(t *testing.T) {
	store := memory.New()
	u := newTestUser(t, store)
	svc := New(store, store, &fakeVerifier{}, "0812345678", nil)

	old, err := store.CreateTopUp(context.Background(), domain.TopUp{
		UserID:        u.ID,
		Amount:        10,
		Method:        domain.MethodTrueMoneyAngpao,
		ReferenceCode: "ref-old",
		Status:        domain.StatusPending,
	})
	if err != nil {
		t.Fatalf("create topup: %v", err)
	}

	// A zero maxAge makes every pending topup stale.
	expired, err := svc.ExpireStale(context.Background(), -time.Second)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired, got %d", expired)
	}

	after, err := store.GetTopUp(context.Background(), old.ID)
	if err != nil {
		t.Fatalf("get topup: %v", err)
	}
	if after.Status != domain.StatusExpired {
		t.Fatalf("expected expired status, got %s", after.Status)
	}
}
