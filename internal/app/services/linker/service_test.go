package linker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lrgstore/idstore/internal/adb"
	"github.com/lrgstore/idstore/internal/app/domain/linkjob"
	"github.com/lrgstore/idstore/internal/app/domain/order"
	"github.com/lrgstore/idstore/internal/app/domain/product"
	"github.com/lrgstore/idstore/internal/app/domain/user"
	"github.com/lrgstore/idstore/internal/app/services/orders"
	"github.com/lrgstore/idstore/internal/app/storage/memory"
)

type fakeAutomator struct {
	mu       sync.Mutex
	status   adb.StatusFunc
	result   adb.LinkResult
	err      error
	block    chan struct{}
	linkRuns int
}

func (f *fakeAutomator) Connect(context.Context) error { return nil }

func (f *fakeAutomator) SetStatusFunc(fn adb.StatusFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = fn
}

func (f *fakeAutomator) TransferPreferences(context.Context, string) error { return nil }
func (f *fakeAutomator) StartApp(context.Context) error                    { return nil }

func (f *fakeAutomator) LinkAccount(ctx context.Context, method, id, pass string) (adb.LinkResult, error) {
	f.mu.Lock()
	f.linkRuns++
	status := f.status
	block := f.block
	f.mu.Unlock()

	if status != nil {
		status("[1/12] waiting for game to load")
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return adb.LinkResult{}, ctx.Err()
		}
	}
	return f.result, f.err
}

func (f *fakeAutomator) ContinuePhase2(context.Context) error { return f.err }

func newTestService(t *testing.T, automator *fakeAutomator) (*Service, *orders.Service, string) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()

	u, err := store.CreateUser(ctx, user.User{Username: "buyer", Email: "b@example.com", Balance: 100})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	p, err := store.CreateProduct(ctx, product.Product{Name: "starter", Price: 10})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if _, err := store.AddStockItem(ctx, product.StockItem{ProductID: p.ID, CredentialFile: "/dev/null"}); err != nil {
		t.Fatalf("add stock: %v", err)
	}

	orderSvc := orders.New(store, store, nil)
	o, err := orderSvc.Purchase(ctx, u.ID, p.ID)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if _, err := orderSvc.SubmitCredentials(ctx, u.ID, o.ID, order.LinkGoogle, "acct@example.com", "secret"); err != nil {
		t.Fatalf("submit credentials: %v", err)
	}

	svc := New(orderSvc, automator, Config{QueueSize: 4, WaitTimeout: 5 * time.Second}, nil)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Stop(stopCtx)
	})
	return svc, orderSvc, o.ID
}

func collectUntilTerminal(t *testing.T, ch <-chan string) []string {
	t.Helper()
	var lines []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case line := <-ch:
			lines = append(lines, line)
			if IsTerminal(line) {
				return lines
			}
		case <-timeout:
			t.Fatalf("no terminal line, got %v", lines)
		}
	}
}

func TestLinkOrderSucceeds(t *testing.T) {
	automator := &fakeAutomator{result: adb.LinkResult{Message: "Google login complete"}}
	svc, orderSvc, orderID := newTestService(t, automator)

	job, err := svc.LinkOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("link order: %v", err)
	}
	if job.Status != linkjob.StatusSucceeded {
		t.Fatalf("expected succeeded job, got %s (%s)", job.Status, job.Error)
	}
	if job.VerificationCode != "" {
		t.Fatalf("unexpected verification code %q", job.VerificationCode)
	}

	// Only a successful link run moves a pending order forward.
	o, err := orderSvc.Get(context.Background(), "", orderID, true)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Status != order.StatusProcessing {
		t.Fatalf("expected order moved to processing, got %s", o.Status)
	}
}

func TestLinkOrderSurfacesVerificationCode(t *testing.T) {
	automator := &fakeAutomator{result: adb.LinkResult{Message: "Found 2FA code: 42", VerificationCode: "42"}}
	svc, _, orderID := newTestService(t, automator)

	job, err := svc.LinkOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("link order: %v", err)
	}
	if job.VerificationCode != "42" {
		t.Fatalf("expected verification code, got %q", job.VerificationCode)
	}

	// The code is the one and only terminal line of the run.
	ch, cancel := svc.Hub().Subscribe(orderID)
	defer cancel()
	lines := collectUntilTerminal(t, ch)
	last := lines[len(lines)-1]
	if last != "VERIFICATION_CODE:42" {
		t.Fatalf("expected VERIFICATION_CODE terminal line, got %q", last)
	}
	for _, line := range lines[:len(lines)-1] {
		if IsTerminal(line) {
			t.Fatalf("extra terminal line %q before %q", line, last)
		}
	}
}

func TestLinkOrderFailurePublishesError(t *testing.T) {
	automator := &fakeAutomator{err: errors.New("device lost")}
	svc, _, orderID := newTestService(t, automator)

	ch, cancel := svc.Hub().Subscribe(orderID)
	defer cancel()

	job, err := svc.LinkOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("link order: %v", err)
	}
	if job.Status != linkjob.StatusFailed {
		t.Fatalf("expected failed job, got %s", job.Status)
	}

	lines := collectUntilTerminal(t, ch)
	last := lines[len(lines)-1]
	if !strings.HasPrefix(last, "ERROR:") || !strings.Contains(last, "device lost") {
		t.Fatalf("expected ERROR line, got %q", last)
	}
}

func TestEnqueueDeduplicatesActiveOrder(t *testing.T) {
	automator := &fakeAutomator{block: make(chan struct{})}
	svc, _, orderID := newTestService(t, automator)

	first, queued, err := svc.Enqueue(context.Background(), orderID, linkjob.PhaseLink)
	if err != nil || !queued {
		t.Fatalf("first enqueue: queued=%v err=%v", queued, err)
	}
	second, queued, err := svc.Enqueue(context.Background(), orderID, linkjob.PhaseLink)
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if queued {
		t.Fatal("second enqueue should join the active job")
	}
	if first.ID != second.ID {
		t.Fatalf("expected same job, got %s and %s", first.ID, second.ID)
	}

	close(automator.block)
	deadline := time.Now().Add(5 * time.Second)
	for svc.Active(orderID) {
		if time.Now().After(deadline) {
			t.Fatal("job did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}

	automator.mu.Lock()
	runs := automator.linkRuns
	automator.mu.Unlock()
	if runs != 1 {
		t.Fatalf("expected a single automation run, got %d", runs)
	}
}

func TestLateSubscriberGetsRetainedTail(t *testing.T) {
	automator := &fakeAutomator{result: adb.LinkResult{Message: "ok"}}
	svc, _, orderID := newTestService(t, automator)

	if _, err := svc.LinkOrder(context.Background(), orderID); err != nil {
		t.Fatalf("link order: %v", err)
	}

	ch, cancel := svc.Hub().Subscribe(orderID)
	defer cancel()

	lines := collectUntilTerminal(t, ch)
	if lines[len(lines)-1] != "SUCCESS:Automation Complete" {
		t.Fatalf("expected retained SUCCESS line, got %v", lines)
	}
}

func TestPhase2Job(t *testing.T) {
	automator := &fakeAutomator{}
	svc, _, orderID := newTestService(t, automator)

	job, err := svc.ContinuePhase2(context.Background(), orderID)
	if err != nil {
		t.Fatalf("phase2: %v", err)
	}
	if job.Status != linkjob.StatusSucceeded || job.Phase != linkjob.PhasePhase2 {
		t.Fatalf("unexpected job %+v", job)
	}
}
