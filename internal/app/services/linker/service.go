// Package linker runs device automation jobs that bind sold game accounts
// to buyer identities. Jobs run strictly one at a time on the single
// emulator, in arrival order.
package linker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lrgstore/idstore/internal/adb"
	"github.com/lrgstore/idstore/internal/app/domain/linkjob"
	"github.com/lrgstore/idstore/internal/app/domain/order"
	"github.com/lrgstore/idstore/internal/app/metrics"
	"github.com/lrgstore/idstore/internal/app/services/orders"
	"github.com/lrgstore/idstore/internal/app/system"
	"github.com/lrgstore/idstore/pkg/logger"
)

// ErrQueueFull is returned when the job queue cannot accept more work.
var ErrQueueFull = errors.New("link queue is full")

// DeviceAutomator is the automation surface the worker drives. Implemented
// by *adb.Automator.
type DeviceAutomator interface {
	Connect(ctx context.Context) error
	SetStatusFunc(fn adb.StatusFunc)
	TransferPreferences(ctx context.Context, localXML string) error
	StartApp(ctx context.Context) error
	LinkAccount(ctx context.Context, method, customerID, customerPass string) (adb.LinkResult, error)
	ContinuePhase2(ctx context.Context) error
}

type jobState struct {
	job  linkjob.Job
	done chan struct{}
}

// Service owns the job queue and the single device worker.
type Service struct {
	orders    *orders.Service
	automator DeviceAutomator
	hub       *Hub
	log       *logger.Logger

	queue       chan string
	waitTimeout time.Duration

	mu     sync.Mutex
	active map[string]*jobState // keyed by order ID, one active job per order
	last   map[string]linkjob.Job

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config tunes the linker service.
type Config struct {
	// QueueSize bounds how many jobs may wait for the worker.
	QueueSize int
	// WaitTimeout bounds how long a synchronous link call waits for its job.
	WaitTimeout time.Duration
}

// New constructs a linker service.
func New(orderSvc *orders.Service, automator DeviceAutomator, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("linker")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 5 * time.Minute
	}
	return &Service{
		orders:      orderSvc,
		automator:   automator,
		hub:         NewHub(),
		log:         log,
		queue:       make(chan string, cfg.QueueSize),
		waitTimeout: cfg.WaitTimeout,
		active:      make(map[string]*jobState),
		last:        make(map[string]linkjob.Job),
	}
}

// Hub returns the log hub for streaming endpoints.
func (s *Service) Hub() *Hub {
	return s.hub
}

// Name implements system.Service.
func (s *Service) Name() string { return "linker" }

// Start launches the device worker.
func (s *Service) Start(context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(runCtx)
	s.log.Info("device worker started")
	return nil
}

// Stop halts the worker. Queued jobs are abandoned.
func (s *Service) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ system.Service = (*Service)(nil)

// Enqueue queues a job for the order unless one is already queued or
// running. It returns the job and whether this call created it.
func (s *Service) Enqueue(ctx context.Context, orderID string, phase linkjob.Phase) (linkjob.Job, bool, error) {
	o, err := s.orders.Get(ctx, "", orderID, true)
	if err != nil {
		return linkjob.Job{}, false, err
	}
	if phase == linkjob.PhaseLink && !o.HasCredentials() {
		return linkjob.Job{}, false, fmt.Errorf("order %s has no link credentials", orderID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.active[orderID]; ok {
		return state.job, false, nil
	}

	job := linkjob.Job{
		ID:         uuid.NewString(),
		OrderID:    orderID,
		Phase:      phase,
		Status:     linkjob.StatusQueued,
		EnqueuedAt: time.Now().UTC(),
	}
	state := &jobState{job: job, done: make(chan struct{})}

	select {
	case s.queue <- orderID:
	default:
		return linkjob.Job{}, false, ErrQueueFull
	}

	s.active[orderID] = state
	s.hub.Reset(orderID)
	s.hub.Publish(orderID, fmt.Sprintf("STATUS:queued (position %d)", len(s.queue)))
	metrics.SetLinkQueueDepth(len(s.queue))

	s.log.WithField("order_id", orderID).WithField("phase", phase).Info("link job queued")
	return job, true, nil
}

// LinkOrder queues a link job (joining the active one if present) and waits
// for it to finish. Used by the synchronous admin endpoint.
func (s *Service) LinkOrder(ctx context.Context, orderID string) (linkjob.Job, error) {
	job, _, err := s.Enqueue(ctx, orderID, linkjob.PhaseLink)
	if err != nil {
		return linkjob.Job{}, err
	}
	return s.wait(ctx, orderID, job)
}

// ContinuePhase2 queues a phase 2 job and waits for it to finish.
func (s *Service) ContinuePhase2(ctx context.Context, orderID string) (linkjob.Job, error) {
	job, _, err := s.Enqueue(ctx, orderID, linkjob.PhasePhase2)
	if err != nil {
		return linkjob.Job{}, err
	}
	return s.wait(ctx, orderID, job)
}

func (s *Service) wait(ctx context.Context, orderID string, job linkjob.Job) (linkjob.Job, error) {
	s.mu.Lock()
	state, ok := s.active[orderID]
	s.mu.Unlock()
	if !ok {
		// Job already finished between Enqueue and wait.
		if last, found := s.Status(orderID); found {
			return last, nil
		}
		return job, nil
	}

	timer := time.NewTimer(s.waitTimeout)
	defer timer.Stop()

	select {
	case <-state.done:
		s.mu.Lock()
		final := s.last[orderID]
		s.mu.Unlock()
		return final, nil
	case <-timer.C:
		return linkjob.Job{}, fmt.Errorf("link job for order %s timed out after %s", orderID, s.waitTimeout)
	case <-ctx.Done():
		return linkjob.Job{}, ctx.Err()
	}
}

// Status returns the most recent job for the order.
func (s *Service) Status(orderID string) (linkjob.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.active[orderID]; ok {
		return state.job, true
	}
	job, ok := s.last[orderID]
	return job, ok
}

// Active reports whether the order has a queued or running job.
func (s *Service) Active(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[orderID]
	return ok
}

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case orderID := <-s.queue:
			metrics.SetLinkQueueDepth(len(s.queue))
			s.process(ctx, orderID)
		}
	}
}

func (s *Service) process(ctx context.Context, orderID string) {
	s.mu.Lock()
	state, ok := s.active[orderID]
	if !ok {
		s.mu.Unlock()
		return
	}
	state.job.Status = linkjob.StatusRunning
	state.job.StartedAt = time.Now().UTC()
	phase := state.job.Phase
	s.mu.Unlock()

	s.hub.Publish(orderID, fmt.Sprintf("STATUS:processing (queue: %d)", len(s.queue)))

	s.automator.SetStatusFunc(func(message string) {
		s.hub.Publish(orderID, "STATUS:"+message)
	})
	defer s.automator.SetStatusFunc(nil)

	var (
		code string
		err  error
	)
	switch phase {
	case linkjob.PhasePhase2:
		err = s.automator.ContinuePhase2(ctx)
	default:
		code, err = s.runLink(ctx, orderID)
	}

	s.mu.Lock()
	state.job.FinishedAt = time.Now().UTC()
	state.job.VerificationCode = code
	if err != nil {
		state.job.Status = linkjob.StatusFailed
		state.job.Error = err.Error()
	} else {
		state.job.Status = linkjob.StatusSucceeded
	}
	s.last[orderID] = state.job
	delete(s.active, orderID)
	duration := state.job.FinishedAt.Sub(state.job.StartedAt)
	status := state.job.Status
	s.mu.Unlock()

	// Exactly one terminal line per job. A found verification code is itself
	// the success signal for the 2FA path.
	switch {
	case err != nil:
		s.hub.Publish(orderID, "ERROR:"+err.Error())
	case code != "":
		s.hub.Publish(orderID, "VERIFICATION_CODE:"+code)
	case phase == linkjob.PhasePhase2:
		s.hub.Publish(orderID, "SUCCESS:Phase 2 Complete")
	default:
		s.hub.Publish(orderID, "SUCCESS:Automation Complete")
	}

	metrics.RecordLinkJob(string(phase), string(status), duration)
	close(state.done)

	entry := s.log.WithField("order_id", orderID).WithField("phase", phase).WithField("status", status)
	if err != nil {
		entry.WithError(err).Warn("link job failed")
	} else {
		entry.Info("link job finished")
	}
}

// runLink performs the full link flow for an order: install the credential
// file, start the game and drive the login automation.
func (s *Service) runLink(ctx context.Context, orderID string) (string, error) {
	o, err := s.orders.Get(ctx, "", orderID, true)
	if err != nil {
		return "", err
	}
	if !o.HasCredentials() {
		return "", fmt.Errorf("order %s has no link credentials", orderID)
	}

	xmlPath, err := s.orders.CredentialFile(ctx, orderID)
	if err != nil {
		return "", err
	}

	if err := s.automator.Connect(ctx); err != nil {
		return "", err
	}
	if err := s.automator.TransferPreferences(ctx, xmlPath); err != nil {
		return "", err
	}

	s.hub.Publish(orderID, "STATUS:starting game")
	if err := s.automator.StartApp(ctx); err != nil {
		return "", err
	}

	result, err := s.automator.LinkAccount(ctx, string(o.LinkMethod), o.CustomerID, o.CustomerPass)
	if err != nil {
		return "", err
	}

	if o.Status == order.StatusPending {
		if _, err := s.orders.SetStatus(ctx, orderID, order.StatusProcessing); err != nil {
			s.log.WithError(err).Warn("mark order processing")
		}
	}
	return result.VerificationCode, nil
}
