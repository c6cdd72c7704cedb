package responder

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"ramprails/internal/chain"
	"ramprails/internal/compliance"
	"ramprails/internal/config"
	"ramprails/internal/contracts"
	"ramprails/internal/events"
	"ramprails/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// ErrRejected means the compliance gate refused the transfer. Terminal, not
// retryable.
var ErrRejected = errors.New("transfer rejected by compliance gate")

// Metrics is the slice of the metrics registry the responder reports to.
type Metrics interface {
	StepObserved(step, outcome string)
}

// Config carries the knobs the responder needs beyond its collaborators.
type Config struct {
	Workers        int
	Retry          config.RetryConfig
	RescanInterval time.Duration
	// UserAddress is the account the user-side steps act for.
	UserAddress string
	// ManagerAddress is the approve spender.
	ManagerAddress string
	SourceOfFunds  string
}

// Responder discovers actionable off-ramp requests and drives each through
// the fulfillment sequence. Steps within one request are strictly serial;
// independent requests run concurrently on the worker pool.
type Responder struct {
	store       store.Store
	manager     chain.Client // service manager, operator key
	userManager chain.Client // service manager, user key
	token       chain.Client // stablecoin, user key
	sub         chain.Subscriber
	gate        *compliance.Gate // nil for the automated responder
	cfg         Config
	log         *logrus.Entry
	metrics     Metrics

	mu       sync.Mutex
	inflight map[string]bool
	queue    chan string
}

func New(st store.Store, manager, userManager, token chain.Client, sub chain.Subscriber, gate *compliance.Gate, cfg Config, log *logrus.Logger, metrics Metrics) *Responder {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Responder{
		store:       st,
		manager:     manager,
		userManager: userManager,
		token:       token,
		sub:         sub,
		gate:        gate,
		cfg:         cfg,
		log:         log.WithField("component", "responder"),
		metrics:     metrics,
		inflight:    make(map[string]bool),
		queue:       make(chan string, 256),
	}
}

// Run blocks until the context ends. On startup it rescans every pending
// request so nothing is stranded across restarts, then reacts to
// RequestOfframp notifications and periodic rescans.
func (r *Responder) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.work(ctx)
		}()
	}

	if err := r.rescan(ctx); err != nil {
		r.log.WithError(err).Warn("startup rescan failed")
	}

	if r.sub != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.watch(ctx)
		}()
	}

	if r.cfg.RescanInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(r.cfg.RescanInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := r.rescan(ctx); err != nil {
						r.log.WithError(err).Warn("rescan failed")
					}
				}
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// rescan enqueues every PENDING request plus every unfinished checkpoint.
func (r *Responder) rescan(ctx context.Context) error {
	pending, err := r.store.ListOffRamps(ctx, store.Filter{})
	if err != nil {
		return fmt.Errorf("list offramps: %w", err)
	}
	for _, req := range pending {
		if req.Status == store.OffRampPending {
			r.enqueue(req.ID)
		}
	}

	checkpoints, err := r.store.ListCheckpoints(ctx)
	if err != nil {
		return fmt.Errorf("list checkpoints: %w", err)
	}
	for _, cp := range checkpoints {
		if !cp.Done {
			r.enqueue(cp.RequestID)
		}
	}
	return nil
}

// watch reacts to each new off-ramp request exactly once; historical state
// is covered by the startup rescan.
func (r *Responder) watch(ctx context.Context) {
	stream, err := r.sub.Subscribe(ctx, 0)
	if err != nil {
		r.log.WithError(err).Error("subscribe failed, relying on rescans")
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream:
			if !ok {
				return
			}
			if p, ok := ev.Payload.(events.RequestOfframp); ok {
				id := p.RequestOfframpID.Hex()
				r.log.WithField("id", id).Info("new offramp request observed")
				if err := r.recordObserved(ctx, &ev, p); err != nil {
					r.log.WithError(err).WithField("id", id).Warn("observed request not recorded")
				}
				r.enqueue(id)
			}
		}
	}
}

// recordObserved writes the observed request into the store if the indexer
// has not landed it yet. With a shared database this is a no-op; with a
// process-local store the observation itself is the only source, and without
// it every wake-up would find nothing to fulfill. Create-only, so an indexer
// row is never overwritten.
func (r *Responder) recordObserved(ctx context.Context, ev *events.Event, p events.RequestOfframp) error {
	id := p.RequestOfframpID.Hex()
	existing, err := r.store.GetOffRamp(ctx, id)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return r.store.PutOffRamp(ctx, &store.OffRampRequest{
		ID:                       id,
		User:                     p.User.Hex(),
		RequestedAmount:          p.Amount.String(),
		RequestedAmountRealWorld: p.AmountRealWorld.String(),
		ChannelAccount:           p.ChannelAccount.Hex(),
		ChannelID:                p.ChannelID.Hex(),
		BlockNumber:              ev.BlockNumber,
		BlockTimestamp:           ev.BlockTimestamp,
		TransactionHash:          ev.TxHash.Hex(),
		Status:                   store.OffRampPending,
	})
}

func (r *Responder) enqueue(id string) {
	select {
	case r.queue <- id:
	default:
		r.log.WithField("id", id).Warn("queue full, request waits for next rescan")
	}
}

func (r *Responder) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.queue:
			if !r.claim(id) {
				continue
			}
			if err := r.fulfill(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
				r.log.WithError(err).WithField("id", id).Warn("fulfillment halted")
			}
			r.release(id)
		}
	}
}

func (r *Responder) claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight[id] {
		return false
	}
	r.inflight[id] = true
	return true
}

func (r *Responder) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, id)
}

// fulfill resumes the sequence for one request at its checkpointed step and
// drives it forward. A failed step leaves the checkpoint at that step and
// returns; cancellation is honored between steps, never mid-submission.
func (r *Responder) fulfill(ctx context.Context, id string) error {
	cp, err := r.store.GetCheckpoint(ctx, id)
	if err != nil {
		return err
	}
	if cp == nil || !validStep(Step(cp.NextStep)) {
		cp = &store.Checkpoint{RequestID: id, NextStep: string(StepDiscovered)}
	}
	if cp.Done {
		return nil
	}

	req, err := r.store.GetOffRamp(ctx, id)
	if err != nil {
		return err
	}
	if req == nil {
		return fmt.Errorf("offramp %s not indexed yet", id)
	}
	if req.Status == store.OffRampCompleted {
		return r.finish(ctx, cp)
	}

	for step := Step(cp.NextStep); step != ""; step = next(step) {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := r.runStepWithRetry(ctx, req, step); err != nil {
			cp.NextStep = string(step)
			cp.Attempts++
			cp.LastError = err.Error()
			cp.UpdatedAt = time.Now().UTC()
			if putErr := r.store.PutCheckpoint(ctx, cp); putErr != nil {
				r.log.WithError(putErr).WithField("id", id).Error("checkpoint not persisted")
			}
			return fmt.Errorf("step %s: %w", step, err)
		}

		cp.NextStep = string(next(step))
		cp.Attempts = 0
		cp.LastError = ""
		cp.UpdatedAt = time.Now().UTC()
		if cp.NextStep == "" {
			cp.Done = true
		}
		if err := r.store.PutCheckpoint(ctx, cp); err != nil {
			return fmt.Errorf("persist checkpoint: %w", err)
		}
	}

	r.log.WithField("id", id).Info("fulfillment sequence complete")
	return nil
}

func (r *Responder) finish(ctx context.Context, cp *store.Checkpoint) error {
	cp.Done = true
	cp.UpdatedAt = time.Now().UTC()
	return r.store.PutCheckpoint(ctx, cp)
}

// runStepWithRetry retries transient failures with bounded backoff. Reverts
// are deterministic and abort immediately, except the contract's
// DuplicateRequest guard, which counts as success.
func (r *Responder) runStepWithRetry(ctx context.Context, req *store.OffRampRequest, step Step) error {
	attempts := r.cfg.Retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := r.cfg.Retry.InitialBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	for i := 1; ; i++ {
		err := r.runStep(ctx, req, step)
		if err == nil {
			r.observe(step, "ok")
			return nil
		}
		if errors.Is(err, ErrRejected) || !chain.IsRetryable(err) || i == attempts {
			r.observe(step, "failed")
			return err
		}

		r.observe(step, "retry")
		sleep := backoff
		if r.cfg.Retry.MaxBackoff > 0 && sleep > r.cfg.Retry.MaxBackoff {
			sleep = r.cfg.Retry.MaxBackoff
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
		if r.cfg.Retry.BackoffMultiplier > 1 {
			backoff = backoff * time.Duration(r.cfg.Retry.BackoffMultiplier)
		}
	}
}

func (r *Responder) runStep(ctx context.Context, req *store.OffRampRequest, step Step) error {
	log := r.log.WithFields(logrus.Fields{"id": req.ID, "step": step})

	switch step {
	case StepDiscovered:
		log.Info("fulfillment started")
		return nil

	case StepComplianceChecked:
		if r.gate == nil {
			// The automated responder path is not gated; only the
			// user-initiated swap path consults the classifier.
			return nil
		}
		verdict, err := r.gate.Check(ctx, compliance.Message(req.User, req.RequestedAmount, r.cfg.SourceOfFunds))
		if err != nil {
			log.WithError(err).Warn("gate unavailable, failing closed")
			return ErrRejected
		}
		if verdict != compliance.VerdictSafe {
			return ErrRejected
		}
		return nil

	case StepApprovedFunds:
		amount, err := parseAmount(req.RequestedAmount)
		if err != nil {
			return err
		}
		receipt, err := r.token.Send(ctx, "approve", common.HexToAddress(r.cfg.ManagerAddress), amount)
		if err != nil {
			return err
		}
		log.WithField("tx", receipt.TxHash.Hex()).Info("funds approved")
		return nil

	case StepMintedRepresentation:
		amount, err := parseAmount(req.RequestedAmount)
		if err != nil {
			return err
		}
		receipt, err := r.userManager.Send(ctx, "mint", amount)
		if err != nil {
			return err
		}
		log.WithField("tx", receipt.TxHash.Hex()).Info("representation minted")
		return nil

	case StepSubmittedRequest:
		amount, err := parseAmount(req.RequestedAmount)
		if err != nil {
			return err
		}
		amountReal, err := parseAmount(req.RequestedAmountRealWorld)
		if err != nil {
			return err
		}
		params := contracts.OfframpRequestParams{
			User:            common.HexToAddress(req.User),
			Amount:          amount,
			AmountRealWorld: amountReal,
			ChannelAccount:  common.HexToHash(req.ChannelAccount),
			ChannelId:       common.HexToHash(req.ChannelID),
		}
		receipt, err := r.userManager.Send(ctx, "requestOfframp", params)
		if err != nil {
			if chain.IsDuplicateRequest(err) {
				log.Info("request already on-chain, continuing")
				return nil
			}
			return err
		}
		log.WithField("tx", receipt.TxHash.Hex()).Info("offramp requested")
		return nil

	case StepFillSubmitted:
		channelID, transactionID := r.fillReference(ctx, req)
		receipt, err := r.manager.Send(ctx, "fillOfframp",
			common.HexToHash(req.ID), channelID, transactionID)
		if err != nil {
			return err
		}
		log.WithField("tx", receipt.TxHash.Hex()).Info("offramp filled")
		return nil
	}

	return fmt.Errorf("unknown step %s", step)
}

// fillReference resolves the channel and off-chain payment reference for the
// fill. A verification task carries both when one exists; otherwise the
// request's own channel is used with a reference derived from its id.
func (r *Responder) fillReference(ctx context.Context, req *store.OffRampRequest) (common.Hash, common.Hash) {
	tasks, err := r.store.ListTasks(ctx, store.Filter{})
	if err == nil {
		for _, t := range tasks {
			if t.RequestOfframpID == req.ID {
				return common.HexToHash(t.ChannelID), common.HexToHash(t.TransactionID)
			}
		}
	}
	return common.HexToHash(req.ChannelID), chain.HashUTF8(req.ID)
}

func (r *Responder) observe(step Step, outcome string) {
	if r.metrics != nil {
		r.metrics.StepObserved(string(step), outcome)
	}
}

func parseAmount(s string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", s)
	}
	return amount, nil
}
