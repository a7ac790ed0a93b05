package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/assistly/callcenter-service/internal/callstate"
	"github.com/assistly/callcenter-service/internal/domain"
	"github.com/assistly/callcenter-service/internal/repository"
	"github.com/assistly/callcenter-service/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrCallNotFound is returned when the referenced call is unknown.
	ErrCallNotFound = errors.New("call not found")
	// ErrEndCallThrottled is returned when end-call commands are being
	// issued faster than the provider budget allows.
	ErrEndCallThrottled = errors.New("end-call commands throttled")
)

// ProviderCommander issues authoritative commands against the
// telephony provider.
type ProviderCommander interface {
	EndCall(ctx context.Context, externalCallID string, reason domain.EndReason) error
}

// Terminator is the fallback command path that force-marks a call as
// ended when the provider's own termination signal is lost or delayed.
// It never mutates the call state store directly: it triggers the
// authoritative update path (provider command plus backend mark) and
// lets the resulting push update flow back through the store, keeping
// single-writer semantics.
type Terminator struct {
	store     *callstate.Store
	repo      repository.CallRepository
	commander ProviderCommander
	limiter   *rate.Limiter
}

// NewTerminator creates a terminator. The rate limit protects the
// provider API from an operator mashing the end button.
func NewTerminator(store *callstate.Store, repo repository.CallRepository, commander ProviderCommander) *Terminator {
	return &Terminator{
		store:     store,
		repo:      repo,
		commander: commander,
		limiter:   rate.NewLimiter(rate.Every(2*time.Second), 3),
	}
}

// EndCall issues a single authoritative end-call command. Calling it
// on an already-terminal call reports success without issuing a
// duplicate provider command. Failures surface to the operator; there
// is no automatic retry because repeated end-call commands against the
// provider can have side effects beyond idempotent status marking.
func (t *Terminator) EndCall(ctx context.Context, callID, externalID string, reason domain.EndReason) error {
	if callID == "" {
		return fmt.Errorf("call id is required")
	}
	if reason == "" {
		reason = domain.EndReasonForcedEnd
	}

	// Pre-flight status read, store first, backend as fallback.
	call, ok := t.store.Get(callID)
	if !ok && t.repo != nil {
		stored, err := t.repo.GetByID(ctx, callID)
		if err != nil {
			return fmt.Errorf("pre-flight read failed: %w", err)
		}
		if stored != nil {
			call = stored
			ok = true
		}
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}

	if call.Status.Terminal() {
		logger.Base().Info("End-call requested for already-terminal call, nothing to do",
			zap.String("call_id", callID), zap.String("status", string(call.Status)))
		return nil
	}

	if !t.limiter.Allow() {
		return ErrEndCallThrottled
	}

	if externalID == "" {
		externalID = call.ExternalCallID
	}

	if err := t.commander.EndCall(ctx, externalID, reason); err != nil {
		return fmt.Errorf("failed to end call %s: %w", callID, err)
	}

	// Backend mark; the terminal push update comes back through the
	// store like any other authoritative change.
	if t.repo != nil {
		if err := t.repo.MarkEnded(ctx, callID, reason, time.Now()); err != nil {
			return fmt.Errorf("provider accepted end-call but backend mark failed: %w", err)
		}
	}

	logger.Base().Info("Manual call termination issued",
		zap.String("call_id", callID),
		zap.String("external_id", externalID),
		zap.String("reason", string(reason)))
	return nil
}
