package workspace

import (
	"context"
	"sync"

	"github.com/assistly/callcenter-service/internal/core/event"
	"github.com/assistly/callcenter-service/pkg/logger"
	"go.uber.org/zap"
)

// TransitionFunc applies the visual side effect of a visibility change
// to the embedded call workspace. Implementations may block for the
// duration of the transition (animation, vendor show/hide API).
type TransitionFunc func(ctx context.Context, visible bool) error

// Coordinator serializes show/hide requests against the embedded
// third-party call workspace. Show and hide are mutually exclusive and
// never interleave: a request arriving while a transition is in flight
// waits for it to finish instead of racing the visual state. The guard
// flags are released on every exit path, including panics inside the
// transition body, so a failed transition can never leave the
// coordinator stuck.
type Coordinator struct {
	sem chan struct{}

	mutex     sync.RWMutex
	visible   bool
	isShowing bool
	isHiding  bool

	apply TransitionFunc
	bus   event.Bus
}

// NewCoordinator creates a coordinator around the given transition
// function. A nil transition makes visibility changes pure state
// flips, which is what tests and headless deployments use.
func NewCoordinator(apply TransitionFunc, bus event.Bus) *Coordinator {
	return &Coordinator{
		sem:   make(chan struct{}, 1),
		apply: apply,
		bus:   bus,
	}
}

// Show makes the workspace visible. Requests arriving during an
// in-flight hide are queued behind it. Showing an already-visible
// workspace is a no-op; concurrent duplicate shows converge to a
// single applied transition.
func (c *Coordinator) Show(ctx context.Context) error {
	return c.transition(ctx, true)
}

// Hide makes the workspace invisible, with the same queuing and
// idempotence rules as Show.
func (c *Coordinator) Hide(ctx context.Context) error {
	return c.transition(ctx, false)
}

// Snapshot exposes the current visibility state for diagnostics.
func (c *Coordinator) Snapshot() event.VisibilityData {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return event.VisibilityData{
		Visible:   c.visible,
		IsShowing: c.isShowing,
		IsHiding:  c.isHiding,
	}
}

func (c *Coordinator) transition(ctx context.Context, visible bool) error {
	// Scoped acquisition: one transition at a time, waiters queue in
	// arrival order, cancellable while waiting.
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.sem }()

	c.mutex.Lock()
	if c.visible == visible {
		c.mutex.Unlock()
		return nil
	}
	if visible {
		c.isShowing = true
	} else {
		c.isHiding = true
	}
	c.mutex.Unlock()
	c.publish()

	// Guard flags are cleared unconditionally, panic included; the
	// semaphore release above then unblocks the next queued request.
	defer func() {
		c.mutex.Lock()
		c.isShowing = false
		c.isHiding = false
		c.mutex.Unlock()
		c.publish()
	}()

	if c.apply != nil {
		if err := c.apply(ctx, visible); err != nil {
			logger.Base().Error("Workspace transition failed",
				zap.Bool("target_visible", visible), zap.Error(err))
			return err
		}
	}

	c.mutex.Lock()
	c.visible = visible
	c.mutex.Unlock()
	return nil
}

func (c *Coordinator) publish() {
	if c.bus == nil {
		return
	}
	snap := c.Snapshot()
	_ = c.bus.PublishSync(event.New(event.WorkspaceVisibilityChanged, "").WithData(&snap))
}
