package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/pitabwire/util"

	"github.com/wrapline/wrapline-go/internal"
)

// SignalHeaderName routes a message to its registered signal.
const SignalHeaderName = "wrapline._internal.signal.header"

// Signal represents one named signal the kit reacts to. PayloadType must
// return a fresh pointer on every call; the dispatcher unmarshals into it and
// hands the same pointer to Validate and Execute.
type Signal interface {
	// Name is the unique id of the signal, used to pick it from the registry.
	Name() string

	// PayloadType returns a new holder for decoding the signal payload.
	PayloadType() any

	// Validate checks the decoded payload before Execute runs.
	Validate(ctx context.Context, payload any) error

	// Execute reacts to the signal.
	Execute(ctx context.Context, payload any) error
}

// Registry connects named signals to the bus.
type Registry interface {
	Add(signal Signal)
	Get(name string) (Signal, error)
	Emit(ctx context.Context, name string, payload any) error
	Handler() SubscribeWorker
}

type registry struct {
	qm       Manager
	queueRef string

	mu      sync.RWMutex
	signals map[string]Signal
}

// NewRegistry creates a signal registry that emits through the given
// publisher reference.
func NewRegistry(qm Manager, queueRef string) Registry {
	return &registry{
		qm:       qm,
		queueRef: queueRef,
		signals:  make(map[string]Signal),
	}
}

func (r *registry) Add(signal Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals[signal.Name()] = signal
}

func (r *registry) Get(name string) (Signal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.signals[name]
	if !ok {
		return nil, errors.New("signal not found in registry: " + name)
	}
	return s, nil
}

// Emit publishes a signal with the given name and payload onto the bus.
func (r *registry) Emit(ctx context.Context, name string, payload any) error {
	err := r.qm.Publish(ctx, r.queueRef, payload, map[string]string{SignalHeaderName: name})
	if err != nil {
		util.Log(ctx).WithError(err).WithField("name", name).Warn("could not emit signal")
		return err
	}

	return nil
}

func (r *registry) Handler() SubscribeWorker {
	return &signalHandler{registry: r}
}

type signalHandler struct {
	registry *registry
}

func (h *signalHandler) Handle(ctx context.Context, header map[string]string, payload []byte) error {
	signalName := header[SignalHeaderName]
	if signalName == "" {
		util.Log(ctx).Warn("missing signal header in message")
		return errors.New("missing signal header")
	}

	signal, err := h.registry.Get(signalName)
	if err != nil {
		// analytics.<event> mirrors have no in-process consumer; they exist
		// for host-page observers subscribed to the same topic.
		util.Log(ctx).WithField("signal", signalName).Debug("no registered handler for signal")
		return nil
	}

	holder := signal.PayloadType()
	if err = internal.Unmarshal(payload, holder); err != nil {
		util.Log(ctx).WithError(err).WithField("signal", signalName).Warn("failed to unmarshal signal payload")
		return err
	}

	if err = signal.Validate(ctx, holder); err != nil {
		util.Log(ctx).WithError(err).WithField("signal", signalName).Warn("signal payload validation failed")
		return err
	}

	if err = signal.Execute(ctx, holder); err != nil {
		util.Log(ctx).WithError(err).WithField("signal", signalName).Warn("signal execution failed")
		return err
	}

	return nil
}
