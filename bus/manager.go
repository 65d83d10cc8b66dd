package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	// Pubsub driver registration. mem:// serves in-process kits, nats://
	// serves host pages that bridge signals to an external broker.
	_ "github.com/pitabwire/natspubsub"
	_ "gocloud.dev/pubsub/mempubsub"
)

type manager struct {
	mu          sync.RWMutex
	publishers  map[string]Publisher
	subscribers map[string]Subscriber
}

// NewManager creates an empty signal bus manager.
func NewManager() Manager {
	return &manager{
		publishers:  make(map[string]Publisher),
		subscribers: make(map[string]Subscriber),
	}
}

// AddPublisher opens a topic under the given reference. Publishers must be
// registered before subscribers so the mem:// driver has a topic to attach to.
func (m *manager) AddPublisher(ctx context.Context, reference string, queueURL string) error {
	p := newPublisher(reference, queueURL)
	if err := p.Init(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishers[reference] = p
	return nil
}

func (m *manager) GetPublisher(reference string) (Publisher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.publishers[reference]
	if !ok {
		return nil, fmt.Errorf("publisher %q is not registered", reference)
	}
	return p, nil
}

func (m *manager) AddSubscriber(
	ctx context.Context,
	reference string,
	queueURL string,
	handlers ...SubscribeWorker,
) error {
	s := &subscriber{
		reference: reference,
		url:       queueURL,
		handlers:  handlers,
	}
	if err := s.Init(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers[reference] = s
	return nil
}

func (m *manager) Publish(ctx context.Context, reference string, payload any, headers ...map[string]string) error {
	p, err := m.GetPublisher(reference)
	if err != nil {
		return err
	}
	return p.Publish(ctx, payload, headers...)
}

func (m *manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, s := range m.subscribers {
		if err := s.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, p := range m.publishers {
		if err := p.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	m.subscribers = make(map[string]Subscriber)
	m.publishers = make(map[string]Publisher)

	return errors.Join(errs...)
}
