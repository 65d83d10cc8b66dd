// Package bus carries the kit's process-wide signals: consent-changed,
// language-changed and the analytics.<event> observability mirror. In-process
// hosts run it over mem://, pages that bridge signals out can point it at a
// nats:// URL instead.
package bus

import (
	"context"
)

// SubscribeWorker handles one received signal message.
type SubscribeWorker interface {
	Handle(ctx context.Context, header map[string]string, payload []byte) error
}

// Manager owns the named publishers and subscribers of a kit.
type Manager interface {
	AddPublisher(ctx context.Context, reference string, queueURL string) error
	GetPublisher(reference string) (Publisher, error)
	AddSubscriber(ctx context.Context, reference string, queueURL string, handlers ...SubscribeWorker) error

	Publish(ctx context.Context, reference string, payload any, headers ...map[string]string) error
	Stop(ctx context.Context) error
}

// Publisher pushes signal payloads onto one topic.
type Publisher interface {
	Ref() string
	Initiated() bool
	Init(ctx context.Context) error

	Publish(ctx context.Context, payload any, headers ...map[string]string) error
	Stop(ctx context.Context) error
}

// Subscriber pulls signal messages off one topic and feeds its workers.
type Subscriber interface {
	Ref() string
	URI() string
	Initiated() bool

	Init(ctx context.Context) error
	Stop(ctx context.Context) error
}
