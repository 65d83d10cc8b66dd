package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pitabwire/util"
	"gocloud.dev/pubsub"
)

type subscriber struct {
	reference    string
	url          string
	handlers     []SubscribeWorker
	subscription *pubsub.Subscription
	isInit       atomic.Bool
}

func (s *subscriber) Ref() string {
	return s.reference
}

func (s *subscriber) URI() string {
	return s.url
}

func (s *subscriber) Init(ctx context.Context) error {
	if s.isInit.Load() && s.subscription != nil {
		return nil
	}

	if strings.TrimSpace(s.url) == "" {
		return errors.New("subscriber URL cannot be empty")
	}

	subs, err := pubsub.OpenSubscription(ctx, s.url)
	if err != nil {
		return fmt.Errorf("could not open topic subscription: %w", err)
	}
	s.subscription = subs

	if len(s.handlers) > 0 {
		go s.listen(ctx)
	}

	s.isInit.Store(true)
	return nil
}

func (s *subscriber) Initiated() bool {
	return s.isInit.Load()
}

// listen pulls messages until the context ends or the subscription shuts down.
// Handler errors are logged and the message acked anyway; a broken host-page
// observer must never wedge the signal stream.
func (s *subscriber) listen(ctx context.Context) {
	for {
		msg, err := s.subscription.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			if !s.isInit.Load() {
				return
			}

			util.Log(ctx).WithError(err).
				WithField("subscriber", s.reference).
				Warn("could not receive signal message")
			return
		}

		s.dispatch(ctx, msg)
	}
}

func (s *subscriber) dispatch(ctx context.Context, msg *pubsub.Message) {
	defer msg.Ack()

	for _, worker := range s.handlers {
		if err := worker.Handle(ctx, msg.Metadata, msg.Body); err != nil {
			util.Log(ctx).WithError(err).
				WithField("subscriber", s.reference).
				WithField("url", s.url).
				Warn("could not handle signal message")
		}
	}
}

const defaultSubscriberShutdownTimeout = time.Second

func (s *subscriber) Stop(ctx context.Context) error {
	var sctx context.Context
	select {
	case <-ctx.Done():
		sctx = context.Background()
	default:
		sctx = ctx
	}

	sctx, cancelFunc := context.WithTimeout(sctx, defaultSubscriberShutdownTimeout)
	defer cancelFunc()

	s.isInit.Store(false)

	if s.subscription != nil {
		return s.subscription.Shutdown(sctx)
	}

	return nil
}
