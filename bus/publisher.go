package bus

import (
	"context"
	"errors"
	"maps"
	"sync/atomic"
	"time"

	"gocloud.dev/pubsub"

	"github.com/wrapline/wrapline-go/internal"
)

type publisher struct {
	reference string
	url       string
	topic     *pubsub.Topic
	isInit    atomic.Bool
}

func newPublisher(reference string, queueURL string) Publisher {
	return &publisher{
		reference: reference,
		url:       queueURL,
	}
}

func (p *publisher) Ref() string {
	return p.reference
}

func (p *publisher) Publish(ctx context.Context, payload any, headers ...map[string]string) error {
	metadata := map[string]string{}
	for _, h := range headers {
		maps.Copy(metadata, h)
	}

	message, err := internal.Marshal(payload)
	if err != nil {
		return err
	}

	topic := p.topic
	if topic == nil {
		return errors.New("publisher is not initialized")
	}

	return topic.Send(ctx, &pubsub.Message{
		Body:     message,
		Metadata: metadata,
	})
}

func (p *publisher) Init(ctx context.Context) error {
	if p.isInit.Load() && p.topic != nil {
		return nil
	}

	var err error

	p.topic, err = pubsub.OpenTopic(ctx, p.url)
	if err != nil {
		return err
	}

	p.isInit.Store(true)
	return nil
}

func (p *publisher) Initiated() bool {
	return p.isInit.Load()
}

const defaultPublisherShutdownTimeout = 5 * time.Second

func (p *publisher) Stop(ctx context.Context) error {
	var sctx context.Context
	select {
	case <-ctx.Done():
		sctx = context.Background()
	default:
		sctx = ctx
	}

	sctx, cancelFunc := context.WithTimeout(sctx, defaultPublisherShutdownTimeout)
	defer cancelFunc()

	p.isInit.Store(false)

	if p.topic != nil {
		return p.topic.Shutdown(sctx)
	}

	return nil
}
