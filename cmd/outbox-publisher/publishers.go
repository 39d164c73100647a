package main

import (
	"context"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	Stop()
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type publisherFactory func(topic string) publisher

// publisherCache keeps one batching publisher per topic for the life of the
// service.
type publisherCache struct {
	factory publisherFactory

	mu     sync.Mutex
	byName map[string]publisher
}

func newPublisherCache(factory publisherFactory) *publisherCache {
	return &publisherCache{factory: factory, byName: map[string]publisher{}}
}

func (c *publisherCache) get(topic string) publisher {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pub, ok := c.byName[topic]; ok {
		return pub
	}
	pub := c.factory(topic)
	if pub != nil {
		c.byName[topic] = pub
	}
	return pub
}

// stopAll flushes pending messages on every publisher.
func (c *publisherCache) stopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, pub := range c.byName {
		pub.Stop()
		delete(c.byName, topic)
	}
}

type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func newGCPPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{p: p}
}

func (g *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return g.p.Publish(ctx, msg)
}

func (g *gcpPublisher) Stop() { g.p.Stop() }
