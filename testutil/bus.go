package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/c360/mathgate/natsclient"
)

// ErrBusClosed is returned by a closed FakeBus
var ErrBusClosed = errors.New("fake bus is closed")

// Published is one message recorded by FakeBus
type Published struct {
	Subject string
	Data    []byte
}

// Decode unmarshals the recorded payload into a map
func (p Published) Decode() map[string]any {
	var out map[string]any
	_ = json.Unmarshal(p.Data, &out)
	return out
}

// Responder reacts to a publish on a matching subject, typically by calling Deliver.
type Responder func(bus *FakeBus, subject string, payload any)

type responderEntry struct {
	pattern string
	fn      Responder
}

// FakeBus is an in-memory stand-in for natsclient.Client. It keeps the same
// subject keyed subscription rules, understands * and > wildcards, and records
// every publish. Handlers and responders run outside the lock.
type FakeBus struct {
	mu         sync.RWMutex
	published  []Published
	subs       map[string]natsclient.Handler
	responders []responderEntry
	closed     bool

	// injected failures keyed by subject pattern
	publishErr   map[string]error
	subscribeErr map[string]error
}

// NewFakeBus creates an empty bus
func NewFakeBus() *FakeBus {
	return &FakeBus{
		subs:         make(map[string]natsclient.Handler),
		publishErr:   make(map[string]error),
		subscribeErr: make(map[string]error),
	}
}

// Publish records payload and runs matching responders
func (b *FakeBus) Publish(ctx context.Context, subject string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var data []byte
	if raw, ok := payload.(json.RawMessage); ok {
		data = raw
	} else {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return err
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	for pattern, err := range b.publishErr {
		if MatchSubject(pattern, subject) {
			b.mu.Unlock()
			return err
		}
	}
	b.published = append(b.published, Published{Subject: subject, Data: data})

	var responders []Responder
	for _, r := range b.responders {
		if MatchSubject(r.pattern, subject) {
			responders = append(responders, r.fn)
		}
	}
	b.mu.Unlock()

	if len(responders) > 0 {
		var decoded any
		_ = json.Unmarshal(data, &decoded)
		for _, fn := range responders {
			fn(b, subject, decoded)
		}
	}
	return nil
}

// Subscribe registers handler for subject
func (b *FakeBus) Subscribe(ctx context.Context, subject string, handler natsclient.Handler) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	for pattern, err := range b.subscribeErr {
		if MatchSubject(pattern, subject) {
			return err
		}
	}
	if _, exists := b.subs[subject]; exists {
		return natsclient.ErrAlreadySubscribed
	}
	b.subs[subject] = handler
	return nil
}

// Unsubscribe removes the subscription for subject
func (b *FakeBus) Unsubscribe(subject string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subs[subject]; !exists {
		return natsclient.ErrUnknownSubscription
	}
	delete(b.subs, subject)
	return nil
}

// Deliver sends payload to every subscription matching subject, as if it
// arrived from the server. Any JSON value is delivered; a json.RawMessage that
// is not valid JSON is dropped like the real client drops it.
// It returns the number of handlers invoked.
func (b *FakeBus) Deliver(subject string, payload any) int {
	var data []byte
	if raw, ok := payload.(json.RawMessage); ok {
		data = raw
	} else {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return 0
		}
	}
	if !json.Valid(data) {
		return 0
	}

	b.mu.RLock()
	var handlers []natsclient.Handler
	for pattern, h := range b.subs {
		if MatchSubject(pattern, subject) {
			handlers = append(handlers, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		// each handler gets its own copy
		var decoded any
		_ = json.Unmarshal(data, &decoded)
		h(subject, decoded)
	}
	return len(handlers)
}

// Respond registers fn to run after every successful publish matching pattern
func (b *FakeBus) Respond(pattern string, fn Responder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responders = append(b.responders, responderEntry{pattern: pattern, fn: fn})
}

// FailPublish makes publishes matching pattern return err. A nil err clears it.
func (b *FakeBus) FailPublish(pattern string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.publishErr, pattern)
		return
	}
	b.publishErr[pattern] = err
}

// FailSubscribe makes subscriptions matching pattern return err. A nil err clears it.
func (b *FakeBus) FailSubscribe(pattern string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.subscribeErr, pattern)
		return
	}
	b.subscribeErr[pattern] = err
}

// Published returns a copy of every recorded publish
func (b *FakeBus) Published() []Published {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Published, len(b.published))
	copy(out, b.published)
	return out
}

// PublishedOn returns the recorded publishes whose subject matches pattern
func (b *FakeBus) PublishedOn(pattern string) []Published {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Published
	for _, p := range b.published {
		if MatchSubject(pattern, p.Subject) {
			out = append(out, p)
		}
	}
	return out
}

// HasSubscription reports whether subject is subscribed
func (b *FakeBus) HasSubscription(subject string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.subs[subject]
	return ok
}

// SubscriptionCount returns the number of active subscriptions
func (b *FakeBus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close rejects further publishes and subscriptions
func (b *FakeBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]natsclient.Handler)
}

// MatchSubject reports whether subject matches a NATS pattern with * and > wildcards.
func MatchSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, tok := range pt {
		if tok == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if tok != "*" && tok != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
