package registry

import "fmt"

// Kind tells the dispatcher how to publish an endpoint's value.
type Kind int

const (
	Numeric Kind = iota
	Text
)

func (k Kind) String() string {
	if k == Text {
		return "text"
	}
	return "sensor"
}

// Endpoint identifies a sensor that consumes one field of a request.
type Endpoint struct {
	Meter string
	Name  string
	Kind  Kind
	Unit  string
}

// Subscriber binds an endpoint to its field selector.
type Subscriber struct {
	Endpoint Endpoint
	Selector FieldSelector
}

// Builder collects sensor registrations at configuration time.
type Builder struct {
	order []Request
	subs  map[Request][]Subscriber
	names map[string]struct{}
}

func NewBuilder() *Builder {
	return &Builder{
		subs:  make(map[Request][]Subscriber),
		names: make(map[string]struct{}),
	}
}

// Register validates the request and selector and records the endpoint.
// Identical requests collapse into one on-wire request.
func (b *Builder) Register(ep Endpoint, raw string, sel FieldSelector) error {
	req, err := ParseRequest(raw)
	if err != nil {
		return fmt.Errorf("sensor %q: %w", ep.Name, err)
	}
	if err := sel.Validate(); err != nil {
		return fmt.Errorf("sensor %q: %w", ep.Name, err)
	}
	if _, dup := b.names[ep.Name]; dup {
		return fmt.Errorf("sensor %q: duplicate name", ep.Name)
	}
	b.names[ep.Name] = struct{}{}

	if _, seen := b.subs[req]; !seen {
		b.order = append(b.order, req)
	}
	b.subs[req] = append(b.subs[req], Subscriber{Endpoint: ep, Selector: sel})
	return nil
}

// Build freezes the registrations.
func (b *Builder) Build() *Registry {
	r := &Registry{
		order: append([]Request(nil), b.order...),
		subs:  make(map[Request][]Subscriber, len(b.subs)),
	}
	for req, subs := range b.subs {
		r.subs[req] = append([]Subscriber(nil), subs...)
	}
	return r
}

// Registry is the immutable request table walked on every poll.
type Registry struct {
	order []Request
	subs  map[Request][]Subscriber
}

// Requests returns the distinct requests in first-registered order.
func (r *Registry) Requests() []Request {
	return append([]Request(nil), r.order...)
}

func (r *Registry) Subscribers(req Request) []Subscriber {
	return r.subs[req]
}

func (r *Registry) Len() int { return len(r.order) }

// Endpoints lists every registered endpoint in request order.
func (r *Registry) Endpoints() []Endpoint {
	var out []Endpoint
	for _, req := range r.order {
		for _, s := range r.subs[req] {
			out = append(out, s.Endpoint)
		}
	}
	return out
}
