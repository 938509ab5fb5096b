package handler

import (
	"gitlab.com/tozd/go/errors"
)

// Registry resolves a handler tag (as stored on an upload_requests row) to
// its Handler implementation. It is built once at startup; an unknown tag
// is rejected when a batch is enqueued (CreateUpload resolves it), never a
// runtime surprise a worker discovers mid-job.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds a Registry from the given handlers, keyed by their own
// Name(). It errors if any two handlers share a name.
func NewRegistry(handlers ...Handler) (*Registry, errors.E) {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		if _, ok := r.handlers[h.Name()]; ok {
			return nil, errors.Errorf("duplicate handler registered for tag %q", h.Name())
		}
		r.handlers[h.Name()] = h
	}
	return r, nil
}

// Get resolves tag to its Handler. The error is a configuration error: the
// caller should treat it as fatal rather than retry.
func (r *Registry) Get(tag string) (Handler, errors.E) {
	h, ok := r.handlers[tag]
	if !ok {
		return nil, errors.Errorf("no handler registered for tag %q", tag)
	}
	return h, nil
}

// Tags returns the registered handler tags.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.handlers))
	for tag := range r.handlers {
		tags = append(tags, tag)
	}
	return tags
}
