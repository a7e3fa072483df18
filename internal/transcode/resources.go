package transcode

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
)

// resources is the ordered list of handles a rendition run owns. Handles are
// released in reverse acquisition order, each exactly once.
type resources struct {
	logger  *slog.Logger
	handles []ownedHandle
}

type ownedHandle struct {
	name   string
	closer io.Closer
}

func newResources(logger *slog.Logger) *resources {
	return &resources{logger: logger}
}

// own records c for release. Nil handles, including typed nil pointers, are
// ignored.
func (r *resources) own(name string, c io.Closer) {
	if isNil(c) {
		return
	}
	r.handles = append(r.handles, ownedHandle{name: name, closer: c})
}

// len reports how many handles are still owned.
func (r *resources) len() int {
	return len(r.handles)
}

// releaseAll closes every owned handle, newest first. A second call is a
// no-op. All close errors are returned joined.
func (r *resources) releaseAll() error {
	var errs []error
	for i := len(r.handles) - 1; i >= 0; i-- {
		h := r.handles[i]
		if err := h.closer.Close(); err != nil {
			r.logger.Warn("failed to release resource",
				slog.String("resource", h.name),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("closing %s: %w", h.name, err))
		} else {
			r.logger.Debug("released resource", slog.String("resource", h.name))
		}
	}
	r.handles = nil
	return errors.Join(errs...)
}

func isNil(c io.Closer) bool {
	if c == nil {
		return true
	}
	v := reflect.ValueOf(c)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	default:
		return false
	}
}
