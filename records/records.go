// Package records is the persistence service for the site's content:
// events, members, user records and join applications. Every operation
// returns a Result instead of failing across the boundary.
package records

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid"

	"github.com/jmcleod/clubhouse/storage"
)

var (
	// ErrValidation indicates a record failed validation.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates the record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidTransition indicates a status change that is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Result is the outcome of a persistence call.
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Err     error  `json:"-"`
}

func ok[T any](v T) Result[T] {
	return Result[T]{Success: true, Data: v}
}

func fail[T any](err error) Result[T] {
	return Result[T]{Success: false, Error: err.Error(), Err: err}
}

// Meta is embedded in every record.
type Meta struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (m *Meta) meta() *Meta { return m }

// entity is satisfied by pointers to record types that embed Meta.
type entity[T any] interface {
	*T
	meta() *Meta
	Validate() error
}

// idSource issues ULIDs, which sort by creation time. The monotonic
// entropy reader is not safe for concurrent use.
type idSource struct {
	mu      sync.Mutex
	entropy io.Reader
}

func newIDSource() *idSource {
	return &idSource{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (s *idSource) next(t time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), s.entropy)
	if err != nil {
		return "", fmt.Errorf("generating id: %w", err)
	}
	return id.String(), nil
}

// Collection stores records of one type under a named collection.
type Collection[T any, P entity[T]] struct {
	repo storage.Repository
	name string
	ids  *idSource
	now  func() time.Time
	mu   sync.Mutex
}

func newCollection[T any, P entity[T]](repo storage.Repository, name string, ids *idSource, now func() time.Time) *Collection[T, P] {
	return &Collection[T, P]{repo: repo, name: name, ids: ids, now: now}
}

// Name returns the collection name.
func (c *Collection[T, P]) Name() string { return c.name }

// List returns every record in creation order.
func (c *Collection[T, P]) List(ctx context.Context) Result[[]T] {
	if err := ctx.Err(); err != nil {
		return fail[[]T](err)
	}
	ids, err := c.repo.List(c.name)
	if err != nil {
		return fail[[]T](fmt.Errorf("listing %s: %w", c.name, err))
	}
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		v, err := c.load(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return fail[[]T](err)
		}
		out = append(out, v)
	}
	return ok(out)
}

// Get returns one record.
func (c *Collection[T, P]) Get(ctx context.Context, id string) Result[T] {
	if err := ctx.Err(); err != nil {
		return fail[T](err)
	}
	v, err := c.load(id)
	if err != nil {
		return fail[T](err)
	}
	return ok(v)
}

// Create validates v, assigns a new ID and timestamps, and stores it.
func (c *Collection[T, P]) Create(ctx context.Context, v T) Result[T] {
	if err := ctx.Err(); err != nil {
		return fail[T](err)
	}
	p := P(&v)
	if err := p.Validate(); err != nil {
		return fail[T](err)
	}
	now := c.now().UTC()
	id, err := c.ids.next(now)
	if err != nil {
		return fail[T](err)
	}
	m := p.meta()
	m.ID, m.CreatedAt, m.UpdatedAt = id, now, now

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store(v); err != nil {
		return fail[T](err)
	}
	return ok(v)
}

// Update replaces the record with ID id by v, keeping its ID and creation
// time.
func (c *Collection[T, P]) Update(ctx context.Context, id string, v T) Result[T] {
	return c.update(ctx, id, func(cur *T) error {
		m := *P(cur).meta()
		*cur = v
		*P(cur).meta() = m
		return nil
	})
}

// Modify applies fn to the stored record with ID id and saves the result.
func (c *Collection[T, P]) Modify(ctx context.Context, id string, fn func(*T) error) Result[T] {
	return c.update(ctx, id, fn)
}

func (c *Collection[T, P]) update(ctx context.Context, id string, fn func(*T) error) Result[T] {
	if err := ctx.Err(); err != nil {
		return fail[T](err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, err := c.load(id)
	if err != nil {
		return fail[T](err)
	}
	if err := fn(&cur); err != nil {
		return fail[T](err)
	}
	p := P(&cur)
	if err := p.Validate(); err != nil {
		return fail[T](err)
	}
	p.meta().UpdatedAt = c.now().UTC()
	if err := c.store(cur); err != nil {
		return fail[T](err)
	}
	return ok(cur)
}

// Delete removes the record with ID id.
func (c *Collection[T, P]) Delete(ctx context.Context, id string) Result[struct{}] {
	if err := ctx.Err(); err != nil {
		return fail[struct{}](err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.repo.Delete(c.name, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fail[struct{}](fmt.Errorf("%s %q: %w", c.name, id, ErrNotFound))
		}
		return fail[struct{}](fmt.Errorf("deleting %s %q: %w", c.name, id, err))
	}
	return ok(struct{}{})
}

func (c *Collection[T, P]) load(id string) (T, error) {
	var v T
	if id == "" {
		return v, fmt.Errorf("%s: empty id: %w", c.name, ErrNotFound)
	}
	data, err := c.repo.Get(c.name, id)
	if errors.Is(err, storage.ErrNotFound) {
		return v, fmt.Errorf("%s %q: %w", c.name, id, ErrNotFound)
	}
	if err != nil {
		return v, fmt.Errorf("loading %s %q: %w", c.name, id, err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decoding %s %q: %w", c.name, id, err)
	}
	return v, nil
}

func (c *Collection[T, P]) store(v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", c.name, err)
	}
	id := P(&v).meta().ID
	if err := c.repo.Put(c.name, id, data); err != nil {
		return fmt.Errorf("storing %s %q: %w", c.name, id, err)
	}
	return nil
}
