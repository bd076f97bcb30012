package slug

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MaxAttempts bounds the number of candidates Unique probes.
const MaxAttempts = 200

var (
	// ErrConflict reports that an explicitly requested slug belongs to another post.
	ErrConflict = errors.New("slug already exists")
	// ErrExhausted reports that no free suffix was found within MaxAttempts probes.
	ErrExhausted = errors.New("no unique slug available")
)

// Lookup answers whether a slug is held by a post other than excludeID.
// excludeID 0 means no post is excluded.
type Lookup interface {
	SlugTaken(ctx context.Context, slug string, excludeID uint) (bool, error)
}

// Resolver assigns unique slugs by probing a Lookup.
type Resolver struct {
	lookup Lookup
}

// NewResolver creates a Resolver backed by lookup.
func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Explicit validates a caller-supplied slug. It never adds a suffix: a slug
// held by another post fails with ErrConflict.
func (r *Resolver) Explicit(ctx context.Context, requested string, excludeID uint) (string, error) {
	candidate := Make(requested)
	taken, err := r.lookup.SlugTaken(ctx, candidate, excludeID)
	if err != nil {
		return "", err
	}
	if taken {
		return "", fmt.Errorf("%w: %s", ErrConflict, candidate)
	}
	return candidate, nil
}

// Derive computes the slug for title. When the derived candidate matches
// currentSlug (ignoring case) the current slug is kept as is.
func (r *Resolver) Derive(ctx context.Context, title, currentSlug string, excludeID uint) (string, error) {
	candidate := Make(title)
	if currentSlug != "" && strings.EqualFold(candidate, currentSlug) {
		return currentSlug, nil
	}
	return r.Unique(ctx, candidate, excludeID)
}

// Unique returns candidate, or candidate-2, candidate-3, ... whichever is free first.
func (r *Resolver) Unique(ctx context.Context, candidate string, excludeID uint) (string, error) {
	next := candidate
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		taken, err := r.lookup.SlugTaken(ctx, next, excludeID)
		if err != nil {
			return "", err
		}
		if !taken {
			return next, nil
		}
		next = fmt.Sprintf("%s-%d", candidate, attempt+1)
	}
	return "", fmt.Errorf("%w: %s after %d attempts", ErrExhausted, candidate, MaxAttempts)
}
