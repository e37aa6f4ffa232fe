// Package registry maps pair identifiers to their order books and resolves
// which book, and which side of it, serves a currency conversion.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fleetingbytes/cryptoworth/internal/book"
	"github.com/fleetingbytes/cryptoworth/internal/model"
	"github.com/fleetingbytes/cryptoworth/internal/pair"
)

// ErrPairNotFound is returned when no book exists for a symbol, or for a
// conversion in either direction.
var ErrPairNotFound = errors.New("registry: pair not found")

// Registry owns one OrderBook per pair. Like the books it holds, it is not
// safe for concurrent mutation.
type Registry struct {
	books map[pair.Pair]*book.OrderBook
}

// New creates a registry with an empty book for every given pair.
func New(pairs ...pair.Pair) *Registry {
	r := &Registry{books: make(map[pair.Pair]*book.OrderBook, len(pairs))}
	for _, p := range pairs {
		r.Add(p)
	}
	return r
}

// Add registers p and returns its book. Adding an existing pair returns the
// existing book untouched.
func (r *Registry) Add(p pair.Pair) *book.OrderBook {
	if b, ok := r.books[p]; ok {
		return b
	}
	b := book.New(p)
	r.books[p] = b
	return b
}

// Book returns the book registered under exactly p.
func (r *Registry) Book(p pair.Pair) (*book.OrderBook, bool) {
	b, ok := r.books[p]
	return b, ok
}

// Lookup returns the book for a BASE-QUOTE symbol string as it appears on the
// feed. Malformed and unknown symbols both yield ErrPairNotFound.
func (r *Registry) Lookup(symbol string) (*book.OrderBook, error) {
	p, err := pair.Parse(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPairNotFound, err)
	}
	b, ok := r.books[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPairNotFound, symbol)
	}
	return b, nil
}

// Pairs returns the registered pairs sorted by their string form.
func (r *Registry) Pairs() []pair.Pair {
	out := make([]pair.Pair, 0, len(r.books))
	for p := range r.books {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Len returns the number of registered books.
func (r *Registry) Len() int {
	return len(r.books)
}

// Resolve finds the book that converts source into target.
//
// If source-target is registered the direction is Forward: source is sold
// into that book's bids. Otherwise, if target-source is registered, the
// direction is Inverted: source is spent against that book's asks, acquiring
// target. If neither exists Resolve returns ErrPairNotFound.
func (r *Registry) Resolve(source, target string) (*book.OrderBook, model.Direction, error) {
	if b, ok := r.books[pair.New(source, target)]; ok {
		return b, model.Forward, nil
	}
	if b, ok := r.books[pair.New(target, source)]; ok {
		return b, model.Inverted, nil
	}
	return nil, model.Forward, fmt.Errorf("%w: no %s-%s or %s-%s book",
		ErrPairNotFound, source, target, target, source)
}
