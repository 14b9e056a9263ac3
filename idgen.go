package main

import (
	"crypto/rand"
	_ "embed"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

//go:embed data/id-digits.json
var idDigitsJSON []byte

// ErrKeyspaceExhausted is returned by Allocator.Next once every id in the
// keyspace has been handed out. Room creation has no recovery path from it.
var ErrKeyspaceExhausted = errors.New("all ids are used")

// Allocator hands out human-shareable ids like "worm-mud-fern" by walking a
// pre-shuffled permutation of the whole keyspace, so ids are unpredictable
// but never repeat. Not safe for concurrent use; the server run loop is the
// only caller after startup.
type Allocator struct {
	words  []string
	length int
	order  []int
	cursor int
}

func defaultWords() ([]string, error) {
	var words []string
	if err := json.Unmarshal(idDigitsJSON, &words); err != nil {
		return nil, fmt.Errorf("embedded id digits: %w", err)
	}
	return words, nil
}

func newAllocator(words []string, length int) (*Allocator, error) {
	if len(words) < 2 {
		return nil, errors.New("id alphabet needs at least two words")
	}
	if length < 1 {
		return nil, fmt.Errorf("invalid id length: %d", length)
	}

	size := 1
	for i := 0; i < length; i++ {
		size *= len(words)
	}

	order := make([]int, size)
	for i := range order {
		order[i] = i
	}

	// Fisher-Yates shuffle using crypto/rand
	for i := len(order) - 1; i > 0; i-- {
		j := randIntn(i + 1)
		order[i], order[j] = order[j], order[i]
	}

	return &Allocator{
		words:  words,
		length: length,
		order:  order,
	}, nil
}

func randIntn(n int) int {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return int(binary.BigEndian.Uint64(buf[:]) % uint64(n))
}

// Next returns a fresh id, or ErrKeyspaceExhausted once the permutation has
// been consumed.
func (a *Allocator) Next() (string, error) {
	if a.cursor >= len(a.order) {
		return "", ErrKeyspaceExhausted
	}

	id := a.render(a.order[a.cursor])
	a.cursor++

	return id, nil
}

// Shorten maps an arbitrary raw connection id onto the word alphabet for
// display. The projection is deterministic but lossy: distinct inputs may
// collide, which is acceptable because the result is cosmetic only and never
// used for equality checks.
func (a *Allocator) Shorten(raw string) string {
	n := len(a.words)

	num := 0
	for i := 0; i < a.length && i < len(raw); i++ {
		num = num*n + int(raw[i])%n
	}

	return a.render(num)
}

// render casts num to base len(words), least significant digit first.
func (a *Allocator) render(num int) string {
	n := len(a.words)

	parts := make([]string, a.length)
	for i := 0; i < a.length; i++ {
		parts[i] = a.words[num%n]
		num /= n
	}

	return strings.Join(parts, "-")
}
