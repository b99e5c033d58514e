// Package masking holds the erasure strategies a policy can name. A strategy
// decides, per row, the replacement values of the fields being erased, or
// that the row must be deleted outright.
package masking

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/specialistvlad/privacyflow/internal/record"
)

// Strategy masks the erasure fields of one row.
type Strategy interface {
	Name() string
	// Mask returns the new value of every field in fields. A nil map means
	// the row is deleted instead of rewritten.
	Mask(row record.Row, fields []string) (map[string]any, error)
}

// NullRewrite replaces every value with null.
type NullRewrite struct{}

func (NullRewrite) Name() string { return "null_rewrite" }

func (NullRewrite) Mask(_ record.Row, fields []string) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f] = nil
	}
	return out, nil
}

// StringRewrite replaces string values with a fixed value and every other
// value with null.
type StringRewrite struct {
	Value string
}

func (StringRewrite) Name() string { return "string_rewrite" }

func (s StringRewrite) Mask(row record.Row, fields []string) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if _, ok := row[f].(string); ok {
			out[f] = s.Value
			continue
		}
		out[f] = nil
	}
	return out, nil
}

// Hash replaces values with the salted SHA-256 of their string form. Null
// values stay null.
type Hash struct {
	Salt string
}

func (Hash) Name() string { return "hash" }

func (h Hash) Mask(row record.Row, fields []string) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		v := row[f]
		if v == nil {
			out[f] = nil
			continue
		}
		sum := sha256.Sum256([]byte(h.Salt + fmt.Sprint(v)))
		out[f] = hex.EncodeToString(sum[:])
	}
	return out, nil
}

// RandomString replaces values with random hex strings of Length characters.
type RandomString struct {
	Length int
}

func (RandomString) Name() string { return "random_string" }

func (r RandomString) Mask(_ record.Row, fields []string) (map[string]any, error) {
	n := r.Length
	if n <= 0 {
		n = 16
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		buf := make([]byte, (n+1)/2)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("random_string: %w", err)
		}
		out[f] = hex.EncodeToString(buf)[:n]
	}
	return out, nil
}

// Delete removes the whole row.
type Delete struct{}

func (Delete) Name() string { return "delete" }

func (Delete) Mask(record.Row, []string) (map[string]any, error) { return nil, nil }

// Registry maps strategy names to strategies.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry returns a registry with every built-in strategy. salt seeds
// the hash strategy.
func NewRegistry(salt string) *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	for _, s := range []Strategy{NullRewrite{}, StringRewrite{Value: "MASKED"}, Hash{Salt: salt}, RandomString{Length: 16}, Delete{}} {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a strategy.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Get returns a strategy by name. The empty name selects null_rewrite.
func (r *Registry) Get(name string) (Strategy, error) {
	if name == "" {
		name = NullRewrite{}.Name()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	if !ok {
		return nil, privacyerr.Validationf("masking", "unknown masking strategy %q (known: %v)", name, r.namesLocked())
	}
	return s, nil
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
