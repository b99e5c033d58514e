package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/specialistvlad/privacyflow/internal/config"
	"github.com/specialistvlad/privacyflow/internal/connector"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/specialistvlad/privacyflow/internal/record"
	"github.com/specialistvlad/privacyflow/internal/registry"
)

// ErrTransient is the cause of the failures scripted with FailFirst.
var ErrTransient = errors.New("transient backend failure")

// FakeModule registers an in-memory connector under FakeKind. Every
// connection of that kind shares the same Fake, so tests can seed rows and
// script failures per collection address.
type FakeModule struct {
	Fake *Fake
}

// NewFakeModule creates a module over an empty Fake.
func NewFakeModule() *FakeModule {
	return &FakeModule{Fake: NewFake()}
}

// Register implements the registry.Module interface.
func (m *FakeModule) Register(r *registry.Registry) {
	r.RegisterConnector(FakeKind, func(_ context.Context, _ *config.Connection) (connector.Connector, error) {
		return m.Fake, nil
	})
}

type script struct {
	failures int
	err      error
}

// Fake is an in-memory connector that records every call it serves.
type Fake struct {
	mu sync.Mutex

	rows    map[nodeid.Address][]record.Row
	scripts map[nodeid.Address]*script
	delay   time.Duration
	paced   bool

	queries    map[nodeid.Address]int
	erasures   map[nodeid.Address]int
	inputs     map[nodeid.Address][]record.Input
	executions map[nodeid.Address][]ExecutionRecord
	erasedIn   []nodeid.Address
	events     []string
	running    int
	maxRunning int

	// OnQuery, when set, runs at the start of every Query call outside the
	// lock. A non-nil error fails the call.
	OnQuery func(ctx context.Context, addr nodeid.Address) error
}

// ExecutionRecord is the start and end time of one connector call.
type ExecutionRecord struct {
	Start time.Time
	End   time.Time
}

// NewFake creates an empty Fake.
func NewFake() *Fake {
	return &Fake{
		rows:       make(map[nodeid.Address][]record.Row),
		scripts:    make(map[nodeid.Address]*script),
		queries:    make(map[nodeid.Address]int),
		erasures:   make(map[nodeid.Address]int),
		inputs:     make(map[nodeid.Address][]record.Input),
		executions: make(map[nodeid.Address][]ExecutionRecord),
	}
}

// Seed appends rows to a collection.
func (f *Fake) Seed(addr nodeid.Address, rows ...record.Row) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[addr] = append(f.rows[addr], rows...)
	return f
}

// FailFirst makes the first n queries of addr fail with a retryable error.
func (f *Fake) FailFirst(addr nodeid.Address, n int) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[addr] = &script{failures: n, err: &privacyerr.ConnectorError{Address: addr, Op: "query", Err: ErrTransient, Retryable: true}}
	return f
}

// FailWith makes every query of addr fail with err.
func (f *Fake) FailWith(addr nodeid.Address, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[addr] = &script{failures: -1, err: err}
	return f
}

// Heal removes any scripted failure of addr.
func (f *Fake) Heal(addr nodeid.Address) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.scripts, addr)
	return f
}

// SetDelay makes every call sleep before answering.
func (f *Fake) SetDelay(d time.Duration) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
	return f
}

// SetPaced makes the Fake spend the connection's request budget itself,
// once per query, the way network-backed connectors do.
func (f *Fake) SetPaced(paced bool) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paced = paced
	return f
}

// PacesRequests implements connector.RequestPacer.
func (f *Fake) PacesRequests() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paced
}

// TestConnection implements connector.Connector.
func (f *Fake) TestConnection(context.Context) (connector.Status, error) {
	return connector.StatusSucceeded, nil
}

// Query implements connector.Connector.
func (f *Fake) Query(ctx context.Context, node connector.Node, input record.Input) ([]record.Row, error) {
	if f.PacesRequests() {
		if err := node.Wait(ctx); err != nil {
			return nil, err
		}
	}
	start := time.Now()
	f.begin(node.Address, input)
	defer f.end(node.Address, start)

	if f.OnQuery != nil {
		if err := f.OnQuery(ctx, node.Address); err != nil {
			return nil, err
		}
	}
	if err := f.sleep(ctx); err != nil {
		return nil, &privacyerr.ConnectorError{Address: node.Address, Op: "query", Err: err}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.scripts[node.Address]; ok && s.failures != 0 {
		if s.failures > 0 {
			s.failures--
		}
		return nil, s.err
	}
	var out []record.Row
	for _, row := range f.rows[node.Address] {
		if connector.Match(row, input) {
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

// MaskOrErase implements connector.Connector. Changes are applied to the
// seeded rows by primary key.
func (f *Fake) MaskOrErase(ctx context.Context, node connector.Node, rows []record.Row, plan connector.MaskingPlan) (int, error) {
	changes, err := plan.Changes(node, rows)
	if err != nil {
		return 0, err
	}
	if err := f.sleep(ctx); err != nil {
		return 0, &privacyerr.ConnectorError{Address: node.Address, Op: "mask", Err: err}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.erasures[node.Address]++
	f.erasedIn = append(f.erasedIn, node.Address)
	f.events = append(f.events, "mask "+node.Address.String())

	affected := 0
	for _, ch := range changes {
		stored := f.rows[node.Address]
		for i := 0; i < len(stored); i++ {
			if !keyMatches(stored[i], ch.Key) {
				continue
			}
			affected++
			if ch.Values == nil {
				stored = append(stored[:i], stored[i+1:]...)
				i--
				continue
			}
			for k, v := range ch.Values {
				stored[i][k] = v
			}
		}
		f.rows[node.Address] = stored
	}
	return affected, nil
}

// Close implements connector.Connector.
func (f *Fake) Close() error { return nil }

// Rows returns a copy of the rows currently stored for addr.
func (f *Fake) Rows(addr nodeid.Address) []record.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]record.Row, 0, len(f.rows[addr]))
	for _, r := range f.rows[addr] {
		out = append(out, r.Clone())
	}
	return out
}

// Queries returns how many times addr was queried.
func (f *Fake) Queries(addr nodeid.Address) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[addr]
}

// Erasures returns how many times addr was masked.
func (f *Fake) Erasures(addr nodeid.Address) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.erasures[addr]
}

// ErasureOrder returns the addresses in the order they were masked.
func (f *Fake) ErasureOrder() []nodeid.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]nodeid.Address(nil), f.erasedIn...)
}

// Events returns every finished call as "query <addr>" or "mask <addr>",
// in completion order.
func (f *Fake) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

// Inputs returns the inputs addr was queried with.
func (f *Fake) Inputs(addr nodeid.Address) []record.Input {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]record.Input(nil), f.inputs[addr]...)
}

// Executions returns the timing of every query of addr.
func (f *Fake) Executions(addr nodeid.Address) []ExecutionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ExecutionRecord(nil), f.executions[addr]...)
}

// MaxConcurrent returns the highest number of queries seen in flight.
func (f *Fake) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxRunning
}

func (f *Fake) begin(addr nodeid.Address, input record.Input) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries[addr]++
	f.inputs[addr] = append(f.inputs[addr], input)
	f.running++
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
}

func (f *Fake) end(addr nodeid.Address, start time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running--
	f.executions[addr] = append(f.executions[addr], ExecutionRecord{Start: start, End: time.Now()})
	f.events = append(f.events, "query "+addr.String())
}

func (f *Fake) sleep(ctx context.Context) error {
	f.mu.Lock()
	d := f.delay
	f.mu.Unlock()
	if d == 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func keyMatches(row record.Row, key map[string]any) bool {
	for k, v := range key {
		if fmt.Sprint(record.Normalize(k, "", row[k])) != fmt.Sprint(record.Normalize(k, "", v)) {
			return false
		}
	}
	return true
}
