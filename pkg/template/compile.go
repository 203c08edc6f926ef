package template

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"sync"

	"k8s.io/utils/clock"

	"github.com/ajitpratap0/surge/pkg/errors"
)

// TimestampLayout is how TimestampNow() renders the current UTC time.
const TimestampLayout = "2006-01-02 15:04:05.000"

// Rand is the random source used by generator functions.
type Rand interface {
	// IntN returns a uniform integer in [0, n); n > 0.
	IntN(n int) int
}

// lockedRand serialises access to a Rand shared by concurrent Generate calls.
type lockedRand struct {
	mu sync.Mutex
	r  Rand
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

type options struct {
	loader ReferenceLoader
	rand   Rand
	clock  clock.PassiveClock
}

// Option configures compilation.
type Option func(*options)

// WithReferenceLoader sets the catalog used to resolve ReferenceValue calls.
func WithReferenceLoader(l ReferenceLoader) Option {
	return func(o *options) { o.loader = l }
}

// WithRand sets the random source.
func WithRand(r Rand) Option {
	return func(o *options) { o.rand = r }
}

// WithSeed seeds a PCG random source, making generation reproducible.
// A zero seed picks a random one.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		if seed == 0 {
			seed = rand.Uint64()
		}
		o.rand = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithClock sets the clock TimestampNow() reads.
func WithClock(c clock.PassiveClock) Option {
	return func(o *options) { o.clock = c }
}

// Compile turns template text into a Generator. Reference values are fetched
// here, once; everything else is evaluated per record.
func Compile(ctx context.Context, text string, opts ...Option) (*Generator, error) {
	o := options{clock: clock.RealClock{}}
	WithSeed(0)(&o)
	for _, opt := range opts {
		opt(&o)
	}

	matches, err := Extract(text)
	if err != nil {
		return nil, err
	}

	refs, err := ResolveReferences(ctx, o.loader, matches)
	if err != nil {
		return nil, err
	}

	rng := &lockedRand{r: o.rand}
	segments, err := buildSegments(text, matches, func(m Match) (Generated, error) {
		return newGenerated(m, refs, rng, o.clock)
	})
	if err != nil {
		return nil, err
	}

	return &Generator{segments: segments}, nil
}

// buildSegments sorts matches by offset and interleaves them with the
// literal text between them. Overlapping placeholders are rejected.
func buildSegments(text string, matches []Match, gen func(Match) (Generated, error)) ([]Segment, error) {
	sorted := make([]Match, len(matches))
	copy(sorted, matches)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	segments := make([]Segment, 0, 2*len(sorted)+1)
	index := 0
	for _, m := range sorted {
		if m.Start < index {
			return nil, errors.Newf(errors.ErrorTypeCompile,
				"%s at offset %d overlaps the previous placeholder", m.Func, m.Start).
				WithDetail("offset", m.Start)
		}
		if m.Start > index {
			segments = append(segments, Literal{Text: text[index:m.Start]})
		}
		g, err := gen(m)
		if err != nil {
			return nil, err
		}
		segments = append(segments, g)
		index = m.End()
	}
	if index < len(text) {
		segments = append(segments, Literal{Text: text[index:]})
	}
	return segments, nil
}

func newGenerated(m Match, refs ReferenceTable, rng Rand, clk clock.PassiveClock) (Generated, error) {
	g := Generated{Func: m.Func}

	switch m.Func {
	case FuncTimestampNow:
		g.Produce = func() (string, error) {
			return clk.Now().UTC().Format(TimestampLayout), nil
		}

	case FuncGenerateID:
		cardinality, err := strconv.Atoi(m.Args[0])
		if err != nil || cardinality <= 0 {
			return g, compileError(m.Start, "GenerateId cardinality must be positive")
		}
		g.Produce = func() (string, error) {
			return fmt.Sprintf("%05d", rng.IntN(cardinality)), nil
		}

	case FuncReferenceValue:
		// Missing groups only fail when the placeholder is generated.
		values, lookupErr := refs.Lookup(m.Args[0], m.Args[1])
		g.Produce = func() (string, error) {
			if lookupErr != nil {
				return "", lookupErr
			}
			return values[rng.IntN(len(values))], nil
		}

	case FuncWeightedLabels:
		set, err := newWeightedLabels(m.Args)
		if err != nil {
			return g, compileError(m.Start, err.Error())
		}
		g.Produce = func() (string, error) {
			return set.pick(rng.IntN(set.total)), nil
		}

	default:
		return g, compileError(m.Start, "unsupported generator function "+m.Func.String())
	}

	return g, nil
}
