// Package metrics derives secondary statistics (communality, relative
// frequency, local Moran's I, Shannon entropy) from aggregated polygon tables.
// Every function returns a new table and leaves its input untouched.
package metrics

// Defaults for local Moran's I.
const (
	DefaultPermutations = 999
	DefaultSeed         = 12345
	DefaultSignificance = 0.05
)

type options struct {
	suffix       string
	permutations int
	seed         uint64
	significance float64
}

func newOptions(opts []Option) options {
	o := options{
		permutations: DefaultPermutations,
		seed:         DefaultSeed,
		significance: DefaultSignificance,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option configures a metric.
type Option func(*options)

// WithSuffix appends suffix to every output column name.
func WithSuffix(suffix string) Option {
	return func(o *options) { o.suffix = suffix }
}

// WithPermutations sets the number of conditional permutations for Moran's I.
func WithPermutations(n int) Option {
	return func(o *options) { o.permutations = n }
}

// WithSeed seeds the permutation generator.
func WithSeed(seed uint64) Option {
	return func(o *options) { o.seed = seed }
}

// WithSignificance sets the pseudo p-value above which a Moran quadrant is reset to 0.
func WithSignificance(alpha float64) Option {
	return func(o *options) { o.significance = alpha }
}
