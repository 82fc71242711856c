package tct

import "github.com/colorfulnotion/tct/digest"

type options struct {
	hasher digest.Hasher
}

// Option configures a newly created Block, Epoch or Eternity.
type Option func(*options)

// WithHasher selects the hash function combining child digests. Every tier nested inside one
// another must use the same hasher; the default is MiMC.
func WithHasher(h digest.Hasher) Option {
	return func(o *options) {
		o.hasher = h
	}
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.hasher == nil {
		o.hasher = digest.NewMiMC()
	}
	return o
}
