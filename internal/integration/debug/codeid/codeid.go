// Package codeid maps code fragments to the synthetic source paths the
// kernel's debugger uses for them.
package codeid

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// MethodMurmur2 is the only hash method the kernel advertises today.
const MethodMurmur2 = "Murmur2"

// ErrUnsupportedHashMethod is returned by Configure for unknown methods.
var ErrUnsupportedHashMethod = errors.New("unsupported hash method")

// Provider computes code identifiers. The zero value hashes with seed 0 and
// no prefix or suffix until Configure is called.
type Provider struct {
	mu         sync.RWMutex
	method     string
	seed       uint32
	prefix     string
	suffix     string
	configured bool
}

// New returns an unconfigured provider.
func New() *Provider {
	return &Provider{method: MethodMurmur2}
}

// Configure sets the hash parameters reported by the kernel. The previous
// configuration is kept when method is not supported.
func (p *Provider) Configure(method string, seed uint32, prefix, suffix string) error {
	if method != MethodMurmur2 {
		return fmt.Errorf("%w: %q", ErrUnsupportedHashMethod, method)
	}

	p.mu.Lock()
	p.method = method
	p.seed = seed
	p.prefix = prefix
	p.suffix = suffix
	p.configured = true
	p.mu.Unlock()
	return nil
}

// Configured reports whether Configure has succeeded.
func (p *Provider) Configured() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.configured
}

// CodeID returns prefix + decimal hash of code + suffix.
func (p *Provider) CodeID(code string) string {
	p.mu.RLock()
	seed, prefix, suffix := p.seed, p.prefix, p.suffix
	p.mu.RUnlock()

	return prefix + strconv.FormatUint(uint64(Murmur2([]byte(code), seed)), 10) + suffix
}
