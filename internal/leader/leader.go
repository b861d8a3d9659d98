// Package leader provides the mutually-exclusive "I may act now" handshake
// that keeps a single GC instance active per dataset.
package leader

// Elector is the minimal leader-election contract the GC engine consumes.
//
// TryAcquire returns true at most once per call and must return false
// while another live holder exists. Release is idempotent and a no-op when
// leadership was never acquired. Acquisition failure is not an error; the
// engine simply skips the pass.
type Elector interface {
	TryAcquire() bool
	Release()
}
