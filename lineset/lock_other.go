//go:build !unix

package lineset

// lockScratch is a no-op on platforms without flock. Concurrent shuffles
// must use distinct scratch directories there.
func lockScratch(string) (func(), error) {
	return func() {}, nil
}
