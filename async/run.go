// Package async runs blocking calls in the background so callers can select on them.
package async

// Run calls f in a new goroutine. The returned channel receives f's result once and is never closed.
func Run[T any](f func() T) <-chan T {
	c := make(chan T, 1)
	go func() {
		c <- f()
	}()
	return c
}
