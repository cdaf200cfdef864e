package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to keep a streaming producer unblocked when nothing consumes its
// output, e.g. a live session's transcript channel when no transcript
// callback is registered.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
