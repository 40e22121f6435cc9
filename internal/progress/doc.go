// Package progress provides the event primitives and the bounded per-job
// channel that carries progress updates from a worker to its subscribers.
// Each channel has exactly one producer; any number of readers may subscribe,
// each observing the sequence independently from its attach point onward. A
// reader that falls behind exerts backpressure on the producer; a detached
// reader never does.
package progress
