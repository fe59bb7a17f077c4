// Package guard provides crash-isolating execution engines built on the
// bulwark panic bridge: a bounded worker pool that captures and journals
// panics from submitted tasks, and a supervisor that restarts long-running
// children according to per-child restart policies with exponential backoff.
package guard
