// Package resource bounds the memory, build concurrency and read throughput
// used by a Falcon instance and its backends.
//
//	┌───────────────────────────────────────────────────────────┐
//	│                        Controller                         │
//	├──────────────────┬──────────────────┬─────────────────────┤
//	│  Memory budget   │  Build slots     │  Read limiter       │
//	│  (fail-fast)     │  (semaphore)     │  (token bucket)     │
//	├──────────────────┼──────────────────┼─────────────────────┤
//	│  Reserve         │  AcquireBuild    │  WaitRead           │
//	│  Reservation     │  ReleaseBuild    │  Reader, ReaderAt   │
//	└──────────────────┴──────────────────┴─────────────────────┘
//
// Cube builds reserve the bytes of every cube they allocate before scanning,
// so an index that would not fit fails with ErrMemoryLimitExceeded instead of
// growing without bound:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 512 << 20,
//	    MaxBuildWorkers:  4,
//	})
//
//	r, err := rc.Reserve(cubeBytes)
//	if err != nil {
//	    return err
//	}
//	defer r.Release()
//
// All methods handle a nil Controller as "no limits".
package resource
