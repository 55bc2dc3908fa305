package buildsync

import (
	"context"
	"errors"
	"sync"
	"time"
)

// EnqueueResult represents the result of enqueing a build.
type EnqueueResult bool

// IsEnqueued means that another goroutine is already building the tarball
// for a given key.
const IsEnqueued EnqueueResult = true

// NotEnqueued means no other goroutine is building the tarball for a given
// key and so the caller must build it.
const NotEnqueued EnqueueResult = false

// ErrTimeout is returned by Wait if the build in progress takes too long.
var ErrTimeout = errors.New("timeout exceeded waiting for image archive build")

// SyncObj has a channel created by an enqueueing action, and the
// result of the enqueueing. The channel receives the outcome of the build.
type SyncObj struct {
	Ch     chan error
	Result EnqueueResult
}

// buildMap supports multiple goroutines attempting to build the same tarball
// concurrently. The map is keyed by tarball path, each key having 1+ channel(s)
// waiting for the build of that tarball to finish. The goroutine doing the
// build also has a channel in that map.
type buildMap struct {
	mu       sync.Mutex
	buildMap map[string][]chan error
}

var (
	// concurrent build synchronization is off by default. Guarded by builds.mu.
	concurrentBuilds = false
	// buildTimeoutSec specifies how long an enqueued goroutine waits to be
	// signaled that the build is done. It is ignored unless concurrency is
	// enabled.
	buildTimeoutSec = 0
	// builds is the synchronized map of builds in progress. It is ignored
	// unless concurrency is enabled.
	builds = buildMap{}
)

// SetConcurrentBuilds enables concurrency management for builds. The 'timeoutSec'
// arg indicates how many seconds an enqueued goroutine will wait for a build
// to finish before erroring.
func SetConcurrentBuilds(timeoutSec int) {
	builds.mu.Lock()
	defer builds.mu.Unlock()
	buildTimeoutSec = timeoutSec
	builds.buildMap = make(map[string][]chan error)
	concurrentBuilds = true
}

// DisableConcurrentBuilds turns concurrency management off. Builds that are
// already waiting are unaffected.
func DisableConcurrentBuilds() {
	builds.mu.Lock()
	defer builds.mu.Unlock()
	concurrentBuilds = false
}

// Enabled returns true if SetConcurrentBuilds was called.
func Enabled() bool {
	builds.mu.Lock()
	defer builds.mu.Unlock()
	return concurrentBuilds
}

// EnqueueBuild enqueues a build for the passed key. If there are no other
// requesters, then the function returns 'NotEnqueued' - meaning the caller
// is the first requester and therefore will have to actually build the
// tarball. If a build was previously enqueued for the key then 'IsEnqueued'
// is returned meaning the caller should simply wait for the outcome on the
// channel in the returned SyncObj struct.
func EnqueueBuild(key string) SyncObj {
	so := SyncObj{
		Ch:     make(chan error, 1),
		Result: NotEnqueued,
	}
	builds.mu.Lock()
	chans, exists := builds.buildMap[key]
	if exists {
		builds.buildMap[key] = append(chans, so.Ch)
		so.Result = IsEnqueued
	} else {
		builds.buildMap[key] = []chan error{so.Ch}
	}
	builds.mu.Unlock()
	return so
}

// DoneBuild sends the outcome of the build to all waiters that are associated
// with the key in arg 1.
func DoneBuild(key string, outcome error) {
	builds.mu.Lock()
	chans, exists := builds.buildMap[key]
	if exists {
		for _, ch := range chans {
			// every channel is buffered and written to exactly once so
			// a waiter that timed out doesn't block the sender
			ch <- outcome
		}
		delete(builds.buildMap, key)
	}
	builds.mu.Unlock()
}

// Wait waits for the outcome on the channel in the passed SyncObj, or times out
// based on the value of the package buildTimeoutSec variable. If the passed
// context is done first then the context error is returned.
func Wait(ctx context.Context, so SyncObj) error {
	builds.mu.Lock()
	timeout := time.Duration(buildTimeoutSec) * time.Second
	builds.mu.Unlock()
	select {
	case err := <-so.Ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return ErrTimeout
	}
}
