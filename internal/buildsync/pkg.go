// Package buildsync supports building image tarballs from multiple goroutines.
// Rather than have multiple goroutines race to build the same tarball in the
// same directory, builds are enqueued by tarball path and only the first one
// in does the build - the other goroutines wait and receive the outcome of
// the build done by the first goroutine.
//
// Concurrency is not enabled by default, in which case callers are expected
// to give every build its own directory or image name. To enable build
// concurrency with a sixty second timeout:
//
//	sixtySeconds := 60
//	buildsync.SetConcurrentBuilds(sixtySeconds)
package buildsync
