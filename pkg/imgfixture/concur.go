package imgfixture

import "github.com/aceeric/imgfixture/internal/buildsync"

// SetConcurrentBuilds exposes the ability to configure build concurrency at the
// package level since this function is encapsulated within the 'buildsync'
// internal package. Once enabled, concurrent builds of the same tarball are
// collapsed into one build. The 'timeoutSec' arg indicates how long a waiting
// build will wait for the build in progress before erroring.
func SetConcurrentBuilds(timeoutSec int) {
	buildsync.SetConcurrentBuilds(timeoutSec)
}
