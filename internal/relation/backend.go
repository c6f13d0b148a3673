package relation

import (
	"sync"

	"github.com/gomlx/gomlx/backends"

	_ "github.com/gomlx/gomlx/backends/xla"
)

var (
	// backend is a singleton, shared by every learner and evaluator in the process.
	backend = sync.OnceValue(func() backends.Backend { return backends.New() })

	// muNewExec synchronizes the creation of graph executors.
	muNewExec sync.Mutex
)

// Backend returns the process-wide GoMLX backend, creating it on first use.
func Backend() backends.Backend { return backend() }
