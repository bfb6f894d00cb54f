package alloc

import "errors"

// ErrNoWorkers indicates that no live workers remain to allocate to.
var ErrNoWorkers = errors.New("no workers available for allocation")
