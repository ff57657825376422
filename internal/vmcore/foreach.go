package vmcore

import "phlang/internal/value"

// foreachIter is the runtime cursor for one live FOREACH_INIT/FOREACH_STEP
// pair. Cursors nest on a plain Go slice local to the Run invocation that
// owns the loop — foreach never spans a function call, so there is no
// need to thread it through Frame.
type foreachIter struct {
	keys     []value.Key
	slots    []int
	pos      int
	keyVar   string
	valueVar string
	byRef    bool
}
