package netmon

// Handler receives the debounced network-changed notification. It carries no
// payload describing what changed; handlers must re-query current state
// themselves. Handlers run on the watcher's consumer goroutine, never on the
// goroutine that registered them.
type Handler func()
