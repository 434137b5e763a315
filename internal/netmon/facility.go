package netmon

// Facility registers with the platform's change-notification mechanisms.
// Each Notify registration covers both address families. The onSignal
// callback is invoked on goroutines outside the caller's control and must
// do minimal work.
//
// Per-platform implementations: netlink subscriptions on Linux, AF_ROUTE
// route sockets on macOS, iphlpapi notifications plus a registry-key
// watcher on Windows.
type Facility interface {
	NotifyInterfaceChange(onSignal func()) (*Subscription, error)
	NotifyAddressChange(onSignal func()) (*Subscription, error)
	NotifyRouteChange(onSignal func()) (*Subscription, error)

	// WatchConfig observes the DNS configuration indirectly through an
	// ordered set of platform paths (registry keys on Windows, resolver
	// files elsewhere).
	WatchConfig(paths []string, recursive bool, onSignal func()) (*Subscription, error)
}
