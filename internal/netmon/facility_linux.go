//go:build linux

package netmon

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

// linuxFacility registers with the kernel's rtnetlink groups. Each
// registration owns one netlink socket; closing the done channel releases
// it and ends the drain goroutine.
type linuxFacility struct{}

// NewFacility creates the Linux change-notification facility.
func NewFacility() Facility {
	return linuxFacility{}
}

func (linuxFacility) NotifyInterfaceChange(onSignal func()) (*Subscription, error) {
	ch := make(chan netlink.LinkUpdate, 16)
	done := make(chan struct{})
	if err := netlink.LinkSubscribe(ch, done); err != nil {
		return nil, fmt.Errorf("netlink link subscribe: %w", err)
	}
	go func() {
		// netlink closes ch once done is closed and the socket drains.
		for range ch {
			onSignal()
		}
		log.Trace("Link update drain goroutine exited")
	}()
	return newSubscription("interface change", func() { close(done) }), nil
}

func (linuxFacility) NotifyAddressChange(onSignal func()) (*Subscription, error) {
	ch := make(chan netlink.AddrUpdate, 16)
	done := make(chan struct{})
	if err := netlink.AddrSubscribe(ch, done); err != nil {
		return nil, fmt.Errorf("netlink addr subscribe: %w", err)
	}
	go func() {
		for range ch {
			onSignal()
		}
		log.Trace("Addr update drain goroutine exited")
	}()
	return newSubscription("address change", func() { close(done) }), nil
}

func (linuxFacility) NotifyRouteChange(onSignal func()) (*Subscription, error) {
	ch := make(chan netlink.RouteUpdate, 16)
	done := make(chan struct{})
	if err := netlink.RouteSubscribe(ch, done); err != nil {
		return nil, fmt.Errorf("netlink route subscribe: %w", err)
	}
	go func() {
		for range ch {
			onSignal()
		}
		log.Trace("Route update drain goroutine exited")
	}()
	return newSubscription("route change", func() { close(done) }), nil
}

func (linuxFacility) WatchConfig(paths []string, recursive bool, onSignal func()) (*Subscription, error) {
	return watchConfigFiles(paths, recursive, onSignal)
}
