//go:build darwin

package netmon

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// darwinFacility registers by opening AF_ROUTE raw sockets. The kernel
// delivers every routing message to every route socket, so each
// registration owns one socket and filters for the message types it cares
// about.
type darwinFacility struct{}

// NewFacility creates the macOS change-notification facility.
func NewFacility() Facility {
	return darwinFacility{}
}

func (darwinFacility) NotifyInterfaceChange(onSignal func()) (*Subscription, error) {
	return routeSocketSubscription("interface change", onSignal, unix.RTM_IFINFO)
}

func (darwinFacility) NotifyAddressChange(onSignal func()) (*Subscription, error) {
	return routeSocketSubscription("address change", onSignal, unix.RTM_NEWADDR, unix.RTM_DELADDR)
}

func (darwinFacility) NotifyRouteChange(onSignal func()) (*Subscription, error) {
	return routeSocketSubscription("route change", onSignal, unix.RTM_ADD, unix.RTM_DELETE, unix.RTM_CHANGE)
}

func (darwinFacility) WatchConfig(paths []string, recursive bool, onSignal func()) (*Subscription, error) {
	return watchConfigFiles(paths, recursive, onSignal)
}

func routeSocketSubscription(op string, onSignal func(), msgTypes ...byte) (*Subscription, error) {
	fd, err := unix.Socket(unix.AF_ROUTE, unix.SOCK_RAW, unix.AF_UNSPEC)
	if err != nil {
		return nil, fmt.Errorf("open route socket: %w", err)
	}

	wanted := make(map[byte]struct{}, len(msgTypes))
	for _, t := range msgTypes {
		wanted[t] = struct{}{}
	}

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := unix.Read(fd, buf)
			if err != nil {
				if err == unix.EINTR {
					continue
				}
				// Cancel closed the socket.
				log.WithField("op", op).Trace("Route socket reader exited")
				return
			}
			// Byte 3 of rt_msghdr / if_msghdr / ifa_msghdr is the type.
			if n < 4 {
				continue
			}
			if _, ok := wanted[buf[3]]; ok {
				onSignal()
			}
		}
	}()

	return newSubscription(op, func() { _ = unix.Close(fd) }), nil
}
