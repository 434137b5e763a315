//go:build windows

package netmon

import (
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

var (
	modiphlpapi                      = windows.NewLazySystemDLL("iphlpapi.dll")
	procNotifyIpInterfaceChange      = modiphlpapi.NewProc("NotifyIpInterfaceChange")
	procNotifyUnicastIpAddressChange = modiphlpapi.NewProc("NotifyUnicastIpAddressChange")
	procNotifyRouteChange2           = modiphlpapi.NewProc("NotifyRouteChange2")
	procCancelMibChangeNotify2       = modiphlpapi.NewProc("CancelMibChangeNotify2")
)

// DNS configuration lives under the TCP/IP service registry keys. The
// Tcpip6 key may be absent when IPv6 support is not installed, which is
// what the reduced fallback set is for.
var (
	defaultConfigPaths = []string{
		`SYSTEM\CurrentControlSet\Services\Tcpip\Parameters\Interfaces`,
		`SYSTEM\CurrentControlSet\Services\Tcpip6\Parameters\Interfaces`,
	}
	defaultConfigPathsReduced = []string{
		`SYSTEM\CurrentControlSet\Services\Tcpip\Parameters\Interfaces`,
	}
)

// windowsFacility registers with the IP helper notification APIs and the
// registry change API.
type windowsFacility struct{}

// NewFacility creates the Windows change-notification facility.
func NewFacility() Facility {
	return windowsFacility{}
}

func (windowsFacility) NotifyInterfaceChange(onSignal func()) (*Subscription, error) {
	return registerMibNotification(procNotifyIpInterfaceChange, "interface change", onSignal)
}

func (windowsFacility) NotifyAddressChange(onSignal func()) (*Subscription, error) {
	return registerMibNotification(procNotifyUnicastIpAddressChange, "address change", onSignal)
}

func (windowsFacility) NotifyRouteChange(onSignal func()) (*Subscription, error) {
	return registerMibNotification(procNotifyRouteChange2, "route change", onSignal)
}

func (windowsFacility) WatchConfig(paths []string, recursive bool, onSignal func()) (*Subscription, error) {
	return watchRegistryKeys(paths, recursive, onSignal)
}

// mibCallbacks routes the shared trampoline back to the registration that
// armed it. windows.NewCallback allocates a permanent trampoline, so exactly
// one is created per process and shared by every registration; the
// callerContext argument carries the registration id.
var mibCallbacks = struct {
	sync.Mutex
	nextID uintptr
	m      map[uintptr]func()
}{m: make(map[uintptr]func())}

var mibTrampoline = windows.NewCallback(func(callerContext, row, notificationType uintptr) uintptr {
	mibCallbacks.Lock()
	fn := mibCallbacks.m[callerContext]
	mibCallbacks.Unlock()
	if fn != nil {
		fn()
	}
	return 0
})

func registerMibNotification(proc *windows.LazyProc, op string, onSignal func()) (*Subscription, error) {
	mibCallbacks.Lock()
	mibCallbacks.nextID++
	id := mibCallbacks.nextID
	mibCallbacks.m[id] = onSignal
	mibCallbacks.Unlock()

	var handle windows.Handle
	ret, _, _ := proc.Call(
		uintptr(windows.AF_UNSPEC), // both families
		mibTrampoline,
		id, // callerContext
		0,  // no initial notification
		uintptr(unsafe.Pointer(&handle)),
	)
	if ret != 0 {
		mibCallbacks.Lock()
		delete(mibCallbacks.m, id)
		mibCallbacks.Unlock()
		return nil, fmt.Errorf("%s: %w", proc.Name, syscall.Errno(ret))
	}

	cancel := func() {
		// CancelMibChangeNotify2 blocks until in-flight callbacks return;
		// the trampoline holds no lock the enqueue path needs, so this
		// cannot deadlock.
		if r, _, _ := procCancelMibChangeNotify2.Call(uintptr(handle)); r != 0 {
			log.WithFields(log.Fields{
				"op":   op,
				"code": r,
			}).Warn("CancelMibChangeNotify2 failed")
		}
		mibCallbacks.Lock()
		delete(mibCallbacks.m, id)
		mibCallbacks.Unlock()
	}
	return newSubscription(op, cancel), nil
}

// watchRegistryKeys arms RegNotifyChangeKeyValue on every key in the path
// set and re-arms after each notification. Cancel signals a shared stop
// event, waits for the waiter goroutines, then closes the handles.
func watchRegistryKeys(paths []string, recursive bool, onSignal func()) (*Subscription, error) {
	stop, err := windows.CreateEvent(nil, 1 /* manual reset */, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("create stop event: %w", err)
	}

	type watchedKey struct {
		path  string
		key   registry.Key
		event windows.Handle
	}

	var keys []watchedKey
	closeAll := func() {
		for _, wk := range keys {
			_ = wk.key.Close()
			_ = windows.CloseHandle(wk.event)
		}
		_ = windows.CloseHandle(stop)
	}

	for _, path := range paths {
		k, err := registry.OpenKey(registry.LOCAL_MACHINE, path, registry.NOTIFY)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("open registry key %s: %w", path, err)
		}
		ev, err := windows.CreateEvent(nil, 0 /* auto reset */, 0, nil)
		if err != nil {
			_ = k.Close()
			closeAll()
			return nil, fmt.Errorf("create notify event: %w", err)
		}
		keys = append(keys, watchedKey{path: path, key: k, event: ev})
	}

	var wg sync.WaitGroup
	for _, wk := range keys {
		wk := wk
		wg.Add(1)
		go func() {
			defer wg.Done()
			const filter = windows.REG_NOTIFY_CHANGE_NAME |
				windows.REG_NOTIFY_CHANGE_ATTRIBUTES |
				windows.REG_NOTIFY_CHANGE_LAST_SET
			for {
				err := windows.RegNotifyChangeKeyValue(windows.Handle(wk.key), recursive, filter, wk.event, true)
				if err != nil {
					log.WithError(err).WithField("path", wk.path).Warn("RegNotifyChangeKeyValue failed")
					return
				}
				which, err := windows.WaitForMultipleObjects([]windows.Handle{wk.event, stop}, false, windows.INFINITE)
				if err != nil || which != windows.WAIT_OBJECT_0 {
					return // stop signalled or wait failed
				}
				onSignal()
			}
		}()
	}

	cancel := func() {
		_ = windows.SetEvent(stop)
		wg.Wait()
		closeAll()
	}
	return newSubscription("dns registry watch", cancel), nil
}
