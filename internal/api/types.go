package api

import "time"

// Event is pushed to event-stream clients once per debounced network
// change. It carries no description of what changed; clients re-query
// /v1/state.
type Event struct {
	Event string    `json:"event"`
	Seq   uint64    `json:"seq"`
	At    time.Time `json:"at"`
}

// AddressState describes one interface address, classified.
type AddressState struct {
	Address   string `json:"address"`
	Subnet    string `json:"subnet"`
	Loopback  bool   `json:"loopback"`
	LinkLocal bool   `json:"linkLocal"`
	Multicast bool   `json:"multicast"`
}

// InterfaceState describes one network interface and its addresses.
type InterfaceState struct {
	Name      string         `json:"name"`
	Index     int            `json:"index"`
	Up        bool           `json:"up"`
	Addresses []AddressState `json:"addresses"`
}

// StateResponse is the /v1/state payload.
type StateResponse struct {
	Interfaces []InterfaceState `json:"interfaces"`
	At         time.Time        `json:"at"`
}
