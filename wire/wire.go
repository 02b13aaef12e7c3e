// Package wire implements the JSON message schema on the wire (spec §6):
// a tagged union keyed by the top-level "type" field, plus the decode-time
// validation the dispatcher (package daemon) relies on to log-and-drop
// malformed input instead of touching partially-parsed data.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/kelveyn/pathd/ipaddr"
	"github.com/kelveyn/pathd/state"
)

// Message types, spec §6.
const (
	TypeHandshake = "handshake"
	TypeUpdate    = "update"
	TypeWithdraw  = "withdraw"
	TypeData      = "data"
	TypeDump      = "dump"
	TypeTable     = "table"
	TypeNoRoute   = "no route"
)

// Message is the envelope every datagram carries: {type, src, dst, msg}.
// Msg is left raw so the dispatcher can defer its shape to the handler for
// that Type — an update's msg is an object, a withdraw's is an array, a
// handshake's is absent.
type Message struct {
	Type string          `json:"type"`
	Src  string          `json:"src"`
	Dst  string          `json:"dst"`
	Msg  json.RawMessage `json:"msg,omitempty"`
}

// Decode parses a single UDP datagram into a Message. It only validates
// the envelope (valid JSON, non-empty type); payload validation is
// per-type and happens in ParseUpdate/ParseWithdraw below, so
// the dispatcher can log a more specific reason before dropping.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("wire: malformed JSON: %w", err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("wire: missing type field")
	}
	return m, nil
}

// Encode serializes a Message back to its wire form.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// UpdateBody is an `update` message's msg payload, spec §4.2/§6. All six
// fields are required; ParseUpdate uses pointer fields (and a raw ASPath)
// internally to distinguish "absent" from "present but zero-valued".
type UpdateBody struct {
	Network    string `json:"network"`
	Netmask    string `json:"netmask"`
	LocalPref  int    `json:"localpref"`
	ASPath     []int  `json:"ASPath"`
	Origin     string `json:"origin"`
	SelfOrigin bool   `json:"selfOrigin"`
}

type rawUpdateBody struct {
	Network    *string         `json:"network"`
	Netmask    *string         `json:"netmask"`
	LocalPref  *int            `json:"localpref"`
	ASPath     json.RawMessage `json:"ASPath"`
	Origin     *string         `json:"origin"`
	SelfOrigin *bool           `json:"selfOrigin"`
}

// ParseUpdate decodes and validates an update message's msg payload,
// requiring all six fields spec §4.2 names: network, netmask, localpref,
// ASPath, origin, selfOrigin. ASPath is allowed to be empty (a directly
// originated route) but must be present in the JSON; an explicit null
// counts as empty.
func ParseUpdate(msg json.RawMessage) (UpdateBody, error) {
	var raw rawUpdateBody
	if err := json.Unmarshal(msg, &raw); err != nil {
		return UpdateBody{}, fmt.Errorf("wire: malformed update payload: %w", err)
	}
	missing := []string{}
	if raw.Network == nil {
		missing = append(missing, "network")
	}
	if raw.Netmask == nil {
		missing = append(missing, "netmask")
	}
	if raw.LocalPref == nil {
		missing = append(missing, "localpref")
	}
	if raw.ASPath == nil {
		missing = append(missing, "ASPath")
	}
	if raw.Origin == nil {
		missing = append(missing, "origin")
	}
	if raw.SelfOrigin == nil {
		missing = append(missing, "selfOrigin")
	}
	if len(missing) > 0 {
		return UpdateBody{}, fmt.Errorf("wire: update missing required field(s): %v", missing)
	}
	var asPath []int
	if err := json.Unmarshal(raw.ASPath, &asPath); err != nil {
		return UpdateBody{}, fmt.Errorf("wire: malformed update ASPath: %w", err)
	}
	return UpdateBody{
		Network:    *raw.Network,
		Netmask:    *raw.Netmask,
		LocalPref:  *raw.LocalPref,
		ASPath:     asPath,
		Origin:     *raw.Origin,
		SelfOrigin: *raw.SelfOrigin,
	}, nil
}

// PropagatedUpdate is the propagated form of an update: spec §4.3 step 3
// says only {network, netmask, ASPath} survive re-advertisement.
type PropagatedUpdate struct {
	Network string `json:"network"`
	Netmask string `json:"netmask"`
	ASPath  []int  `json:"ASPath"`
}

// Prefix identifies a (network, netmask) pair on the wire — a withdraw
// entry, spec §4.4.
type Prefix struct {
	Network string `json:"network"`
	Netmask string `json:"netmask"`
}

// ParseWithdraw decodes a withdraw message's msg payload: an ordered list
// of {network, netmask} entries.
func ParseWithdraw(msg json.RawMessage) ([]Prefix, error) {
	var prefixes []Prefix
	if err := json.Unmarshal(msg, &prefixes); err != nil {
		return nil, fmt.Errorf("wire: malformed withdraw payload: %w", err)
	}
	return prefixes, nil
}

// RouteEntry is a Route as it appears in a `table` dump reply, spec §4.9:
// {network, netmask, peer, localpref, ASPath, origin, selfOrigin}.
type RouteEntry struct {
	Network    string `json:"network"`
	Netmask    string `json:"netmask"`
	Peer       string `json:"peer"`
	LocalPref  int    `json:"localpref"`
	ASPath     []int  `json:"ASPath"`
	Origin     string `json:"origin"`
	SelfOrigin bool   `json:"selfOrigin"`
}

// ToRouteEntry converts an internal state.Route to its wire form.
func ToRouteEntry(r state.Route) RouteEntry {
	return RouteEntry{
		Network:    ipaddr.ToDotted(r.Network),
		Netmask:    ipaddr.ToDotted(r.Netmask),
		Peer:       ipaddr.ToDotted(r.Peer),
		LocalPref:  r.LocalPref,
		ASPath:     append([]int(nil), r.ASPath...),
		Origin:     r.Origin.String(),
		SelfOrigin: r.SelfOrigin,
	}
}

// PrefixToKey converts a wire Prefix to internal uint32 form.
func PrefixToKey(p Prefix) (network, netmask uint32, err error) {
	network, err = ipaddr.ToInt(p.Network)
	if err != nil {
		return 0, 0, fmt.Errorf("wire: bad network %q: %w", p.Network, err)
	}
	netmask, err = ipaddr.ToInt(p.Netmask)
	if err != nil {
		return 0, 0, fmt.Errorf("wire: bad netmask %q: %w", p.Netmask, err)
	}
	return network, netmask, nil
}

// ToRoute converts a validated UpdateBody plus the learning peer into an
// internal state.Route. peer is always the srcif the update arrived on
// (spec §4.3 step 1) — it is never read from the wire payload itself.
func ToRoute(body UpdateBody, peer uint32) (state.Route, error) {
	network, err := ipaddr.ToInt(body.Network)
	if err != nil {
		return state.Route{}, fmt.Errorf("wire: bad network %q: %w", body.Network, err)
	}
	netmask, err := ipaddr.ToInt(body.Netmask)
	if err != nil {
		return state.Route{}, fmt.Errorf("wire: bad netmask %q: %w", body.Netmask, err)
	}
	origin, ok := state.ParseOrigin(body.Origin)
	if !ok {
		return state.Route{}, fmt.Errorf("wire: unknown origin %q", body.Origin)
	}
	return state.Route{
		Network:    network,
		Netmask:    netmask,
		LocalPref:  body.LocalPref,
		ASPath:     append([]int(nil), body.ASPath...),
		Origin:     origin,
		SelfOrigin: body.SelfOrigin,
		Peer:       peer,
	}, nil
}
