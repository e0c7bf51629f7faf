// Package access holds the gate topology, the group policy store and the
// authorization decision point that arbitrates every passage attempt.
package access

import (
	"time"

	"portaria.org/internal/schedule"
)

// ActorKind classifies who is standing at the gate.
type ActorKind string

const (
	KindResident ActorKind = "resident"
	KindVisitor  ActorKind = "visitor"
	KindProvider ActorKind = "provider"
	KindCourier  ActorKind = "courier"
)

// Actor is the subject of an authorization request. For credential-bearing
// guests the evaluator substitutes the identity carried by the credential.
type Actor struct {
	ID     string    `json:"id"`
	Kind   ActorKind `json:"kind"`
	UnitID string    `json:"unit_id,omitempty"`
	Name   string    `json:"name,omitempty"`
}

// PointKind is the physical shape of an access point.
type PointKind string

const (
	PointSocialDoor     PointKind = "social_door"
	PointServiceDoor    PointKind = "service_door"
	PointVehicleIn      PointKind = "vehicle_in"
	PointVehicleOut     PointKind = "vehicle_out"
	PointTurnstile      PointKind = "turnstile"
	PointPedestrianGate PointKind = "pedestrian_gate"
)

// PointStatus is the operational state reported by the controller.
type PointStatus string

const (
	StatusOnline      PointStatus = "online"
	StatusOffline     PointStatus = "offline"
	StatusMaintenance PointStatus = "maintenance"
	StatusFault       PointStatus = "fault"
)

// AccessPoint is one controllable gate, door or turnstile. PairID, when
// set, names the other half of an airlock; pairing is always symmetric
// and is validated at write time.
type AccessPoint struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Kind          PointKind   `json:"kind"`
	Zone          string      `json:"zone,omitempty"`
	Status        PointStatus `json:"status"`
	PairID        string      `json:"pair_id,omitempty"`
	LastHeartbeat time.Time   `json:"last_heartbeat,omitempty"`
}

// AccessGroup is one whitelisting rule: which actor kinds may pass,
// through which zones, at which times. A nil Zones slice means every
// zone; a zero Weekdays or nil Window means no restriction on that axis.
type AccessGroup struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	AllowResident bool              `json:"allow_resident"`
	AllowVisitor  bool              `json:"allow_visitor"`
	AllowProvider bool              `json:"allow_provider"`
	AllowCourier  bool              `json:"allow_courier"`
	Zones         []string          `json:"zones,omitempty"`
	Window        *schedule.Window  `json:"window,omitempty"`
	Weekdays      schedule.Weekdays `json:"weekdays,omitempty"`
}

// PermitsKind reports whether the group admits the given actor kind.
func (g AccessGroup) PermitsKind(k ActorKind) bool {
	switch k {
	case KindResident:
		return g.AllowResident
	case KindVisitor:
		return g.AllowVisitor
	case KindProvider:
		return g.AllowProvider
	case KindCourier:
		return g.AllowCourier
	}
	return false
}

// AllowsZone reports whether the group covers the given zone. A group
// with no zone whitelist covers every zone.
func (g AccessGroup) AllowsZone(zone string) bool {
	if len(g.Zones) == 0 {
		return true
	}
	for _, z := range g.Zones {
		if z == zone {
			return true
		}
	}
	return false
}

// Direction of a passage event.
const (
	DirectionEntry = "entry"
	DirectionExit  = "exit"
)
