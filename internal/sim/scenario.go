// Package sim generates synthetic condominium traffic for load demos
// and smoke runs against a live API.
package sim

import (
	"math/rand"
	"time"

	"portaria.org/internal/access"
)

// Pair names the two halves of an airlock.
type Pair struct {
	AID string
	BID string
}

// Assignment binds a group to a point.
type Assignment struct {
	PointID string
	GroupID string
}

// Scenario is a complete gate topology plus the cast that moves
// through it.
type Scenario struct {
	Name        string
	Points      []access.AccessPoint
	Pairs       []Pair
	Groups      []access.AccessGroup
	Assignments []Assignment
	Residents   []access.Actor
	GuestNames  []string
}

// CondominiumScenario is the default demo estate: a social front door,
// a service door, a paired vehicle airlock and a pedestrian turnstile.
func CondominiumScenario() Scenario {
	return Scenario{
		Name: "ResidentialTower",
		Points: []access.AccessPoint{
			{ID: "front-door", Name: "Front Door", Kind: access.PointSocialDoor, Zone: "lobby"},
			{ID: "service-door", Name: "Service Door", Kind: access.PointServiceDoor, Zone: "service"},
			{ID: "garage-outer", Name: "Garage Outer Gate", Kind: access.PointVehicleIn, Zone: "garage"},
			{ID: "garage-inner", Name: "Garage Inner Gate", Kind: access.PointVehicleIn, Zone: "garage"},
			{ID: "pool-turnstile", Name: "Pool Turnstile", Kind: access.PointTurnstile, Zone: "leisure"},
		},
		Pairs: []Pair{{AID: "garage-outer", BID: "garage-inner"}},
		Groups: []access.AccessGroup{
			{ID: "residents", Name: "Residents", AllowResident: true},
			{ID: "guests-lobby", Name: "Guests via Lobby", AllowVisitor: true, Zones: []string{"lobby"}},
			{ID: "service-crew", Name: "Service Crew", AllowProvider: true, AllowCourier: true, Zones: []string{"service"}},
		},
		Assignments: []Assignment{
			{PointID: "front-door", GroupID: "residents"},
			{PointID: "front-door", GroupID: "guests-lobby"},
			{PointID: "service-door", GroupID: "residents"},
			{PointID: "service-door", GroupID: "service-crew"},
			{PointID: "garage-outer", GroupID: "residents"},
			{PointID: "garage-inner", GroupID: "residents"},
			{PointID: "pool-turnstile", GroupID: "residents"},
		},
		Residents: []access.Actor{
			{ID: "resident-101", Kind: access.KindResident, UnitID: "unit-101", Name: "Ana"},
			{ID: "resident-202", Kind: access.KindResident, UnitID: "unit-202", Name: "Bruno"},
			{ID: "resident-303", Kind: access.KindResident, UnitID: "unit-303", Name: "Carla"},
		},
		GuestNames: []string{"Plumber", "Electrician", "Courier", "Dinner Guest", "Dog Walker"},
	}
}

// Arrival is one synthetic scan at a gate.
type Arrival struct {
	Actor     access.Actor
	PointID   string
	Direction string
}

// Generator draws random arrivals from a scenario. Roughly one scan in
// five is an intruder probe that the policy should deny.
type Generator struct {
	scenario Scenario
	rnd      *rand.Rand
	inside   map[string]bool
}

func NewGenerator(scenario Scenario, seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		scenario: scenario,
		rnd:      rand.New(rand.NewSource(seed)),
		inside:   make(map[string]bool),
	}
}

func (g *Generator) Scenario() Scenario { return g.scenario }

// NextArrival draws the next scan. Residents who entered earlier may
// come back out, so exit traffic shows up too.
func (g *Generator) NextArrival() Arrival {
	resident := g.scenario.Residents[g.rnd.Intn(len(g.scenario.Residents))]
	point := g.scenario.Points[g.rnd.Intn(len(g.scenario.Points))]

	switch g.rnd.Intn(5) {
	case 0:
		// Intruder probe: a kind no group admits at this point.
		return Arrival{
			Actor:     access.Actor{ID: "stranger-" + point.ID, Kind: access.KindVisitor},
			PointID:   "pool-turnstile",
			Direction: access.DirectionEntry,
		}
	case 1:
		if g.inside[resident.ID] {
			g.inside[resident.ID] = false
			return Arrival{Actor: resident, PointID: point.ID, Direction: access.DirectionExit}
		}
		fallthrough
	default:
		g.inside[resident.ID] = true
		return Arrival{Actor: resident, PointID: point.ID, Direction: access.DirectionEntry}
	}
}
