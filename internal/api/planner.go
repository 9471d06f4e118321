package api

import (
	"errors"

	"github.com/klmetro-live/internal/topology"
)

// ErrNoRoute is returned when the two stations are not connected, even
// across interchanges.
var ErrNoRoute = errors.New("no route between stations")

// RouteStep is one stop along a planned journey. Transfer marks stops
// where the rider walks between lines instead of riding.
type RouteStep struct {
	StationID int    `json:"station_id"`
	Name      string `json:"name"`
	Line      string `json:"line"`
	Transfer  bool   `json:"transfer,omitempty"`
}

// Planner computes station-to-station journeys over the static network.
// It searches breadth-first over line adjacency plus interchange links,
// so the result has the fewest possible stops.
type Planner struct {
	topo *topology.Topology
}

func NewPlanner(topo *topology.Topology) *Planner {
	return &Planner{topo: topo}
}

type routeEdge struct {
	prev int
	line string // empty for an interchange walk
}

type routeHop struct {
	to   int
	line string
}

// Plan returns the shortest journey from origin to destination, including
// both endpoints. Origin equal to destination yields a single step.
func (p *Planner) Plan(originID, destinationID int) ([]RouteStep, error) {
	origin, ok := p.topo.Station(originID)
	if !ok {
		return nil, errors.New("unknown origin station")
	}
	if _, ok := p.topo.Station(destinationID); !ok {
		return nil, errors.New("unknown destination station")
	}

	if originID == destinationID {
		return []RouteStep{{StationID: origin.ID, Name: origin.Name, Line: origin.Line}}, nil
	}

	parent := map[int]routeEdge{originID: {prev: originID}}
	queue := []int{originID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == destinationID {
			break
		}

		for _, hop := range p.neighbors(current) {
			if _, seen := parent[hop.to]; seen {
				continue
			}
			parent[hop.to] = routeEdge{prev: current, line: hop.line}
			queue = append(queue, hop.to)
		}
	}

	if _, reached := parent[destinationID]; !reached {
		return nil, ErrNoRoute
	}

	return p.walkBack(parent, originID, destinationID), nil
}

// neighbors lists every station reachable in one hop. Line names come
// back sorted so the search is deterministic.
func (p *Planner) neighbors(stationID int) []routeHop {
	var out []routeHop
	for _, line := range p.topo.Lines() {
		seq := p.topo.StationsOf(line)
		pos, ok := p.topo.IndexOf(line, stationID)
		if !ok {
			continue
		}
		if pos > 0 {
			out = append(out, routeHop{to: seq[pos-1], line: line})
		}
		if pos+1 < len(seq) {
			out = append(out, routeHop{to: seq[pos+1], line: line})
		}
	}
	for _, other := range p.topo.Transfers(stationID) {
		out = append(out, routeHop{to: other, line: ""})
	}
	return out
}

func (p *Planner) walkBack(parent map[int]routeEdge, originID, destinationID int) []RouteStep {
	var reversed []RouteStep
	current := destinationID
	for {
		station, _ := p.topo.Station(current)
		edge := parent[current]
		step := RouteStep{
			StationID: station.ID,
			Name:      station.Name,
			Line:      edge.line,
			Transfer:  edge.line == "" && current != originID,
		}
		reversed = append(reversed, step)
		if current == originID {
			break
		}
		current = edge.prev
	}

	steps := make([]RouteStep, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		steps = append(steps, reversed[i])
	}
	// The origin has no inbound edge; label it with the line used to
	// leave it so every step names a line.
	if len(steps) > 1 {
		steps[0].Line = steps[1].Line
		steps[0].Transfer = false
	}
	return steps
}
