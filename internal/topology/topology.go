package topology

import (
	"fmt"
	"sort"

	"github.com/klmetro-live/pkg/models"
)

// Topology holds the static line and station layout of the network.
// It is built once at startup and read-only afterwards, so all methods
// are safe for concurrent use.
type Topology struct {
	lines    map[string][]int
	stations map[int]models.Station
	// index maps line name -> station id -> position in sequence
	index     map[string]map[int]int
	transfers map[int][]int
}

// New builds a Topology from the given lines and stations. Every line must
// have at least two stations, each appearing once, and every referenced
// station must exist.
func New(lines []models.Line, stations []models.Station, transfers [][2]int) (*Topology, error) {
	t := &Topology{
		lines:     make(map[string][]int, len(lines)),
		stations:  make(map[int]models.Station, len(stations)),
		index:     make(map[string]map[int]int, len(lines)),
		transfers: make(map[int][]int),
	}

	for _, s := range stations {
		if _, dup := t.stations[s.ID]; dup {
			return nil, fmt.Errorf("duplicate station id %d", s.ID)
		}
		t.stations[s.ID] = s
	}

	for _, l := range lines {
		if len(l.Stations) < 2 {
			return nil, fmt.Errorf("line %q has %d stations, need at least 2", l.Name, len(l.Stations))
		}
		if _, dup := t.lines[l.Name]; dup {
			return nil, fmt.Errorf("duplicate line %q", l.Name)
		}
		idx := make(map[int]int, len(l.Stations))
		for pos, id := range l.Stations {
			if _, ok := t.stations[id]; !ok {
				return nil, fmt.Errorf("line %q references unknown station %d", l.Name, id)
			}
			if _, dup := idx[id]; dup {
				return nil, fmt.Errorf("line %q lists station %d twice", l.Name, id)
			}
			idx[id] = pos
		}
		seq := make([]int, len(l.Stations))
		copy(seq, l.Stations)
		t.lines[l.Name] = seq
		t.index[l.Name] = idx
	}

	for _, pair := range transfers {
		a, b := pair[0], pair[1]
		if _, ok := t.stations[a]; !ok {
			return nil, fmt.Errorf("transfer references unknown station %d", a)
		}
		if _, ok := t.stations[b]; !ok {
			return nil, fmt.Errorf("transfer references unknown station %d", b)
		}
		t.transfers[a] = append(t.transfers[a], b)
		t.transfers[b] = append(t.transfers[b], a)
	}

	return t, nil
}

// Lines returns the line names in sorted order.
func (t *Topology) Lines() []string {
	names := make([]string, 0, len(t.lines))
	for name := range t.lines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StationsOf returns the ordered station sequence of the line, or nil if
// the line is unknown. The returned slice must not be modified.
func (t *Topology) StationsOf(line string) []int {
	return t.lines[line]
}

// IndexOf returns the position of the station within the line's sequence.
func (t *Topology) IndexOf(line string, stationID int) (int, bool) {
	idx, ok := t.index[line]
	if !ok {
		return 0, false
	}
	pos, ok := idx[stationID]
	return pos, ok
}

// IsTerminal reports whether the station is the first or last stop of
// the line.
func (t *Topology) IsTerminal(line string, stationID int) bool {
	pos, ok := t.IndexOf(line, stationID)
	if !ok {
		return false
	}
	return pos == 0 || pos == len(t.lines[line])-1
}

// Neighbor returns the next station id when stepping from stationID in the
// given direction along the line. It returns false when the station is not
// on the line or when the step would run past the terminal.
func (t *Topology) Neighbor(line string, stationID int, dir models.Direction) (int, bool) {
	pos, ok := t.IndexOf(line, stationID)
	if !ok {
		return 0, false
	}
	seq := t.lines[line]
	switch dir {
	case models.Forward:
		if pos+1 < len(seq) {
			return seq[pos+1], true
		}
	case models.Backward:
		if pos > 0 {
			return seq[pos-1], true
		}
	}
	return 0, false
}

// Station returns the station record for the given id.
func (t *Topology) Station(id int) (models.Station, bool) {
	s, ok := t.stations[id]
	return s, ok
}

// Stations returns all stations ordered by id.
func (t *Topology) Stations() []models.Station {
	out := make([]models.Station, 0, len(t.stations))
	for _, s := range t.stations {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Transfers returns the interchange partners of the station, if any.
func (t *Topology) Transfers(stationID int) []int {
	return t.transfers[stationID]
}
