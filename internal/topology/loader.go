package topology

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/klmetro-live/pkg/models"
)

// networkFile is the on-disk YAML layout of the metro network. The file is
// produced by the data setup tooling, which is outside this service.
type networkFile struct {
	Lines     []lineEntry    `yaml:"lines" validate:"required,min=1,dive"`
	Stations  []stationEntry `yaml:"stations" validate:"required,min=2,dive"`
	Transfers [][2]int       `yaml:"transfers"`
}

type lineEntry struct {
	Name     string `yaml:"name" validate:"required"`
	Stations []int  `yaml:"stations" validate:"required,min=2"`
}

type stationEntry struct {
	ID        int     `yaml:"id" validate:"required"`
	Name      string  `yaml:"name" validate:"required"`
	Latitude  float64 `yaml:"latitude" validate:"required"`
	Longitude float64 `yaml:"longitude" validate:"required"`
	Line      string  `yaml:"line"`
}

// LoadFile reads and validates a network definition and builds the Topology.
func LoadFile(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading network file: %w", err)
	}
	return Load(data)
}

// Load parses a YAML network definition.
func Load(data []byte) (*Topology, error) {
	var file networkFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing network file: %w", err)
	}

	v := validator.New()
	if err := v.Struct(file); err != nil {
		return nil, fmt.Errorf("validating network file: %w", err)
	}

	lines := make([]models.Line, 0, len(file.Lines))
	for _, l := range file.Lines {
		lines = append(lines, models.Line{Name: l.Name, Stations: l.Stations})
	}
	stations := make([]models.Station, 0, len(file.Stations))
	for _, s := range file.Stations {
		stations = append(stations, models.Station{
			ID:        s.ID,
			Name:      s.Name,
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			Line:      s.Line,
		})
	}

	topo, err := New(lines, stations, file.Transfers)
	if err != nil {
		return nil, fmt.Errorf("building topology: %w", err)
	}
	return topo, nil
}
