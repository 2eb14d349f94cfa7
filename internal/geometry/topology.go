// Package geometry extracts eye landmarks from a face landmark list and
// computes the Eye Aspect Ratio (EAR) over them.
package geometry

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrMalformedInput means the landmark list does not match the topology.
	ErrMalformedInput = errors.New("malformed landmark input")

	// ErrUnknownTopology means no index table is registered for an identifier.
	ErrUnknownTopology = errors.New("unknown landmark topology")
)

// Topology is a fixed index table into a detector's landmark ordering.
// Each eye lists six indices: outer corner, two upper-lid points,
// inner corner, two lower-lid points.
type Topology struct {
	ID           string
	MinLandmarks int
	LeftEye      [6]int
	RightEye     [6]int
}

// FaceMesh478 is the MediaPipe face mesh ordering. 468 points without iris
// refinement, 478 with it; the eye indices are identical in both.
var FaceMesh478 = Topology{
	ID:           "mediapipe-face-mesh/478-v1",
	MinLandmarks: 468,
	LeftEye:      [6]int{33, 160, 158, 133, 153, 144},
	RightEye:     [6]int{263, 387, 385, 362, 380, 373},
}

var topologies = map[string]Topology{
	FaceMesh478.ID: FaceMesh478,
}

// LookupTopology returns the index table registered under id.
func LookupTopology(id string) (Topology, error) {
	t, ok := topologies[id]
	if !ok {
		return Topology{}, fmt.Errorf("%w: %q (known: %v)", ErrUnknownTopology, id, TopologyIDs())
	}
	return t, nil
}

// TopologyIDs lists the registered topology identifiers.
func TopologyIDs() []string {
	ids := make([]string, 0, len(topologies))
	for id := range topologies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MaxIndex is the highest landmark index the topology references.
func (t Topology) MaxIndex() int {
	max := -1
	for _, eye := range [2][6]int{t.LeftEye, t.RightEye} {
		for _, i := range eye {
			if i > max {
				max = i
			}
		}
	}
	return max
}

// Required is the minimum landmark count a face must carry.
func (t Topology) Required() int {
	if n := t.MaxIndex() + 1; n > t.MinLandmarks {
		return n
	}
	return t.MinLandmarks
}
