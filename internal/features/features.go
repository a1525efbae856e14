// Package features builds the bone and curve feature groups fed to the groups network.
package features

import (
	"fmt"

	"github.com/qrv0/morphnet/internal/nmn"
)

// Groups lists feature indices per group. Bone indices come first; curve indices are
// offset by the bone count so both share one index space.
type Groups [][]int

// Build splits the flat bone and curve group index lists into equally sized groups.
func Build(boneIndices []int, numBoneGroups int, curveIndices []int, numCurveGroups int, numBones int) (Groups, error) {
	var g Groups
	bones, err := split("bone", boneIndices, numBoneGroups, 0)
	if err != nil {
		return nil, err
	}
	g = append(g, bones...)
	curves, err := split("curve", curveIndices, numCurveGroups, numBones)
	if err != nil {
		return nil, err
	}
	g = append(g, curves...)
	if err := g.check(); err != nil {
		return nil, err
	}
	return g, nil
}

func split(kind string, indices []int, n int, offset int) ([][]int, error) {
	if n == 0 {
		return nil, nil
	}
	if n < 0 || len(indices) == 0 || len(indices)%n != 0 {
		return nil, fmt.Errorf("%w: %d %s indices do not split into %d equal groups", nmn.ErrShape, len(indices), kind, n)
	}
	per := len(indices) / n
	out := make([][]int, n)
	for i := range out {
		group := make([]int, per)
		for j, idx := range indices[i*per : (i+1)*per] {
			if idx < 0 {
				return nil, fmt.Errorf("%w: negative %s index %d", nmn.ErrShape, kind, idx)
			}
			group[j] = idx + offset
		}
		out[i] = group
	}
	return out, nil
}

func (g Groups) check() error {
	for i, group := range g {
		if len(group) != len(g[0]) {
			return &nmn.ShapeError{Field: fmt.Sprintf("group %d items", i), Want: len(g[0]), Got: len(group)}
		}
	}
	return nil
}

// NumGroups is the header's group count.
func (g Groups) NumGroups() uint32 { return uint32(len(g)) }

// ItemsPerGroup is the header's per-group item count, zero without groups.
func (g Groups) ItemsPerGroup() uint32 {
	if len(g) == 0 {
		return 0
	}
	return uint32(len(g[0]))
}
