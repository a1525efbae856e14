// Package nmn implements the neural morph network file: layer extraction from trained
// weights, a single-pass layout planner, and the binary writer and reader built on it.
package nmn

import (
	"fmt"
	"math"
)

// File identification. Readers reject any other magic or version.
const (
	Magic       uint32 = 0x234A1304
	Version     uint32 = 1
	RuntimeName        = "NNERuntimeBasicCpu"
)

// BlockAlignment is the alignment of every model block start.
const BlockAlignment = 64

// FloatsPerBone is the number of input values per bone: two columns of a 3x3 rotation matrix.
const FloatsPerBone = 6

// MaxInputs bounds the input width a header may declare.
const MaxInputs = math.MaxInt32

// numInfoFields is the number of uint32 metadata slots after magic and version.
const numInfoFields = 8

// Mode selects per-group (Local) or shared (Global) weights.
type Mode uint32

const (
	ModeLocal  Mode = 0
	ModeGlobal Mode = 1
)

func (m Mode) String() string {
	switch m {
	case ModeLocal:
		return "Local"
	case ModeGlobal:
		return "Global"
	default:
		return fmt.Sprintf("Mode(%d)", uint32(m))
	}
}

// ParseMode accepts "local"/"global" or the numeric form.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "local", "Local", "0":
		return ModeLocal, nil
	case "global", "Global", "1":
		return ModeGlobal, nil
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// Header holds the eight metadata slots that follow magic and version.
type Header struct {
	Mode           Mode
	NumOutputs     uint32 // global morph targets, 0 in Local mode
	MorphsPerBone  uint32 // 0 in Global mode
	NumBones       uint32
	NumCurves      uint32
	NumGroups      uint32
	ItemsPerGroup  uint32
	FloatsPerCurve uint32
}

// NumInputs is the length of the mean and std arrays. It is only meaningful for a
// header that passed validation; wider headers report MaxInputs+1.
func (h Header) NumInputs() int {
	n, ok := h.inputs()
	if !ok {
		return MaxInputs + 1
	}
	return int(n)
}

// inputs sums the input width in uint64, where neither term can wrap.
func (h Header) inputs() (uint64, bool) {
	curves := uint64(h.NumCurves) * uint64(h.FloatsPerCurve)
	if curves > MaxInputs {
		return 0, false
	}
	n := FloatsPerBone*uint64(h.NumBones) + curves
	return n, n <= MaxInputs
}

// HasGroups reports whether a groups model block follows the main block.
func (h Header) HasGroups() bool { return h.NumGroups > 0 }

func (h Header) info() [numInfoFields]uint32 {
	return [numInfoFields]uint32{
		uint32(h.Mode), h.NumOutputs, h.MorphsPerBone, h.NumBones,
		h.NumCurves, h.NumGroups, h.ItemsPerGroup, h.FloatsPerCurve,
	}
}

func headerFromInfo(v [numInfoFields]uint32) Header {
	return Header{
		Mode:           Mode(v[0]),
		NumOutputs:     v[1],
		MorphsPerBone:  v[2],
		NumBones:       v[3],
		NumCurves:      v[4],
		NumGroups:      v[5],
		ItemsPerGroup:  v[6],
		FloatsPerCurve: v[7],
	}
}

func (h Header) validate() error {
	switch h.Mode {
	case ModeLocal:
		if h.NumOutputs != 0 {
			return shapeErr("header.num_outputs", 0, int(h.NumOutputs))
		}
	case ModeGlobal:
		if h.MorphsPerBone != 0 {
			return shapeErr("header.morphs_per_bone", 0, int(h.MorphsPerBone))
		}
		if h.NumGroups != 0 {
			return fmt.Errorf("%w: groups require local mode", ErrShape)
		}
	default:
		return fmt.Errorf("%w: unknown mode %d", ErrShape, uint32(h.Mode))
	}
	if (h.NumGroups == 0) != (h.ItemsPerGroup == 0) {
		return fmt.Errorf("%w: %d groups with %d items per group", ErrShape, h.NumGroups, h.ItemsPerGroup)
	}
	n, ok := h.inputs()
	if !ok {
		return fmt.Errorf("%w: %d bones and %d curves of %d floats exceed %d inputs",
			ErrShape, h.NumBones, h.NumCurves, h.FloatsPerCurve, MaxInputs)
	}
	if n == 0 {
		return fmt.Errorf("%w: network has no inputs", ErrShape)
	}
	return nil
}

// File is the in-memory form of a .nmn file.
type File struct {
	Header    Header
	InputMean []float32
	InputStd  []float32
	Runtime   string
	Main      *Network
	// Groups is present exactly when Header.NumGroups > 0.
	Groups *Network
}

// Validate checks every precondition of serialization. It runs before any offset is computed.
func (f *File) Validate() error {
	if err := f.Header.validate(); err != nil {
		return err
	}
	n := f.Header.NumInputs()
	if len(f.InputMean) != n {
		return shapeErr("input_mean", n, len(f.InputMean))
	}
	if len(f.InputStd) != n {
		return shapeErr("input_std", n, len(f.InputStd))
	}
	if f.Runtime == "" {
		return fmt.Errorf("%w: empty runtime identifier", ErrShape)
	}
	for i := 0; i < len(f.Runtime); i++ {
		if f.Runtime[i] == 0 {
			return fmt.Errorf("%w: runtime identifier contains a NUL byte", ErrShape)
		}
	}
	if f.Main == nil {
		return fmt.Errorf("%w: missing main network", ErrShape)
	}
	if err := f.Main.Validate(); err != nil {
		return fmt.Errorf("main network: %w", err)
	}
	if got := f.Main.InputSize(); got != n {
		return shapeErr("main.inputs", n, got)
	}
	if f.Header.Mode == ModeGlobal && f.Header.NumOutputs > 0 {
		if got := f.Main.OutputSize(); got != int(f.Header.NumOutputs) {
			return shapeErr("main.outputs", int(f.Header.NumOutputs), got)
		}
	}
	if f.Header.HasGroups() != (f.Groups != nil) {
		return fmt.Errorf("%w: header declares %d groups but groups network present=%t",
			ErrShape, f.Header.NumGroups, f.Groups != nil)
	}
	if f.Groups != nil {
		if err := f.Groups.Validate(); err != nil {
			return fmt.Errorf("groups network: %w", err)
		}
	}
	return nil
}
