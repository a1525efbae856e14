package nmn

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Field is one entry of the offset table.
type Field struct {
	Name   string
	Offset int
	Size   int
}

// Layout is the offset table of a file: every top-level field in write order.
type Layout struct {
	Fields []Field
	Total  int
}

// Field returns the named entry.
func (l *Layout) Field(name string) (Field, bool) {
	for _, f := range l.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Field names of the top-level layout.
const (
	FieldMagic       = "magic"
	FieldVersion     = "version"
	FieldInputMean   = "input_mean"
	FieldInputStd    = "input_std"
	FieldRuntime     = "runtime"
	FieldMainSize    = "main_size"
	FieldMainPad     = "main_pad"
	FieldMainModel   = "main_model"
	FieldGroupsSize  = "groups_size"
	FieldGroupsPad   = "groups_pad"
	FieldGroupsModel = "groups_model"
)

var infoFieldNames = [numInfoFields]string{
	"mode", "num_outputs", "morphs_per_bone", "num_bones",
	"num_curves", "num_groups", "items_per_group", "floats_per_curve",
}

// cursor walks a layout. Without a buffer it only measures; with one it also writes.
// Writes past the end of the buffer are dropped and flagged, never panicking, so the
// caller can report the divergence.
type cursor struct {
	buf      []byte
	off      int
	overflow bool
	fields   []Field
	record   bool
}

func (c *cursor) room(n int) []byte {
	if c.buf == nil {
		return nil
	}
	if c.off+n > len(c.buf) {
		c.overflow = true
		return nil
	}
	return c.buf[c.off : c.off+n]
}

func (c *cursor) mark(name string, start int) {
	if c.record && name != "" {
		c.fields = append(c.fields, Field{Name: name, Offset: start, Size: c.off - start})
	}
}

func (c *cursor) putUint32(name string, v uint32) {
	start := c.off
	if b := c.room(4); b != nil {
		binary.LittleEndian.PutUint32(b, v)
	}
	c.off += 4
	c.mark(name, start)
}

func (c *cursor) putFloats(name string, v []float32) {
	start := c.off
	if b := c.room(4 * len(v)); b != nil {
		for i, f := range v {
			binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
		}
	}
	c.off += 4 * len(v)
	c.mark(name, start)
}

func (c *cursor) putBytes(name string, v []byte) {
	start := c.off
	if b := c.room(len(v)); b != nil {
		copy(b, v)
	}
	c.off += len(v)
	c.mark(name, start)
}

func (c *cursor) putCString(name string, s string) {
	start := c.off
	if b := c.room(len(s) + 1); b != nil {
		copy(b, s)
		b[len(s)] = 0
	}
	c.off += len(s) + 1
	c.mark(name, start)
}

// align advances to the next multiple of a. The buffer is zeroed on allocation,
// so padding needs no writes.
func (c *cursor) align(name string, a int) {
	start := c.off
	c.off = alignUp(c.off, a)
	if c.buf != nil && c.off > len(c.buf) {
		c.overflow = true
	}
	c.mark(name, start)
}

func alignUp(x, a int) int {
	r := x % a
	if r == 0 {
		return x
	}
	return x + (a - r)
}

// layoutFile is the single description of the file layout, shared by Plan and Marshal.
func layoutFile(c *cursor, f *File) {
	c.putUint32(FieldMagic, Magic)
	c.putUint32(FieldVersion, Version)
	for i, v := range f.Header.info() {
		c.putUint32(infoFieldNames[i], v)
	}
	c.putFloats(FieldInputMean, f.InputMean)
	c.putFloats(FieldInputStd, f.InputStd)
	c.putCString(FieldRuntime, f.Runtime)

	layoutBlock(c, f.Main, FieldMainSize, FieldMainPad, FieldMainModel)
	if f.Header.HasGroups() {
		layoutBlock(c, f.Groups, FieldGroupsSize, FieldGroupsPad, FieldGroupsModel)
	}
}

func layoutBlock(c *cursor, n *Network, sizeName, padName, modelName string) {
	c.putUint32(sizeName, uint32(NetworkSize(n)))
	c.align(padName, BlockAlignment)
	start := c.off
	inner := c.record
	c.record = false
	layoutNetwork(c, n)
	c.record = inner
	c.mark(modelName, start)
}

// NetworkSize is the content size of a model block. Blocks start 64-byte aligned, so the
// 4-byte padding inside a block does not depend on where the block lands.
func NetworkSize(n *Network) int {
	var c cursor
	layoutNetwork(&c, n)
	return c.off
}

func layoutNetwork(c *cursor, n *Network) {
	c.putUint32("", uint32(KindSequence))
	c.putUint32("", uint32(len(n.Layers)))
	for _, l := range n.Layers {
		layoutLayer(c, l)
	}
}

func layoutLayer(c *cursor, l Layer) {
	c.putUint32("", uint32(l.Kind()))
	switch l := l.(type) {
	case *Linear:
		c.putUint32("", uint32(l.Inputs))
		c.putUint32("", uint32(l.Outputs))
		c.putFloats("", l.Weights)
		c.putFloats("", l.Biases)
	case *CompressedLinear:
		c.putUint32("", uint32(l.Inputs))
		c.putUint32("", uint32(l.Outputs))
		c.putBytes("", l.Codes)
		c.align("", 4)
		c.putFloats("", l.Offsets)
		c.putFloats("", l.Scales)
		c.putFloats("", l.Biases)
	case *MultiLinear:
		c.putUint32("", uint32(l.Groups))
		c.putUint32("", uint32(l.Outputs))
		c.putUint32("", uint32(l.Inputs))
		c.putFloats("", l.Weights)
		c.putFloats("", l.Biases)
	case *ELU:
		c.putUint32("", uint32(l.Size))
	default:
		panic(fmt.Sprintf("nmn: unhandled layer type %T", l))
	}
}

// Plan validates f and computes its offset table without writing anything.
func Plan(f *File) (*Layout, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	c := cursor{record: true}
	layoutFile(&c, f)
	return &Layout{Fields: c.fields, Total: c.off}, nil
}
