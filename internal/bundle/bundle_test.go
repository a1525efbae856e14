package bundle

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrv0/morphnet/internal/nmn"
)

func modelBytes(t *testing.T) []byte {
	t.Helper()
	h := nmn.Header{Mode: nmn.ModeGlobal, NumOutputs: 3, NumBones: 2, NumCurves: 1, FloatsPerCurve: 1}
	in := h.NumInputs()
	w1 := make([]float32, 16*in)
	for i := range w1 {
		w1[i] = float32(i%9) / 9
	}
	w2 := make([]float32, 3*16)
	for i := range w2 {
		w2[i] = -float32(i%5) / 5
	}
	main, err := nmn.Extract([]nmn.WeightedLayer{
		{Weight: nmn.Tensor{Shape: []int{16, in}, Data: w1}, Bias: nmn.Tensor{Shape: []int{16}, Data: make([]float32, 16)}},
		{Weight: nmn.Tensor{Shape: []int{3, 16}, Data: w2}, Bias: nmn.Tensor{Shape: []int{3}, Data: make([]float32, 3)}},
	}, nmn.ExtractOptions{Mode: nmn.ModeGlobal})
	require.NoError(t, err)
	f := &nmn.File{
		Header:    h,
		InputMean: make([]float32, in),
		InputStd:  bytes32(in, 1),
		Runtime:   nmn.RuntimeName,
		Main:      main,
	}
	b, _, err := nmn.Marshal(f)
	require.NoError(t, err)
	return b
}

func bytes32(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestContainerRoundTripWithCompression(t *testing.T) {
	meta := []byte(`{"hello":"world"}`)
	raw := bytes.Repeat([]byte{1, 2, 3, 4}, 1024)
	zst := bytes.Repeat([]byte{5, 6, 7, 8}, 2048)

	w := NewWriter()
	w.AddSection(TypeMeta, meta, 0)
	w.AddSection(TypeModel, raw, FlagCompLZ4)
	w.AddSection(TypeConfig, zst, FlagCompZSTD)
	path := filepath.Join(t.TempDir(), "test.nmb")
	require.NoError(t, w.Write(path))

	r, err := Open(path)
	require.NoError(t, err)
	require.Len(t, r.TOC, 3)
	for _, e := range r.TOC {
		assert.Zero(t, e.Offset%SectionAlignment)
	}

	for typ, want := range map[uint32][]byte{TypeMeta: meta, TypeModel: raw, TypeConfig: zst} {
		got, err := r.SectionUncompressed(typ)
		require.NoError(t, err)
		assert.Equal(t, want, got, SectionName(typ))
	}
	stored, err := r.Section(TypeConfig)
	require.NoError(t, err)
	assert.Less(t, len(stored), len(zst), "zstd payload is stored compressed")

	_, err = r.Section(99)
	assert.True(t, errors.Is(err, ErrSectionNotFound))
}

func TestSectionDecompressionIsCapped(t *testing.T) {
	prev := MaxSectionSize
	MaxSectionSize = 4096
	t.Cleanup(func() { MaxSectionSize = prev })

	for _, flag := range []uint32{FlagCompZSTD, FlagCompLZ4} {
		w := NewWriter()
		w.AddSection(TypeModel, make([]byte, 64<<10), flag)
		w.AddSection(TypeConfig, make([]byte, 1024), flag)
		b, err := w.Bytes()
		require.NoError(t, err)
		r, err := Parse(b)
		require.NoError(t, err)

		_, err = r.SectionUncompressed(TypeModel)
		assert.True(t, errors.Is(err, ErrCorrupt), "flags %d: got %v", flag, err)

		cfg, err := r.SectionUncompressed(TypeConfig)
		require.NoError(t, err, "flags %d: a section under the cap still decodes", flag)
		assert.Len(t, cfg, 1024)
	}
}

func TestParseRejects(t *testing.T) {
	_, err := Parse([]byte("not a bundle at all"))
	assert.True(t, errors.Is(err, ErrNotBundle))

	w := NewWriter()
	w.AddSection(TypeMeta, []byte("{}"), 0)
	b, err := w.Bytes()
	require.NoError(t, err)

	_, err = Parse(b[:SectionAlignment])
	assert.True(t, errors.Is(err, ErrCorrupt), "section past end")

	bad := append([]byte(nil), b...)
	bad[12] = 200 // TOC count
	_, err = Parse(bad)
	assert.True(t, errors.Is(err, ErrCorrupt), "TOC past end")
}

func TestPackUnpackVerify(t *testing.T) {
	for _, comp := range []string{"none", "zstd", "lz4"} {
		t.Run(comp, func(t *testing.T) {
			model := modelBytes(t)
			config := []byte(`{"mode":"global"}`)
			path := filepath.Join(t.TempDir(), "model.nmb")
			m, err := PackFile(path, model, config, PackOptions{Compression: comp, ChunkSize: 128})
			require.NoError(t, err)
			assert.Equal(t, "Global", m.Mode)
			assert.Equal(t, 13, m.Inputs)
			assert.Equal(t, 3, m.Outputs)
			assert.Len(t, m.MainLayers, 4)
			assert.Equal(t, comp, m.Compression)

			r, err := Open(path)
			require.NoError(t, err)
			got, err := r.Model()
			require.NoError(t, err)
			assert.Equal(t, model, got)
			cfg, err := r.Config()
			require.NoError(t, err)
			assert.Equal(t, config, cfg)

			stored, err := r.Manifest()
			require.NoError(t, err)
			assert.Equal(t, m, stored)

			rep, err := Verify(r)
			require.NoError(t, err)
			assert.True(t, rep.OK())
			assert.Len(t, rep.Sections, 2)
		})
	}
}

func TestVerifyFindsCorruptChunk(t *testing.T) {
	model := modelBytes(t)
	w, _, err := Pack(model, nil, PackOptions{Compression: "none", ChunkSize: 64})
	require.NoError(t, err)
	b, err := w.Bytes()
	require.NoError(t, err)

	r, err := Parse(b)
	require.NoError(t, err)
	e, _ := r.entry(TypeModel)
	b[e.Offset+200] ^= 0xFF

	rep, err := Verify(r)
	assert.True(t, errors.Is(err, ErrChecksum), "got %v", err)
	require.NotNil(t, rep)
	assert.False(t, rep.OK())
	assert.Equal(t, []int{3}, rep.Sections[0].Mismatched)
}

func TestPackRejects(t *testing.T) {
	model := modelBytes(t)
	_, _, err := Pack(model, nil, PackOptions{Compression: "brotli"})
	assert.Error(t, err)

	_, _, err = Pack(model[:100], nil, PackOptions{})
	assert.True(t, errors.Is(err, nmn.ErrTruncated))

	_, _, err = Pack(model, []byte("{"), PackOptions{})
	assert.Error(t, err)
}

func TestConfigIsOptional(t *testing.T) {
	w, m, err := Pack(modelBytes(t), nil, PackOptions{})
	require.NoError(t, err)
	assert.Equal(t, "none", m.Compression)
	_, hasConfig := m.ChecksumIndex["config"]
	assert.False(t, hasConfig)

	b, err := w.Bytes()
	require.NoError(t, err)
	r, err := Parse(b)
	require.NoError(t, err)
	cfg, err := r.Config()
	require.NoError(t, err)
	assert.Nil(t, cfg)
	_, err = Verify(r)
	assert.NoError(t, err)
}

func TestChecksumMismatches(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 10)
	c := NewChecksum(data, 16)
	assert.Equal(t, 5, c.Count)

	bad, err := c.Mismatches(data)
	require.NoError(t, err)
	assert.Empty(t, bad)

	_, err = c.Mismatches(data[:40])
	assert.Error(t, err)

	c.Algo = "crc32"
	_, err = c.Mismatches(data)
	assert.Error(t, err)
}
