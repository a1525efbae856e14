package nmn

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalHeaderBytes(t *testing.T) {
	buf, _, err := Marshal(localFile(t))
	require.NoError(t, err)
	require.Len(t, buf, 800)

	u32 := func(off int) uint32 { return binary.LittleEndian.Uint32(buf[off:]) }
	assert.Equal(t, Magic, u32(0))
	assert.Equal(t, Version, u32(4))
	assert.Equal(t, uint32(ModeLocal), u32(8))
	assert.Equal(t, uint32(0), u32(12))
	assert.Equal(t, uint32(3), u32(16))
	assert.Equal(t, uint32(4), u32(20))
	assert.Equal(t, uint32(0), u32(24))
	assert.Equal(t, uint32(0), u32(28))
	assert.Equal(t, uint32(6), u32(36))
	assert.Equal(t, "NNERuntimeBasicCpu\x00", string(buf[232:251]))
	assert.Equal(t, uint32(544), u32(251))
	assert.Equal(t, byte(0), buf[255])
	assert.Equal(t, uint32(KindSequence), u32(256))
	assert.Equal(t, uint32(6), u32(260))
	assert.Equal(t, uint32(KindMultiLinear), u32(264))
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		file func(*testing.T) *File
	}{
		{"local", localFile},
		{"local with groups", groupedFile},
		{"global", func(t *testing.T) *File { return globalFile(t, false) }},
		{"global compressed", func(t *testing.T) *File { return globalFile(t, true) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.file(t)
			buf, _, err := Marshal(f)
			require.NoError(t, err)
			got, err := Unmarshal(buf)
			require.NoError(t, err)
			assert.Equal(t, f, got)

			again, _, err := Marshal(got)
			require.NoError(t, err)
			assert.Equal(t, buf, again)
		})
	}
}

func TestUnmarshalRejectsBadMagicAndVersion(t *testing.T) {
	buf, _, err := Marshal(localFile(t))
	require.NoError(t, err)

	bad := append([]byte(nil), buf...)
	binary.LittleEndian.PutUint32(bad, 0xDEADBEEF)
	_, err = Unmarshal(bad)
	assert.True(t, errors.Is(err, ErrInvalidMagic), "got %v", err)

	bad = append([]byte(nil), buf...)
	binary.LittleEndian.PutUint32(bad[4:], 2)
	_, err = Unmarshal(bad)
	assert.True(t, errors.Is(err, ErrUnsupportedVersion), "got %v", err)
}

func TestUnmarshalEveryPrefixIsTruncated(t *testing.T) {
	for _, f := range []*File{groupedFile(t), globalFile(t, true)} {
		buf, _, err := Marshal(f)
		require.NoError(t, err)
		for n := 0; n < len(buf); n++ {
			_, err := Unmarshal(buf[:n])
			require.True(t, errors.Is(err, ErrTruncated), "prefix %d: %v", n, err)
		}
	}
}

func TestUnmarshalRejectsTrailingBytes(t *testing.T) {
	buf, _, err := Marshal(localFile(t))
	require.NoError(t, err)
	_, err = Unmarshal(append(buf, 0))
	assert.True(t, errors.Is(err, ErrTrailingData), "got %v", err)
}

func TestUnmarshalRejectsUnknownLayerTag(t *testing.T) {
	buf, plan, err := Marshal(localFile(t))
	require.NoError(t, err)
	model, _ := plan.Field(FieldMainModel)
	binary.LittleEndian.PutUint32(buf[model.Offset+8:], 99)
	_, err = Unmarshal(buf)
	assert.True(t, errors.Is(err, ErrUnknownLayer), "got %v", err)
}

func TestMultiLinearDimensionProductIsBounded(t *testing.T) {
	// Each dimension fits in the remaining bytes on its own, but 2^22 cubed wraps to 0.
	const n = 1 << 22
	data := make([]byte, 16+4*n)
	binary.LittleEndian.PutUint32(data[0:], uint32(KindMultiLinear))
	binary.LittleEndian.PutUint32(data[4:], n)
	binary.LittleEndian.PutUint32(data[8:], n)
	binary.LittleEndian.PutUint32(data[12:], n)

	d := &decoder{data: data}
	d.layer()
	assert.True(t, errors.Is(d.err, ErrTruncated), "got %v", d.err)
}

func TestUnmarshalRejectsBlockSizeMismatch(t *testing.T) {
	buf, plan, err := Marshal(localFile(t))
	require.NoError(t, err)
	size, _ := plan.Field(FieldMainSize)
	binary.LittleEndian.PutUint32(buf[size.Offset:], uint32(NetworkSize(localFile(t).Main)+4))
	buf = append(buf, 0, 0, 0, 0)
	_, err = Unmarshal(buf)
	assert.True(t, errors.Is(err, ErrLayoutMismatch), "got %v", err)
}

func TestUnmarshalRejectsInconsistentHeader(t *testing.T) {
	buf, _, err := Marshal(localFile(t))
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(buf[12:], 7) // num_outputs in local mode
	_, err = Unmarshal(buf)
	assert.True(t, errors.Is(err, ErrShape), "got %v", err)
}

func TestInputWidthOverflowIsRejected(t *testing.T) {
	// 6*bones + curves*floats wraps to 5 in 64-bit arithmetic.
	wrap := func(h *Header) {
		h.NumBones = 1431655766
		h.NumCurves = 0xFFFFFFFF
		h.FloatsPerCurve = 0xFFFFFFFF
	}

	f := localFile(t)
	wrap(&f.Header)
	f.InputMean, f.InputStd = ones(5), ones(5)
	_, _, err := Marshal(f)
	assert.True(t, errors.Is(err, ErrShape), "got %v", err)

	buf, _, err := Marshal(localFile(t))
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(buf[20:], 1431655766)
	binary.LittleEndian.PutUint32(buf[24:], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(buf[36:], 0xFFFFFFFF)
	_, err = Unmarshal(buf)
	assert.True(t, errors.Is(err, ErrShape), "got %v", err)

	h := Header{NumBones: 1, NumCurves: MaxInputs, FloatsPerCurve: 1}
	assert.True(t, errors.Is(h.validate(), ErrShape), "one past the bound")
	h.NumCurves = MaxInputs - FloatsPerBone
	assert.NoError(t, h.validate())
	assert.Equal(t, MaxInputs, h.NumInputs())
}

func TestGroupPresenceMustMatchHeader(t *testing.T) {
	f := groupedFile(t)
	f.Groups = nil
	_, _, err := Marshal(f)
	assert.True(t, errors.Is(err, ErrShape))

	f = localFile(t)
	f.Groups = groupedFile(t).Groups
	_, _, err = Marshal(f)
	assert.True(t, errors.Is(err, ErrShape))

	f = localFile(t)
	f.Header.NumGroups = 2
	_, _, err = Marshal(f)
	assert.True(t, errors.Is(err, ErrShape), "groups without items per group")
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *File)
	}{
		{"short mean", func(f *File) { f.InputMean = f.InputMean[:3] }},
		{"empty runtime", func(f *File) { f.Runtime = "" }},
		{"nul in runtime", func(f *File) { f.Runtime = "a\x00b" }},
		{"no main", func(f *File) { f.Main = nil }},
		{"input width", func(f *File) { f.Header.NumBones = 5; f.InputMean = ones(30); f.InputStd = ones(30) }},
		{"morphs in global", func(f *File) { f.Header.Mode = ModeGlobal }},
		{"unknown mode", func(f *File) { f.Header.Mode = Mode(9) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := localFile(t)
			tt.mutate(f)
			assert.True(t, errors.Is(f.Validate(), ErrShape))
		})
	}

	g := globalFile(t, false)
	g.Header.NumOutputs = 6
	assert.True(t, errors.Is(g.Validate(), ErrShape), "output width")
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.nmn")
	f := groupedFile(t)
	require.NoError(t, Save(path, f))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, f, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestSaveFailuresLeaveNoFile(t *testing.T) {
	dir := t.TempDir()

	missing := filepath.Join(dir, "missing", "model.nmn")
	err := Save(missing, localFile(t))
	require.Error(t, err)
	assert.NoFileExists(t, missing)

	path := filepath.Join(dir, "model.nmn")
	f := localFile(t)
	f.InputStd = nil
	err = Save(path, f)
	assert.True(t, errors.Is(err, ErrShape))
	assert.NoFileExists(t, path)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 0)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.nmn"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
