// Package bundle packs a network file with its manifest and export config into one
// sectioned, checksummed container.
package bundle

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	lz4 "github.com/pierrec/lz4/v4"
)

var magic = [8]byte{'N', 'M', 'B', 'U', 'N', 'D', 'L', 'E'}

const containerVersion = 1

// SectionAlignment is the alignment of every section payload.
const SectionAlignment = 4096

const (
	TypeMeta   uint32 = 1
	TypeModel  uint32 = 2
	TypeConfig uint32 = 3
)

const (
	FlagCompZSTD uint32 = 1 << 0
	FlagCompLZ4  uint32 = 1 << 1
)

// MaxSectionSize caps the decompressed size of a section.
var MaxSectionSize int64 = 1 << 30

var (
	ErrNotBundle       = errors.New("not a morph network bundle")
	ErrSectionNotFound = errors.New("section not found")
	ErrCorrupt         = errors.New("corrupt bundle")
)

// SectionName is the manifest key of a section type.
func SectionName(t uint32) string {
	switch t {
	case TypeMeta:
		return "meta"
	case TypeModel:
		return "model"
	case TypeConfig:
		return "config"
	default:
		return fmt.Sprintf("section_%d", t)
	}
}

// TOCEntry locates one section. Size is the stored (possibly compressed) size.
type TOCEntry struct {
	TypeID uint32
	Offset uint64
	Size   uint64
	Flags  uint32
}

const (
	headerSize   = 8 + 12
	tocEntrySize = 24
)

type section struct {
	typeID uint32
	data   []byte
	flags  uint32
}

type Writer struct {
	sections []section
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) AddSection(t uint32, data []byte, flags uint32) {
	w.sections = append(w.sections, section{typeID: t, data: data, flags: flags})
}

func zstdEncode(b []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(b, make([]byte, 0, len(b))), nil
}

func zstdDecode(b []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(MaxSectionSize)))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(b, nil)
}

func lz4Encode(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lz4Decode(b []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(b))
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, MaxSectionSize+1))
	if err != nil {
		return nil, err
	}
	if n > MaxSectionSize {
		return nil, fmt.Errorf("decompressed size exceeds %d bytes", MaxSectionSize)
	}
	return buf.Bytes(), nil
}

func encode(data []byte, flags uint32) ([]byte, error) {
	switch {
	case flags&FlagCompZSTD != 0:
		return zstdEncode(data)
	case flags&FlagCompLZ4 != 0:
		return lz4Encode(data)
	}
	return data, nil
}

func decode(data []byte, flags uint32) ([]byte, error) {
	switch {
	case flags&FlagCompZSTD != 0:
		return zstdDecode(data)
	case flags&FlagCompLZ4 != 0:
		return lz4Decode(data)
	}
	return data, nil
}

func alignUp(x, a int64) int64 {
	r := x % a
	if r == 0 {
		return x
	}
	return x + (a - r)
}

// Bytes lays out the container in memory: header, TOC, then each payload at a
// SectionAlignment boundary.
func (w *Writer) Bytes() ([]byte, error) {
	if len(w.sections) == 0 {
		return nil, errors.New("bundle: no sections")
	}
	payloads := make([][]byte, len(w.sections))
	for i, s := range w.sections {
		p, err := encode(s.data, s.flags)
		if err != nil {
			return nil, fmt.Errorf("compress %s: %w", SectionName(s.typeID), err)
		}
		payloads[i] = p
	}

	toc := make([]TOCEntry, len(w.sections))
	offset := alignUp(int64(headerSize+tocEntrySize*len(w.sections)), SectionAlignment)
	for i, s := range w.sections {
		toc[i] = TOCEntry{TypeID: s.typeID, Offset: uint64(offset), Size: uint64(len(payloads[i])), Flags: s.flags}
		offset = alignUp(offset+int64(len(payloads[i])), SectionAlignment)
	}
	last := toc[len(toc)-1]
	buf := make([]byte, last.Offset+last.Size)

	copy(buf, magic[:])
	binary.LittleEndian.PutUint32(buf[8:], containerVersion)
	binary.LittleEndian.PutUint32(buf[12:], uint32(len(toc)))
	for i, e := range toc {
		p := buf[headerSize+i*tocEntrySize:]
		binary.LittleEndian.PutUint32(p[0:], e.TypeID)
		binary.LittleEndian.PutUint64(p[4:], e.Offset)
		binary.LittleEndian.PutUint64(p[12:], e.Size)
		binary.LittleEndian.PutUint32(p[20:], e.Flags)
	}
	for i, e := range toc {
		copy(buf[e.Offset:], payloads[i])
	}
	return buf, nil
}

// Write stores the container at path, replacing it atomically.
func (w *Writer) Write(path string) error {
	b, err := w.Bytes()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

type Reader struct {
	data []byte
	TOC  []TOCEntry
}

// Open reads a bundle from disk.
func Open(path string) (*Reader, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Parse validates the header and TOC of an in-memory bundle.
func Parse(b []byte) (*Reader, error) {
	if len(b) < headerSize || !bytes.Equal(b[:8], magic[:]) {
		return nil, ErrNotBundle
	}
	if v := binary.LittleEndian.Uint32(b[8:]); v != containerVersion {
		return nil, fmt.Errorf("%w: version %d", ErrCorrupt, v)
	}
	n := int(binary.LittleEndian.Uint32(b[12:]))
	if n > (len(b)-headerSize)/tocEntrySize {
		return nil, fmt.Errorf("%w: %d TOC entries do not fit", ErrCorrupt, n)
	}
	r := &Reader{data: b, TOC: make([]TOCEntry, n)}
	for i := range r.TOC {
		p := b[headerSize+i*tocEntrySize:]
		e := TOCEntry{
			TypeID: binary.LittleEndian.Uint32(p[0:]),
			Offset: binary.LittleEndian.Uint64(p[4:]),
			Size:   binary.LittleEndian.Uint64(p[12:]),
			Flags:  binary.LittleEndian.Uint32(p[20:]),
		}
		if e.Offset%SectionAlignment != 0 || e.Offset > uint64(len(b)) || e.Size > uint64(len(b))-e.Offset {
			return nil, fmt.Errorf("%w: %s section [%d, +%d) outside %d bytes", ErrCorrupt, SectionName(e.TypeID), e.Offset, e.Size, len(b))
		}
		r.TOC[i] = e
	}
	return r, nil
}

func (r *Reader) entry(typeID uint32) (TOCEntry, bool) {
	for _, e := range r.TOC {
		if e.TypeID == typeID {
			return e, true
		}
	}
	return TOCEntry{}, false
}

// Has reports whether the section is present.
func (r *Reader) Has(typeID uint32) bool {
	_, ok := r.entry(typeID)
	return ok
}

// Section returns the stored payload.
func (r *Reader) Section(typeID uint32) ([]byte, error) {
	e, ok := r.entry(typeID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSectionNotFound, SectionName(typeID))
	}
	return r.data[e.Offset : e.Offset+e.Size], nil
}

// SectionUncompressed returns the payload after undoing its compression flag.
func (r *Reader) SectionUncompressed(typeID uint32) ([]byte, error) {
	e, ok := r.entry(typeID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSectionNotFound, SectionName(typeID))
	}
	out, err := decode(r.data[e.Offset:e.Offset+e.Size], e.Flags)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress %s: %v", ErrCorrupt, SectionName(typeID), err)
	}
	return out, nil
}
