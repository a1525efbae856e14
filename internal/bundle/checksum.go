package bundle

import (
	"fmt"
	"strconv"

	xxh3 "github.com/zeebo/xxh3"
)

// DefaultChunkSize is the checksum chunk used when none is given.
const DefaultChunkSize = 64 << 10

const checksumAlgo = "xxh3-64"

// Checksum is the rolling hash index of one section. Hashes are hex encoded so JSON
// numbers never lose precision.
type Checksum struct {
	Algo      string   `json:"algo"`
	ChunkSize int      `json:"chunk_size"`
	Count     int      `json:"count"`
	HashesHex []string `json:"hashes_hex"`
}

// Roll hashes data in fixed-size chunks; the last chunk may be short.
func Roll(data []byte, chunk int) []uint64 {
	hashes := make([]uint64, 0, (len(data)+chunk-1)/chunk)
	for i := 0; i < len(data); i += chunk {
		end := i + chunk
		if end > len(data) {
			end = len(data)
		}
		hashes = append(hashes, xxh3.Hash(data[i:end]))
	}
	return hashes
}

func NewChecksum(data []byte, chunk int) Checksum {
	hashes := Roll(data, chunk)
	hx := make([]string, len(hashes))
	for i, h := range hashes {
		hx[i] = fmt.Sprintf("%016x", h)
	}
	return Checksum{Algo: checksumAlgo, ChunkSize: chunk, Count: len(hashes), HashesHex: hx}
}

// Mismatches returns the indices of chunks of data that disagree with c. A chunk count
// difference is reported as an error.
func (c Checksum) Mismatches(data []byte) ([]int, error) {
	if c.Algo != checksumAlgo {
		return nil, fmt.Errorf("unsupported checksum algorithm %q", c.Algo)
	}
	if c.ChunkSize <= 0 {
		return nil, fmt.Errorf("invalid chunk size %d", c.ChunkSize)
	}
	have := Roll(data, c.ChunkSize)
	if len(have) != len(c.HashesHex) {
		return nil, fmt.Errorf("chunk count mismatch: have %d want %d", len(have), len(c.HashesHex))
	}
	var bad []int
	for i, h := range have {
		want, err := strconv.ParseUint(c.HashesHex[i], 16, 64)
		if err != nil || want != h {
			bad = append(bad, i)
		}
	}
	return bad, nil
}
