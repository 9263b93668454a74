package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/annel0/voxel-stream/internal/world"
	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

// Формат блоба чанка:
//
//	magic "EVXC" | version u8 | reserved [3]u8 | solid u32 | xxhash64(raw) u64 | zstd(raw)
//
// Для пустого чанка полезная нагрузка отсутствует.
const (
	blobMagic      = "EVXC"
	blobVersion    = 1
	blobHeaderSize = 4 + 1 + 3 + 4 + 8
)

var (
	// ErrChecksumMismatch контрольная сумма вокселей не совпала
	ErrChecksumMismatch = errors.New("voxel checksum mismatch")
	// ErrSolidCountMismatch счётчик в заголовке не совпал с вокселями
	ErrSolidCountMismatch = errors.New("voxel solid count mismatch")
)

// Кодер и декодер zstd безопасны для параллельных EncodeAll/DecodeAll
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// EncodeVoxels сериализует воксели чанка в сжатый блоб
func EncodeVoxels(voxels []byte, solidCount int) ([]byte, error) {
	if solidCount > 0 && len(voxels) != world.VoxelCount {
		return nil, fmt.Errorf("encode: длина массива %d, ожидалось %d", len(voxels), world.VoxelCount)
	}
	if solidCount <= 0 {
		voxels = nil
		solidCount = 0
	}

	out := make([]byte, blobHeaderSize, blobHeaderSize+len(voxels)/4)
	copy(out, blobMagic)
	out[4] = blobVersion
	binary.LittleEndian.PutUint32(out[8:12], uint32(solidCount))
	binary.LittleEndian.PutUint64(out[12:20], xxhash.Sum64(voxels))

	if voxels != nil {
		out = zstdEncoder.EncodeAll(voxels, out)
	}
	return out, nil
}

// DecodeVoxels разбирает блоб, проверяя заголовок и контрольную сумму
func DecodeVoxels(data []byte) ([]byte, int, error) {
	if len(data) < blobHeaderSize || string(data[:4]) != blobMagic {
		return nil, 0, fmt.Errorf("decode: не является блобом чанка")
	}
	if data[4] != blobVersion {
		return nil, 0, fmt.Errorf("decode: неподдерживаемая версия %d", data[4])
	}

	solid := int(binary.LittleEndian.Uint32(data[8:12]))
	sum := binary.LittleEndian.Uint64(data[12:20])

	if solid == 0 {
		return nil, 0, nil
	}

	voxels, err := zstdDecoder.DecodeAll(data[blobHeaderSize:], make([]byte, 0, world.VoxelCount))
	if err != nil {
		return nil, 0, fmt.Errorf("decode: ошибка распаковки: %w", err)
	}
	if len(voxels) != world.VoxelCount {
		return nil, 0, fmt.Errorf("decode: длина массива %d, ожидалось %d", len(voxels), world.VoxelCount)
	}
	if xxhash.Sum64(voxels) != sum {
		return nil, 0, ErrChecksumMismatch
	}
	if n := CountSolid(voxels); n != solid {
		return nil, 0, fmt.Errorf("decode: в заголовке %d твёрдых, в массиве %d: %w", solid, n, ErrSolidCountMismatch)
	}
	return voxels, solid, nil
}

// CountSolid количество непустых вокселей в массиве
func CountSolid(voxels []byte) int {
	n := 0
	for _, v := range voxels {
		if v != 0 {
			n++
		}
	}
	return n
}
