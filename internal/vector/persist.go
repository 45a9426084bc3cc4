package vector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/hyperjump/pagerag/internal/models"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
)

// Vector file layout, little endian:
// magic (4) | version (4) | dimension (4) | count (4) | count*dimension float32.
var vectorFileMagic = [4]byte{'P', 'R', 'V', 'X'}

const vectorFileVersion uint32 = 1

// vectorHeaderSize is magic, version, dimension and count.
const vectorHeaderSize = 16

func (x *FlatIndex) persistLocked() error {
	vectorsPath, metadataPath := x.Paths()
	if vectorsPath == "" {
		return nil
	}
	if err := os.MkdirAll(x.dir, 0755); err != nil {
		return ragerr.Wrapf(err, ragerr.CodeVectorPersistFailure, "create index dir %s", x.dir)
	}
	// Vectors first: a crash before the metadata rename leaves extra vectors,
	// which Load trims back to the records it has.
	if err := writeFileAtomic(vectorsPath, func(w io.Writer) error {
		return writeVectors(w, x.dimension, x.vectors)
	}); err != nil {
		return ragerr.Wrapf(err, ragerr.CodeVectorPersistFailure, "write %s", vectorsPath)
	}
	if err := writeFileAtomic(metadataPath, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(x.records)
	}); err != nil {
		return ragerr.Wrapf(err, ragerr.CodeVectorPersistFailure, "write %s", metadataPath)
	}
	return nil
}

func (x *FlatIndex) removeArtifactsLocked() error {
	vectorsPath, metadataPath := x.Paths()
	for _, p := range []string{vectorsPath, metadataPath} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return ragerr.Wrapf(err, ragerr.CodeVectorPersistFailure, "remove %s", p)
		}
	}
	return nil
}

// writeFileAtomic writes through a temp file in the target directory and
// renames it over path, so readers see either the old or the new file.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}
	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		cleanup()
		return err
	}
	if err := bw.Flush(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func writeVectors(w io.Writer, dimension int, vectors [][]float32) error {
	header := []any{vectorFileMagic, vectorFileVersion, uint32(dimension), uint32(len(vectors))}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	for _, vec := range vectors {
		if _, err := w.Write(float32SliceToBytes(vec)); err != nil {
			return err
		}
	}
	return nil
}

func readVectors(path string) (int, [][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, [][]float32{}, nil
		}
		return 0, nil, ragerr.Wrapf(err, ragerr.CodeVectorLoadFailure, "open %s", path)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var (
		magic      [4]byte
		version    uint32
		dim, count uint32
	)
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return 0, nil, ragerr.Wrapf(err, ragerr.CodeVectorLoadFailure, "read header of %s", path)
	}
	if magic != vectorFileMagic {
		return 0, nil, ragerr.Errorf(ragerr.CodeVectorLoadFailure, "%s is not a vector index file", path)
	}
	for _, field := range []any{&version, &dim, &count} {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return 0, nil, ragerr.Wrapf(err, ragerr.CodeVectorLoadFailure, "read header of %s", path)
		}
	}
	if version != vectorFileVersion {
		return 0, nil, ragerr.Errorf(ragerr.CodeVectorLoadFailure, "%s: unsupported version %d", path, version)
	}
	info, err := f.Stat()
	if err != nil {
		return 0, nil, ragerr.Wrapf(err, ragerr.CodeVectorLoadFailure, "stat %s", path)
	}
	if !payloadMatches(info.Size()-vectorHeaderSize, dim, count) {
		return 0, nil, ragerr.Errorf(ragerr.CodeVectorLoadFailure,
			"%s: header claims %d vectors of dimension %d but the file holds %d bytes of data",
			path, count, dim, info.Size()-vectorHeaderSize)
	}
	vectors := make([][]float32, 0, count)
	buf := make([]byte, int(dim)*4)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, nil, ragerr.Wrapf(err, ragerr.CodeVectorLoadFailure, "read vector %d of %s", i, path)
		}
		vectors = append(vectors, bytesToFloat32Slice(buf))
	}
	return int(dim), vectors, nil
}

// payloadMatches reports whether payload bytes hold exactly count vectors of dim.
func payloadMatches(payload int64, dim, count uint32) bool {
	if payload < 0 {
		return false
	}
	row := int64(dim) * 4
	if row == 0 {
		return count == 0 && payload == 0
	}
	return payload%row == 0 && payload/row == int64(count)
}

func readRecords(path string) ([]models.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []models.Record{}, nil
		}
		return nil, ragerr.Wrapf(err, ragerr.CodeVectorLoadFailure, "read %s", path)
	}
	var records []models.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, ragerr.Wrapf(err, ragerr.CodeVectorLoadFailure, "parse %s", path)
	}
	if records == nil {
		records = []models.Record{}
	}
	return records, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
