package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
)

// Info describes an extract file on disk.
type Info struct {
	Path      string
	Namespace string
	Table     string
	NumRows   int64
	ByteSize  int64
	Columns   []string
}

// Inspect reads the footer of an extract without loading its rows.
func Inspect(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open extract %s: %w", path, err)
	}
	defer f.Close()

	pf, size, err := openParquet(f)
	if err != nil {
		return nil, fmt.Errorf("open extract %s: %w", path, err)
	}
	return describe(path, pf, size), nil
}

// ReadFile loads every row of an extract along with its footer information.
func ReadFile(path string) (*Info, []Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open extract %s: %w", path, err)
	}
	defer f.Close()

	pf, size, err := openParquet(f)
	if err != nil {
		return nil, nil, fmt.Errorf("open extract %s: %w", path, err)
	}

	reader := parquet.NewGenericReader[Row](pf)
	defer reader.Close()

	rows := make([]Row, 0, pf.NumRows())
	buf := make([]Row, 64)
	for {
		n, err := reader.Read(buf)
		for i := 0; i < n; i++ {
			buf[i].GeneratedAt = buf[i].GeneratedAt.UTC()
			rows = append(rows, buf[i])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read rows from %s: %w", path, err)
		}
		if n == 0 {
			break
		}
	}

	return describe(path, pf, size), rows, nil
}

func openParquet(f *os.File) (*parquet.File, int64, error) {
	stat, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, 0, err
	}
	return pf, stat.Size(), nil
}

func describe(path string, pf *parquet.File, size int64) *Info {
	info := &Info{
		Path:     path,
		NumRows:  pf.NumRows(),
		ByteSize: size,
	}
	info.Namespace, _ = pf.Lookup(MetaNamespace)
	info.Table, _ = pf.Lookup(MetaTable)
	for _, field := range pf.Schema().Fields() {
		info.Columns = append(info.Columns, field.Name())
	}
	return info
}

// ComputeChecksum computes a SHA256 checksum for the given data.
func ComputeChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// VerifyChecksum verifies that data matches the expected checksum.
func VerifyChecksum(data []byte, expected string) bool {
	return ComputeChecksum(data) == expected
}
