package extract

import (
	"fmt"
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// Key/value metadata written into every extract footer.
const (
	MetaNamespace = "extract.namespace"
	MetaTable     = "extract.table"
	MetaProducer  = "extract.producer"
)

// ParquetConfig configures parquet output generation.
type ParquetConfig struct {
	Compression string // "snappy" | "zstd" | "gzip" | "none"
	Producer    string
}

// DefaultParquetConfig returns sensible defaults.
func DefaultParquetConfig() ParquetConfig {
	return ParquetConfig{
		Compression: "snappy",
		Producer:    "top10-publisher",
	}
}

// ParquetStore writes extracts as Parquet files.
type ParquetStore struct {
	cfg ParquetConfig
}

// NewParquetStore creates a parquet-backed extract store.
func NewParquetStore(cfg ParquetConfig) *ParquetStore {
	return &ParquetStore{cfg: cfg}
}

// Create truncates or creates the file at path.
func (s *ParquetStore) Create(path string) (Writer, error) {
	codec, err := compressionCodec(s.cfg.Compression)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &parquetWriter{file: f, codec: codec, producer: s.cfg.Producer}, nil
}

func compressionCodec(name string) (parquet.WriterOption, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return parquet.Compression(&parquet.Snappy), nil
	case "zstd":
		return parquet.Compression(&parquet.Zstd), nil
	case "gzip":
		return parquet.Compression(&parquet.Gzip), nil
	case "none":
		return parquet.Compression(&parquet.Uncompressed), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", name)
	}
}

type parquetWriter struct {
	file      *os.File
	codec     parquet.WriterOption
	producer  string
	namespace string
	pw        *parquet.GenericWriter[Row]
}

func (w *parquetWriter) CreateNamespace(name string) error {
	if name == "" {
		return fmt.Errorf("namespace name is empty")
	}
	w.namespace = name
	return nil
}

func (w *parquetWriter) CreateTable(def TableDefinition) error {
	if w.namespace == "" {
		return fmt.Errorf("namespace must be created before table %s", def.Table)
	}
	if def.Namespace != w.namespace {
		return fmt.Errorf("table %s belongs to namespace %q, file has %q", def.Table, def.Namespace, w.namespace)
	}
	schema := rowSchema(def)
	if err := checkDefinition(def, schema); err != nil {
		return err
	}

	w.pw = parquet.NewGenericWriter[Row](w.file,
		schema,
		w.codec,
		parquet.CreatedBy(w.producer, "", ""),
		parquet.KeyValueMetadata(MetaNamespace, def.Namespace),
		parquet.KeyValueMetadata(MetaTable, def.Table),
		parquet.KeyValueMetadata(MetaProducer, w.producer),
	)
	return nil
}

func (w *parquetWriter) Insert(rows []Row) error {
	if w.pw == nil {
		return fmt.Errorf("table must be created before inserting rows")
	}
	n, err := w.pw.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	if n != len(rows) {
		return fmt.Errorf("wrote %d of %d rows", n, len(rows))
	}
	return nil
}

// Close finalizes the parquet footer and closes the file.
func (w *parquetWriter) Close() error {
	var err error
	if w.pw != nil {
		if cerr := w.pw.Close(); cerr != nil {
			err = fmt.Errorf("close parquet writer: %w", cerr)
		}
		w.pw = nil
	}
	if w.file != nil {
		if cerr := w.file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close file: %w", cerr)
		}
		w.file = nil
	}
	return err
}
