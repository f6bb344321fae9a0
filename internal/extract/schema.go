package extract

import (
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// ColumnType is the logical type of an extract column.
type ColumnType string

const (
	TypeText      ColumnType = "text"
	TypeTimestamp ColumnType = "timestamp"
	TypeInt       ColumnType = "int"
	TypeDouble    ColumnType = "double"
)

// Column is one column of a table definition.
type Column struct {
	Name string
	Type ColumnType
}

// TableDefinition names a table inside a namespace and lists its columns.
type TableDefinition struct {
	Namespace string
	Table     string
	Columns   []Column
}

// QualifiedName returns "namespace.table".
func (d TableDefinition) QualifiedName() string {
	return d.Namespace + "." + d.Table
}

// Namespace and table of the rankings extract.
const (
	DefaultNamespace = "Extract"
	RankingsTable    = "Rankings"
)

// RankingsDefinition is the fixed ten-column rankings schema.
func RankingsDefinition() TableDefinition {
	return TableDefinition{
		Namespace: DefaultNamespace,
		Table:     RankingsTable,
		Columns: []Column{
			{Name: "topic", Type: TypeText},
			{Name: "generated_at", Type: TypeTimestamp},
			{Name: "rank", Type: TypeInt},
			{Name: "item_name", Type: TypeText},
			{Name: "score", Type: TypeDouble},
			{Name: "advantages", Type: TypeText},
			{Name: "metrics", Type: TypeText},
			{Name: "sources", Type: TypeText},
			{Name: "methodology", Type: TypeText},
			{Name: "batch_id", Type: TypeText},
		},
	}
}

// physicalKind maps a logical column type to its parquet storage kind.
func physicalKind(t ColumnType) (parquet.Kind, error) {
	switch t {
	case TypeText:
		return parquet.ByteArray, nil
	case TypeTimestamp:
		return parquet.Int64, nil
	case TypeInt:
		return parquet.Int32, nil
	case TypeDouble:
		return parquet.Double, nil
	default:
		return 0, fmt.Errorf("unsupported column type %q", t)
	}
}

// rowSchema is the parquet schema derived from Row, named after def.
func rowSchema(def TableDefinition) *parquet.Schema {
	return parquet.NewSchema(def.QualifiedName(), parquet.SchemaOf(Row{}))
}

// checkDefinition verifies that def describes exactly the columns that Row
// writes, with matching storage kinds.
func checkDefinition(def TableDefinition, schema *parquet.Schema) error {
	if def.Namespace == "" || def.Table == "" {
		return fmt.Errorf("table definition needs a namespace and a table name")
	}
	if got, want := len(def.Columns), len(schema.Fields()); got != want {
		return fmt.Errorf("table %s defines %d columns, rows carry %d", def.QualifiedName(), got, want)
	}
	for _, col := range def.Columns {
		leaf, ok := schema.Lookup(col.Name)
		if !ok {
			return fmt.Errorf("column %q is not part of the row layout", col.Name)
		}
		kind, err := physicalKind(col.Type)
		if err != nil {
			return fmt.Errorf("column %q: %w", col.Name, err)
		}
		if got := leaf.Node.Type().Kind(); got != kind {
			return fmt.Errorf("column %q: defined as %s, stored as %s", col.Name, col.Type, got)
		}
	}
	return nil
}
