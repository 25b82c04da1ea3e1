package load

import (
	"fmt"

	"github.com/rasnes/alphavantage-warehouse/config"
)

type Dialect string

const (
	DialectDuckDB   Dialect = config.DriverDuckDB
	DialectPostgres Dialect = config.DriverPostgres
	DialectRedshift Dialect = config.DriverRedshift
)

func (d Dialect) mapType(t DataType) string {
	switch t {
	case TypeString:
		return "VARCHAR"
	case TypeFloat:
		switch d {
		case DialectRedshift:
			return "FLOAT"
		case DialectPostgres:
			return "DOUBLE PRECISION"
		default:
			return "DOUBLE"
		}
	case TypeInt:
		return "BIGINT"
	case TypeTimestamp:
		return "TIMESTAMP"
	default:
		panic(fmt.Sprintf("unknown data type %d", t))
	}
}

func (d Dialect) placeholder(i int) string {
	return fmt.Sprintf("$%d", i)
}

type dialectColumn struct {
	Name string
	Type string
}

func (d Dialect) columns(meta TableMeta) []dialectColumn {
	cols := make([]dialectColumn, len(meta.Columns))
	for i, c := range meta.Columns {
		cols[i] = dialectColumn{Name: c.Name, Type: d.mapType(c.Type)}
	}
	return cols
}
