package warehouse

import "strings"

const (
	GenericString    = "string"
	GenericInt       = "int"
	GenericBigInt    = "bigint"
	GenericDecimal   = "decimal"
	GenericDouble    = "double"
	GenericBoolean   = "boolean"
	GenericTimestamp = "timestamp"
	GenericDate      = "date"
	GenericTime      = "time"
	GenericBinary    = "binary"
	GenericJSON      = "json"
	GenericRecord    = "record"
	GenericText      = "text"
)

var genericTypes = map[string]string{
	"string":                   GenericString,
	"varchar":                  GenericString,
	"char":                     GenericString,
	"text":                     GenericText,
	"uuid":                     GenericString,
	"int":                      GenericInt,
	"int4":                     GenericInt,
	"integer":                  GenericInt,
	"smallint":                 GenericInt,
	"tinyint":                  GenericInt,
	"int64":                    GenericBigInt,
	"int8":                     GenericBigInt,
	"bigint":                   GenericBigInt,
	"hugeint":                  GenericBigInt,
	"numeric":                  GenericDecimal,
	"bignumeric":               GenericDecimal,
	"decimal":                  GenericDecimal,
	"float":                    GenericDouble,
	"float4":                   GenericDouble,
	"float64":                  GenericDouble,
	"float8":                   GenericDouble,
	"double":                   GenericDouble,
	"real":                     GenericDouble,
	"bool":                     GenericBoolean,
	"boolean":                  GenericBoolean,
	"timestamp":                GenericTimestamp,
	"timestamptz":              GenericTimestamp,
	"timestamp with time zone": GenericTimestamp,
	"datetime":                 GenericTimestamp,
	"date":                     GenericDate,
	"time":                     GenericTime,
	"bytes":                    GenericBinary,
	"blob":                     GenericBinary,
	"json":                     GenericJSON,
	"record":                   GenericRecord,
	"struct":                   GenericRecord,
}

// ToGenericType classifies a backend column type. Parameterized types such
// as DECIMAL(18,3) or VARCHAR(255) are classified by their base name;
// anything unknown is reported as text.
func ToGenericType(backendType string) string {
	normalized := strings.ToLower(strings.TrimSpace(backendType))
	if idx := strings.IndexByte(normalized, '('); idx >= 0 {
		normalized = strings.TrimSpace(normalized[:idx])
	}
	if generic, ok := genericTypes[normalized]; ok {
		return generic
	}
	return GenericText
}
