package operators

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

/*
Result batch wire format, used by the result cache and by operators that have
to spill materialized batches.

┌────────────────────────┐
│ SCHEMA BLOCK           │
│   numberOfFields       │
│   per field:           │
│     nameLength, name   │
│     typeLength, type   │
│     nullable (uint8)   │
│     definedness (uint8)│
├────────────────────────┤
│ RECORD BATCH #1        │
│   per column:          │
│     arrayLength        │
│     numBuffers         │
│     per buffer:        │
│       length, bytes    │
├────────────────────────┤
│ RECORD BATCH #2 ...    │
└────────────────────────┘

All batches of one stream share the same schema; the schema block exists to
validate against the in-memory schema on the reading side. The definedness
byte restores the VariableMap of a cached result without re-planning.
*/

type serializer struct {
	schema *arrow.Schema // schema is always attached to the serializer
	vars   VariableMap
}

func NewSerializer(schema *arrow.Schema, vars VariableMap) (*serializer, error) {
	if vars != nil && len(vars) != schema.NumFields() {
		return nil, ErrInvalidSchema("variable map and schema disagree on the column count")
	}
	return &serializer{
		schema: schema,
		vars:   vars,
	}, nil
}

func (ss *serializer) Schema() *arrow.Schema {
	return ss.schema
}

// SerializeBatchColumns writes the column blocks of one batch.
func (ss *serializer) SerializeBatchColumns(r RecordBatch) ([]byte, error) {
	if !ss.schema.Equal(r.Schema) {
		return nil, ErrInvalidSchema("serializer schema and record batch schema are not aligned")
	}
	return ss.columnsToDisk(r.Columns)
}

// SerializeSchema writes the schema block, including the definedness of each
// field's variable.
func (ss *serializer) SerializeSchema() ([]byte, error) {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.LittleEndian, uint32(ss.schema.NumFields())); err != nil {
		return nil, err
	}

	for _, f := range ss.schema.Fields() {
		nameBytes := []byte(f.Name)
		if err := binary.Write(buf, binary.LittleEndian, uint32(len(nameBytes))); err != nil {
			return nil, err
		}
		if _, err := buf.Write(nameBytes); err != nil {
			return nil, err
		}

		typeBytes := []byte(f.Type.String())
		if err := binary.Write(buf, binary.LittleEndian, uint32(len(typeBytes))); err != nil {
			return nil, err
		}
		if _, err := buf.Write(typeBytes); err != nil {
			return nil, err
		}

		var nullable uint8
		if f.Nullable {
			nullable = 1
		}
		if err := binary.Write(buf, binary.LittleEndian, nullable); err != nil {
			return nil, err
		}

		var definedness uint8
		if ss.vars != nil {
			if info, ok := ss.vars[f.Name]; ok && info.Defined == PossiblyUndefined {
				definedness = 1
			}
		}
		if err := binary.Write(buf, binary.LittleEndian, definedness); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func (ss *serializer) columnsToDisk(columns []arrow.Array) ([]byte, error) {
	buf := new(bytes.Buffer)

	for _, col := range columns {
		data := col.Data()

		if err := binary.Write(buf, binary.LittleEndian, int64(data.Len())); err != nil {
			return nil, err
		}

		buffers := data.Buffers()
		if err := binary.Write(buf, binary.LittleEndian, uint32(len(buffers))); err != nil {
			return nil, err
		}

		for _, b := range buffers {
			if b == nil || b.Len() == 0 {
				if err := binary.Write(buf, binary.LittleEndian, uint64(0)); err != nil {
					return nil, err
				}
				continue
			}

			if err := binary.Write(buf, binary.LittleEndian, uint64(b.Len())); err != nil {
				return nil, err
			}
			if _, err := buf.Write(b.Bytes()); err != nil {
				return nil, err
			}
		}
	}

	return buf.Bytes(), nil
}

// DeserializeSchema reads back the schema block and the variable map encoded
// with it.
func (ss *serializer) DeserializeSchema(data io.Reader) (*arrow.Schema, VariableMap, error) {
	var num uint32
	if err := binary.Read(data, binary.LittleEndian, &num); err != nil {
		return nil, nil, err
	}

	fields := make([]arrow.Field, 0, num)
	vars := VariableMap{}

	for i := uint32(0); i < num; i++ {
		var nameLen uint32
		if err := binary.Read(data, binary.LittleEndian, &nameLen); err != nil {
			return nil, nil, err
		}
		nameBytes := make([]byte, nameLen)
		if _, err := io.ReadFull(data, nameBytes); err != nil {
			return nil, nil, err
		}

		var typeLen uint32
		if err := binary.Read(data, binary.LittleEndian, &typeLen); err != nil {
			return nil, nil, err
		}
		typeBytes := make([]byte, typeLen)
		if _, err := io.ReadFull(data, typeBytes); err != nil {
			return nil, nil, err
		}
		typ, err := BasicArrowTypeFromString(string(typeBytes))
		if err != nil {
			return nil, nil, err
		}

		var nullable uint8
		if err := binary.Read(data, binary.LittleEndian, &nullable); err != nil {
			return nil, nil, err
		}
		var definedness uint8
		if err := binary.Read(data, binary.LittleEndian, &definedness); err != nil {
			return nil, nil, err
		}

		fields = append(fields, arrow.Field{
			Name:     string(nameBytes),
			Type:     typ,
			Nullable: nullable == 1,
		})
		defined := AlwaysDefined
		if definedness == 1 {
			defined = PossiblyUndefined
		}
		vars[string(nameBytes)] = VarInfo{Column: int(i), Defined: defined}
	}

	return arrow.NewSchema(fields, nil), vars, nil
}

// after reading in the schema we read in one column at a time
func (ss *serializer) DeserializeNextColumn(r io.Reader, dt arrow.DataType) (arrow.Array, error) {
	var length int64
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}

	var numBuffers uint32
	if err := binary.Read(r, binary.LittleEndian, &numBuffers); err != nil {
		return nil, err
	}

	buffers := make([]*memory.Buffer, numBuffers)

	for i := uint32(0); i < numBuffers; i++ {
		var size uint64
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, err
		}

		if size == 0 {
			buffers[i] = nil
			continue
		}

		raw := make([]byte, size)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, err
		}

		buffers[i] = memory.NewBufferBytes(raw)
	}

	arrData := array.NewData(
		dt,
		int(length),
		buffers,
		nil, // children (none for primitive)
		-1,  // null count (setting it to -1 lets Arrow compute it lazily)
		0,   // offset
	)

	return array.MakeFromData(arrData), nil
}

// DecodeRecordBatch reads back one batch worth of column blocks. Must run
// after DeserializeSchema validated the stream.
func (ss *serializer) DecodeRecordBatch(r io.Reader, schema *arrow.Schema) ([]arrow.Array, error) {
	if !ss.schema.Equal(schema) {
		return nil, ErrInvalidSchema("serializer schema and provided schema do not match")
	}
	arrays := make([]arrow.Array, schema.NumFields())

	for i, field := range schema.Fields() {
		arr, err := ss.DeserializeNextColumn(r, field.Type)
		if err != nil {
			return nil, err
		}
		arrays[i] = arr
	}

	return arrays, nil
}

func BasicArrowTypeFromString(s string) (arrow.DataType, error) {
	switch s {
	case "null":
		return arrow.Null, nil
	case "bool":
		return arrow.FixedWidthTypes.Boolean, nil

	case "int8":
		return arrow.PrimitiveTypes.Int8, nil
	case "int16":
		return arrow.PrimitiveTypes.Int16, nil
	case "int32":
		return arrow.PrimitiveTypes.Int32, nil
	case "int64":
		return arrow.PrimitiveTypes.Int64, nil

	case "uint8":
		return arrow.PrimitiveTypes.Uint8, nil
	case "uint16":
		return arrow.PrimitiveTypes.Uint16, nil
	case "uint32":
		return arrow.PrimitiveTypes.Uint32, nil
	case "uint64":
		return arrow.PrimitiveTypes.Uint64, nil

	case "float32":
		return arrow.PrimitiveTypes.Float32, nil
	case "float64":
		return arrow.PrimitiveTypes.Float64, nil

	case "string", "utf8":
		return arrow.BinaryTypes.String, nil
	case "large_string", "large_utf8":
		return arrow.BinaryTypes.LargeString, nil

	case "binary":
		return arrow.BinaryTypes.Binary, nil
	case "large_binary":
		return arrow.BinaryTypes.LargeBinary, nil
	}

	return nil, fmt.Errorf("unsupported arrow type: %s", s)
}
