package v1

import (
	"math"

	"google.golang.org/protobuf/types/known/structpb"
)

// Field names shared by requests and responses.
const (
	FieldServer      = "server"
	FieldVariant     = "variant"
	FieldOS          = "os"
	FieldArch        = "arch"
	FieldTag         = "tag"
	FieldURL         = "url"
	FieldFormat      = "format"
	FieldInstalled   = "installed"
	FieldModel       = "model"
	FieldPort        = "port"
	FieldOptions     = "options"
	FieldPID         = "pid"
	FieldState       = "state"
	FieldStartedAt   = "started_at"
	FieldSessions    = "sessions"
	FieldProgress    = "progress"
	FieldMessage     = "message"
	FieldPhase       = "phase"
	FieldDone        = "done"
	FieldPath        = "path"
	FieldLine        = "line"
	FieldStream      = "stream"
	FieldCPUPercent  = "cpu_percent"
	FieldMemUsed     = "mem_used"
	FieldMemTotal    = "mem_total"
	FieldTotalSize   = "total_size"
	FieldTransferred = "transferred"
	FieldAttempts    = "attempts"
	FieldError       = "error"
)

// Message builds a Struct message field by field.
type Message struct {
	s *structpb.Struct
}

// NewMessage returns an empty message builder.
func NewMessage() *Message {
	return &Message{s: &structpb.Struct{Fields: make(map[string]*structpb.Value)}}
}

// String sets a string field.
func (m *Message) String(key, value string) *Message {
	m.s.Fields[key] = structpb.NewStringValue(value)

	return m
}

// Int sets an integral number field.
func (m *Message) Int(key string, value int64) *Message {
	m.s.Fields[key] = structpb.NewNumberValue(float64(value))

	return m
}

// Float sets a number field.
func (m *Message) Float(key string, value float64) *Message {
	m.s.Fields[key] = structpb.NewNumberValue(value)

	return m
}

// Bool sets a boolean field.
func (m *Message) Bool(key string, value bool) *Message {
	m.s.Fields[key] = structpb.NewBoolValue(value)

	return m
}

// Struct sets a nested object field; nil values are skipped.
func (m *Message) Struct(key string, value *structpb.Struct) *Message {
	if value != nil {
		m.s.Fields[key] = structpb.NewStructValue(value)
	}

	return m
}

// List sets a list of objects.
func (m *Message) List(key string, values []*structpb.Struct) *Message {
	list := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(values))}
	for _, value := range values {
		list.Values = append(list.Values, structpb.NewStructValue(value))
	}

	m.s.Fields[key] = structpb.NewListValue(list)

	return m
}

// Proto returns the built message.
func (m *Message) Proto() *structpb.Struct {
	return m.s
}

// GetString returns a string field, empty when absent or of another type.
func GetString(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

// GetInt returns a number field truncated to an integer; non-finite values yield zero.
func GetInt(s *structpb.Struct, key string) int64 {
	n := s.GetFields()[key].GetNumberValue()
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0
	}

	return int64(n)
}

// GetFloat returns a number field.
func GetFloat(s *structpb.Struct, key string) float64 {
	return s.GetFields()[key].GetNumberValue()
}

// GetBool returns a boolean field.
func GetBool(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}

// GetStruct returns a nested object field, nil when absent.
func GetStruct(s *structpb.Struct, key string) *structpb.Struct {
	return s.GetFields()[key].GetStructValue()
}

// GetList returns the object items of a list field.
func GetList(s *structpb.Struct, key string) []*structpb.Struct {
	values := s.GetFields()[key].GetListValue().GetValues()
	out := make([]*structpb.Struct, 0, len(values))

	for _, value := range values {
		if item := value.GetStructValue(); item != nil {
			out = append(out, item)
		}
	}

	return out
}
