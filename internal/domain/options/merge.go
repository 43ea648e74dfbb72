package options

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Merge returns a new tree with override applied on top of base.
// Neither input is modified. A nil override returns a copy of base.
func Merge(base, override *structpb.Value) *structpb.Value {
	if override == nil {
		return cloneValue(base)
	}

	baseStruct, baseIsStruct := base.GetKind().(*structpb.Value_StructValue)
	overrideStruct, overrideIsStruct := override.GetKind().(*structpb.Value_StructValue)

	if !baseIsStruct || !overrideIsStruct {
		return cloneValue(override)
	}

	return structpb.NewStructValue(MergeStruct(baseStruct.StructValue, overrideStruct.StructValue))
}

// MergeStruct merges two objects key by key, recursing into nested objects.
func MergeStruct(base, override *structpb.Struct) *structpb.Struct {
	out := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(base.GetFields())+len(override.GetFields()))}

	for key, value := range base.GetFields() {
		out.Fields[key] = cloneValue(value)
	}

	for key, value := range override.GetFields() {
		if existing, ok := out.Fields[key]; ok {
			out.Fields[key] = Merge(existing, value)

			continue
		}

		out.Fields[key] = cloneValue(value)
	}

	return out
}

// cloneValue deep-copies v, mapping nil to a null value.
func cloneValue(v *structpb.Value) *structpb.Value {
	if v == nil {
		return structpb.NewNullValue()
	}

	cloned, ok := proto.Clone(v).(*structpb.Value)
	if !ok {
		return structpb.NewNullValue()
	}

	return cloned
}
