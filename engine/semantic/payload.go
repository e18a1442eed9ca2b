package semantic

import (
	"fmt"

	"github.com/WessleyAI/ami-rag/engine/domain"
	pb "github.com/qdrant/go-client/qdrant"
)

func documentPayload(d domain.StoredDocument) map[string]*pb.Value {
	payload := map[string]*pb.Value{
		FieldText:   toValue(d.Text),
		FieldHash:   toValue(string(d.ContentHash)),
		FieldSource: toValue(d.SourceURL),
	}
	if len(d.Metadata) > 0 {
		payload[FieldMetadata] = toValue(d.Metadata)
	}
	return payload
}

func payloadDocument(payload map[string]*pb.Value) domain.StoredDocument {
	d := domain.StoredDocument{
		Text:        payload[FieldText].GetStringValue(),
		ContentHash: domain.ContentHash(payload[FieldHash].GetStringValue()),
		SourceURL:   payload[FieldSource].GetStringValue(),
	}
	if m, ok := fromValue(payload[FieldMetadata]).(map[string]any); ok {
		d.Metadata = m
	}
	return d
}

// toValue converts a Go value into a Qdrant payload value. Unknown types are
// stored as their string form.
func toValue(v any) *pb.Value {
	switch tv := v.(type) {
	case nil:
		return &pb.Value{Kind: &pb.Value_NullValue{}}
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
	case int32:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
	case float32:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(tv)}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
	case []string:
		list := make([]*pb.Value, len(tv))
		for i, s := range tv {
			list[i] = toValue(s)
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: list}}}
	case []any:
		list := make([]*pb.Value, len(tv))
		for i, e := range tv {
			list[i] = toValue(e)
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: list}}}
	case map[string]any:
		fields := make(map[string]*pb.Value, len(tv))
		for k, e := range tv {
			fields[k] = toValue(e)
		}
		return &pb.Value{Kind: &pb.Value_StructValue{StructValue: &pb.Struct{Fields: fields}}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
	}
}

func fromValue(v *pb.Value) any {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	case *pb.Value_ListValue:
		out := make([]any, len(k.ListValue.GetValues()))
		for i, e := range k.ListValue.GetValues() {
			out[i] = fromValue(e)
		}
		return out
	case *pb.Value_StructValue:
		out := make(map[string]any, len(k.StructValue.GetFields()))
		for name, e := range k.StructValue.GetFields() {
			out[name] = fromValue(e)
		}
		return out
	default:
		return nil
	}
}
