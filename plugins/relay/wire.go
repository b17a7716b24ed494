package relay

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"alumet/internal/registry"
	"alumet/pkg/measurement"
	"alumet/pkg/resources"
	"alumet/pkg/units"
)

// encodePoint turns one measurement point into a wire-friendly map, using
// the metric's registered name rather than its RawMetricId: ids are only
// stable within the process that assigned them.
func encodePoint(p measurement.Point, metrics registry.Reader) (map[string]any, error) {
	metric, ok := metrics.ByID(p.Metric)
	if !ok {
		return nil, fmt.Errorf("relay: no registered metric for id %d", p.Metric)
	}

	resKind, resID := p.Resource.Kind(), ""
	if id, has := p.Resource.IDString(); has {
		resID = id
	}
	consKind, consID := "", ""
	if p.Consumer != nil {
		consKind = p.Consumer.Kind()
		if id, has := p.Consumer.IDString(); has {
			consID = id
		}
	}

	attrs := make(map[string]any, len(p.Attributes))
	for k, v := range p.Attributes {
		attrs[k] = encodeAttr(v)
	}

	out := map[string]any{
		"timestamp_unix_nano": float64(p.Timestamp.UnixNano()),
		"metric_name":         metric.Name,
		"value_type":          metric.ValueType.String(),
		"unit_base":           string(metric.Unit.Base),
		"unit_prefix":         float64(metric.Unit.Prefix),
		"unit_name":           metric.Unit.Name,
		"resource_kind":       resKind,
		"resource_id":         resID,
		"consumer_kind":       consKind,
		"consumer_id":         consID,
		"attributes":          attrs,
	}
	if metric.ValueType == measurement.U64 {
		out["value"] = float64(p.Value.U64())
	} else {
		out["value"] = p.Value.F64()
	}
	return out, nil
}

// encodeAttr renders an attribute as a string, the value type of the
// attributes map in relay.proto; a ListU64 becomes comma-separated values.
func encodeAttr(v measurement.AttrValue) any {
	switch v.Kind() {
	case measurement.AttrF64:
		f, _ := v.F64()
		return strconv.FormatFloat(f, 'g', -1, 64)
	case measurement.AttrU64:
		u, _ := v.U64()
		return fmt.Sprintf("%d", u)
	case measurement.AttrBool:
		b, _ := v.Bool()
		return strconv.FormatBool(b)
	case measurement.AttrListU64:
		list, _ := v.ListU64()
		s := make([]string, len(list))
		for i, u := range list {
			s[i] = fmt.Sprintf("%d", u)
		}
		return strings.Join(s, ",")
	default:
		s, _ := v.String()
		return s
	}
}

// EncodeBuffer builds the wire envelope for a finished buffer: a
// google.protobuf.Struct holding a session id and the list of encoded
// points, which grpc's default codec marshals as protobuf since
// structpb.Struct already implements proto.Message.
func EncodeBuffer(sessionID string, buf *measurement.Buffer, metrics registry.Reader) (*structpb.Struct, error) {
	points := make([]any, 0, buf.Len())
	for _, p := range buf.Points() {
		encoded, err := encodePoint(p, metrics)
		if err != nil {
			return nil, err
		}
		points = append(points, encoded)
	}
	return structpb.NewStruct(map[string]any{
		"session_id": sessionID,
		"points":     points,
	})
}

// DecodeBuffer reverses EncodeBuffer, re-registering any metric name seen
// for the first time against the receiving agent's own registry.
func DecodeBuffer(s *structpb.Struct, metrics registry.Sender) (sessionID string, buf *measurement.Buffer, err error) {
	sessionID = s.GetFields()["session_id"].GetStringValue()
	rawPoints := s.GetFields()["points"].GetListValue().GetValues()

	buf = measurement.NewBuffer(len(rawPoints))
	for _, v := range rawPoints {
		fields := v.GetStructValue().GetFields()
		p, err := decodePoint(fields, metrics)
		if err != nil {
			return "", nil, err
		}
		buf.Push(p)
	}
	return sessionID, buf, nil
}

func decodePoint(fields map[string]*structpb.Value, metrics registry.Sender) (measurement.Point, error) {
	name := fields["metric_name"].GetStringValue()
	valueType := fields["value_type"].GetStringValue()

	var vt measurement.ValueType
	if valueType == "u64" {
		vt = measurement.U64
	} else {
		vt = measurement.F64
	}

	unit := units.Unit{
		Base:   units.Base(fields["unit_base"].GetStringValue()),
		Prefix: units.Prefix(int(fields["unit_prefix"].GetNumberValue())),
		Name:   fields["unit_name"].GetStringValue(),
	}

	id, err := metrics.Register(measurement.Metric{Name: name, ValueType: vt, Unit: unit})
	if err != nil {
		return measurement.Point{}, fmt.Errorf("relay: registering forwarded metric %q: %w", name, err)
	}

	var value measurement.Value
	if vt == measurement.U64 {
		value = measurement.U64Value(uint64(fields["value"].GetNumberValue()))
	} else {
		value = measurement.F64Value(fields["value"].GetNumberValue())
	}

	attrs := map[string]measurement.AttrValue{}
	for k, v := range fields["attributes"].GetStructValue().GetFields() {
		attrs[k] = measurement.StringAttr(v.GetStringValue())
	}

	res := resources.Custom{KindName: fields["resource_kind"].GetStringValue(), ID: fields["resource_id"].GetStringValue()}
	var consumer resources.ResourceConsumer
	if ck := fields["consumer_kind"].GetStringValue(); ck != "" {
		consumer = resources.Custom{KindName: ck, ID: fields["consumer_id"].GetStringValue()}
	}

	return measurement.Point{
		Timestamp:  time.Unix(0, int64(fields["timestamp_unix_nano"].GetNumberValue())),
		Metric:     id,
		Resource:   res,
		Consumer:   consumer,
		Value:      value,
		Attributes: attrs,
	}, nil
}
