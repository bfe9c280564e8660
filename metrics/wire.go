package metrics

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// MetricSpec is the name/scope descriptor sent to the collector.
type MetricSpec struct {
	Name  string `json:"name"`
	Scope string `json:"scope,omitempty"`
}

// SerializedMetric is one (descriptor, values) pair of the collector payload.
// It marshals to a two-element JSON array.
type SerializedMetric struct {
	Spec   MetricSpec
	Values [6]float64
}

// MarshalJSON encodes the pair as [{"name":..,"scope":..},[count,total,exclusive,min,max,sumsq]].
func (m SerializedMetric) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{m.Spec, m.Values})
}

// UnmarshalJSON decodes the two-element array form.
func (m *SerializedMetric) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &m.Spec); err != nil {
		return fmt.Errorf("metric spec: %w", err)
	}
	if err := json.Unmarshal(raw[1], &m.Values); err != nil {
		return fmt.Errorf("metric values: %w", err)
	}
	return nil
}

// Serialize returns the table contents in first-seen order, converted to seconds.
func (t *Table) Serialize() []SerializedMetric {
	out := make([]SerializedMetric, 0, len(t.keys))
	for k, s := range t.All() {
		out = append(out, SerializedMetric{
			Spec:   MetricSpec{Name: k.Name, Scope: k.Scope},
			Values: s.Values(),
		})
	}
	return out
}

// MarshalJSON encodes the table in the collector wire shape.
func (t *Table) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Serialize())
}

// ToProto encodes the collector payload as a protobuf ListValue with the same
// layout as the JSON form, for transports that speak protobuf.
func (t *Table) ToProto() (*structpb.ListValue, error) {
	list := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(t.keys))}
	for k, s := range t.All() {
		spec := map[string]any{"name": k.Name}
		if k.Scope != "" {
			spec["scope"] = k.Scope
		}
		specVal, err := structpb.NewStruct(spec)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}

		v := s.Values()
		nums := make([]*structpb.Value, len(v))
		for i, f := range v {
			nums[i] = structpb.NewNumberValue(f)
		}

		pair := structpb.NewListValue(&structpb.ListValue{Values: []*structpb.Value{
			structpb.NewStructValue(specVal),
			structpb.NewListValue(&structpb.ListValue{Values: nums}),
		}})
		list.Values = append(list.Values, pair)
	}
	return list, nil
}
