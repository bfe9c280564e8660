package metrics

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protojson"
)

func TestTableMarshalJSON(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Record("Datastore/all", "", ms(30), ms(2)))
	require.NoError(t, tbl.Record("Datastore/statement/MongoDB/users/find", "WebTransaction/NormalizedUri/*", ms(30), ms(2)))

	out, err := json.Marshal(tbl)
	require.NoError(t, err)
	assert.Equal(t,
		`[[{"name":"Datastore/all"},[1,0.03,0.002,0.03,0.03,0.0009]],`+
			`[{"name":"Datastore/statement/MongoDB/users/find","scope":"WebTransaction/NormalizedUri/*"},[1,0.03,0.002,0.03,0.03,0.0009]]]`,
		string(out))
}

func TestTableMarshalIdempotent(t *testing.T) {
	tbl := NewTable()
	for i := 0; i < 20; i++ {
		require.NoError(t, tbl.Record("m", "", ms(i), ms(i/3)))
	}
	tbl.Seal()

	first, err := json.Marshal(tbl)
	require.NoError(t, err)
	second, err := json.Marshal(tbl)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSerializedMetricRoundTrip(t *testing.T) {
	in := SerializedMetric{Spec: MetricSpec{Name: "a", Scope: "s"}, Values: [6]float64{2, 0.5, 0.25, 0.1, 0.4, 0.17}}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out SerializedMetric
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)

	assert.Error(t, json.Unmarshal([]byte(`[{"name":1},[1]]`), &out))
}

func TestTableToProto(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Record("Datastore/all", "", ms(30), ms(2)))
	require.NoError(t, tbl.Record("Datastore/all", "OtherTransaction/job", ms(30), ms(2)))

	list, err := tbl.ToProto()
	require.NoError(t, err)
	require.Len(t, list.GetValues(), 2)

	pair := list.GetValues()[1].GetListValue().GetValues()
	require.Len(t, pair, 2)
	spec := pair[0].GetStructValue().GetFields()
	assert.Equal(t, "Datastore/all", spec["name"].GetStringValue())
	assert.Equal(t, "OtherTransaction/job", spec["scope"].GetStringValue())
	assert.Equal(t, 0.0009, pair[1].GetListValue().GetValues()[5].GetNumberValue())

	_, hasScope := list.GetValues()[0].GetListValue().GetValues()[0].GetStructValue().GetFields()["scope"]
	assert.False(t, hasScope)

	// the protobuf JSON form carries the same payload as MarshalJSON
	pj, err := protojson.Marshal(list)
	require.NoError(t, err)
	var fromProto, fromJSON any
	require.NoError(t, json.Unmarshal(pj, &fromProto))
	js, err := json.Marshal(tbl)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(js, &fromJSON))
	assert.Equal(t, fromJSON, fromProto)
}
