package pose

import (
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/signavatar/internal/gesture"
	"github.com/ayusman/signavatar/internal/pipeline"
	"github.com/ayusman/signavatar/internal/store"
)

var labels = []string{"thumbs_up", "peace_sign", "deaf", "help"}

func TestTable_Lookup(t *testing.T) {
	table := NewTable(labels)

	thumbs := table.Lookup("thumbs_up")
	assert.InDelta(t, -math.Pi/2, thumbs.Bones["RightArm"].X, 1e-12)
	assert.Equal(t, DefaultDuration, thumbs.Duration)

	peace := table.Lookup("peace_sign")
	assert.Len(t, peace.Bones, 3)

	assert.Empty(t, table.Lookup("deaf").Bones, "labels without a default use the rest pose")
	assert.Empty(t, table.Lookup("unknown").Bones)
}

func TestTable_LookupReturnsCopy(t *testing.T) {
	table := NewTable(labels)
	p := table.Lookup("thumbs_up")
	p.Bones["RightArm"] = Rotation{}

	assert.InDelta(t, -math.Pi/2, table.Lookup("thumbs_up").Bones["RightArm"].X, 1e-12)
}

func TestTable_SetAndRemove(t *testing.T) {
	table := NewTable(labels)
	custom := Pose{Bones: map[string]Rotation{"Head": {X: 0.2}}, Duration: 1}

	require.NoError(t, table.Set("thumbs_up", custom))
	assert.True(t, table.Overridden("thumbs_up"))
	if diff := cmp.Diff(custom, table.Lookup("thumbs_up")); diff != "" {
		t.Errorf("override mismatch (-want +got):\n%s", diff)
	}

	table.Remove("thumbs_up")
	assert.False(t, table.Overridden("thumbs_up"))
	assert.Contains(t, table.Lookup("thumbs_up").Bones, "RightArm")

	assert.Error(t, table.Set("wave", custom))
	assert.Error(t, table.Set("help", Pose{Bones: map[string]Rotation{"Head": {X: math.NaN()}}}))
	assert.Error(t, table.Set("help", Pose{Duration: -1}))
}

func TestTable_LoadFromStore(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer s.Close()

	raw, err := Pose{Bones: map[string]Rotation{"LeftArm": {Y: 1}}}.Encode()
	require.NoError(t, err)
	require.NoError(t, s.Poses().Upsert(&store.PoseBinding{Label: "help", Pose: raw}))
	require.NoError(t, s.Poses().Upsert(&store.PoseBinding{Label: "wave", Pose: raw}))
	require.NoError(t, s.Poses().Upsert(&store.PoseBinding{Label: "deaf", Pose: json.RawMessage(`{"bones":{"Head":"sideways"}}`)}))

	log, hook := logtest.NewNullLogger()
	table := NewTable(labels)
	require.NoError(t, table.Load(s.Poses(), log))

	help := table.Lookup("help")
	assert.Equal(t, Rotation{Y: 1}, help.Bones["LeftArm"])
	assert.Equal(t, DefaultDuration, help.Duration, "zero duration falls back to the default")
	assert.False(t, table.Overridden("deaf"))
	assert.Len(t, hook.AllEntries(), 2, "unknown label and invalid pose are both reported")
}

type failingLister struct{}

func (failingLister) List() ([]*store.PoseBinding, error) { return nil, errors.New("disk gone") }

func TestTable_LoadError(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	err := NewTable(labels).Load(failingLister{}, log)
	assert.ErrorContains(t, err, "disk gone")
}

func TestDecode(t *testing.T) {
	p, err := Decode(nil)
	require.NoError(t, err)
	assert.Empty(t, p.Bones)

	p, err = Decode(json.RawMessage(`{"bones":{"RightArm":{"x":-1.5}},"duration":0.25}`))
	require.NoError(t, err)
	assert.Equal(t, 0.25, p.Duration)
	assert.Equal(t, -1.5, p.Bones["RightArm"].X)

	_, err = Decode(json.RawMessage(`{"bones":`))
	assert.Error(t, err)
}

func decided(label string, confidence float64, seq uint64) pipeline.Result {
	return pipeline.Result{
		Outcome:  pipeline.OutcomeDecided,
		Decision: gesture.Decision{Label: label, Confidence: confidence, OK: true},
		Seq:      seq,
	}
}

func TestDriver_HoldsLastConfidentSign(t *testing.T) {
	d := NewDriver(NewTable(labels))

	_, ok := d.Current()
	assert.False(t, ok)

	u, ok := d.Observe(decided("thumbs_up", 0.9, 20))
	require.True(t, ok)
	assert.Equal(t, "thumbs_up", u.Label)
	assert.Equal(t, uint64(20), u.Seq)
	assert.Contains(t, u.Pose.Bones, "RightArm")

	_, ok = d.Observe(decided("thumbs_up", 0.8, 21))
	assert.False(t, ok, "same sign does not move the avatar again")

	_, ok = d.Observe(pipeline.Result{Outcome: pipeline.OutcomeUndecided, Decision: gesture.Decision{Label: "help", Confidence: 0.2}})
	assert.False(t, ok)
	_, ok = d.Observe(pipeline.Result{Outcome: pipeline.OutcomePending})
	assert.False(t, ok)

	cur, ok := d.Current()
	require.True(t, ok)
	assert.Equal(t, "thumbs_up", cur.Label)

	u, ok = d.Observe(decided("peace_sign", 0.7, 23))
	require.True(t, ok)
	assert.Equal(t, "peace_sign", u.Label)

	rest := d.Reset()
	assert.Empty(t, rest.Pose.Bones)
	_, ok = d.Current()
	assert.False(t, ok)
}
