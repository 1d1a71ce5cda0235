package codec_test

import (
	"errors"
	"testing"

	"github.com/danmuck/simbridge/internal/protocol/attribute"
	"github.com/danmuck/simbridge/internal/protocol/codec"
	"github.com/danmuck/simbridge/internal/protocol/registry"
	"github.com/danmuck/simbridge/internal/protocol/schema"
	"github.com/danmuck/simbridge/internal/scene"
	"github.com/danmuck/simbridge/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
)

func sendTable(t *testing.T, s *scene.Scene, entities ...registry.Entity) registry.Table {
	t.Helper()
	reg := registry.New()
	for _, e := range entities {
		if err := reg.RegisterSend(e); err != nil {
			t.Fatalf("register %s: %v", e.Name, err)
		}
	}
	return reg.Bindings(registry.Send, s.Bones)
}

func mustBuffers(t *testing.T, table registry.Table, catalog *attribute.Catalog) *codec.Buffers {
	t.Helper()
	buf, err := codec.NewBuffers(codec.ComputeSizes(table, catalog))
	if err != nil {
		t.Fatalf("new buffers: %v", err)
	}
	return buf
}

func TestComputeSizes(t *testing.T) {
	testlog.Start(t)
	catalog := attribute.NewCatalog()
	table := registry.Table{
		{Entity: "cube", Attribute: attribute.Position},
		{Entity: "cube", Attribute: attribute.Quaternion},
		{Entity: "cam", Attribute: attribute.RGB_128_128},
		{Entity: "cam", Attribute: attribute.Depth_128_128},
	}
	want := codec.Sizes{Double: 7, Byte: 128 * 128 * 3, UInt16: 128 * 128}
	if got := codec.ComputeSizes(table, catalog); got != want {
		t.Fatalf("sizes got=%s want=%s", got, want)
	}

	bad := append(registry.Table{}, table...)
	bad = append(bad, registry.Binding{Entity: "cube", Attribute: attribute.Invalid})
	if got := codec.ComputeSizes(bad, catalog); got != codec.UnknownSizes {
		t.Fatalf("unknown attribute should yield unknown sizes, got %s", got)
	}
	if got := codec.ComputeSizes(registry.Table{{Entity: " ", Attribute: attribute.Position}}, catalog); got.Known() {
		t.Fatalf("empty entity should yield unknown sizes, got %s", got)
	}
	if got := codec.ComputeSizes(nil, catalog); got != (codec.Sizes{}) {
		t.Fatalf("empty table got=%s", got)
	}
	if _, err := codec.NewBuffers(codec.UnknownSizes); !errors.Is(err, codec.ErrUnknownSizes) {
		t.Fatalf("expected ErrUnknownSizes, got %v", err)
	}
}

func TestEncodeCubeLayout(t *testing.T) {
	testlog.Start(t)
	catalog := attribute.NewCatalog()
	s := scene.New()
	if err := s.Add("cube", registry.KindRigidBody); err != nil {
		t.Fatalf("add: %v", err)
	}
	s.SetPosition("cube", codec.Vec3{X: 1, Y: 2, Z: 3})

	table := sendTable(t, s, registry.Entity{
		Name:       "cube",
		Attributes: []attribute.Attribute{attribute.Quaternion, attribute.Position},
	})
	buf := mustBuffers(t, table, catalog)
	if err := codec.NewEncoder(catalog).Encode(table, s, buf, 0.25); err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []float64{0.25, 1, 2, 3, 1, 0, 0, 0}
	if diff := cmp.Diff(want, buf.Doubles); diff != "" {
		t.Fatalf("doubles mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeArticulatedBonesInTableOrder(t *testing.T) {
	testlog.Start(t)
	catalog := attribute.NewCatalog()
	s := scene.New()
	if err := s.Add("arm", registry.KindArticulated, "elbow_revolute_bone", "wrist_revolute_bone", "rail_prismatic_bone"); err != nil {
		t.Fatalf("add: %v", err)
	}
	s.SetPosition("arm", codec.Vec3{X: 7})
	s.SetJointRotationDegrees(codec.JointRef{Object: "arm", Bone: "elbow_revolute_bone"}, 30)
	s.SetJointRotationDegrees(codec.JointRef{Object: "arm", Bone: "wrist_revolute_bone"}, 90)
	s.SetJointTranslation(codec.JointRef{Object: "arm", Bone: "rail_prismatic_bone"}, 12)

	table := sendTable(t, s, registry.Entity{
		Name:       "arm",
		Kind:       registry.KindArticulated,
		Attributes: []attribute.Attribute{attribute.Position, attribute.JointRvalue, attribute.JointTvalue},
	})
	buf := mustBuffers(t, table, catalog)
	if err := codec.NewEncoder(catalog).Encode(table, s, buf, 1); err != nil {
		t.Fatalf("encode: %v", err)
	}
	// wrist, rail, elbow, arm
	want := []float64{1, 90, 12, 30, 7, 0, 0}
	if diff := cmp.Diff(want, buf.Doubles); diff != "" {
		t.Fatalf("doubles mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTripThroughWireRegions(t *testing.T) {
	testlog.Start(t)
	catalog := attribute.NewCatalog()
	src := scene.New()
	dst := scene.New()
	for _, s := range []*scene.Scene{src, dst} {
		if err := s.Add("cube", registry.KindRigidBody); err != nil {
			t.Fatalf("add: %v", err)
		}
		if err := s.Add("sensor", registry.KindCustom); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	src.SetPosition("cube", codec.Vec3{X: -4, Y: 0.5, Z: 1e6})
	src.SetOrientation("cube", codec.Quat{W: 0.5, X: 0.5, Y: -0.5, Z: 0.5})
	src.SetCustom("sensor", attribute.JointLinearVelocity, []float64{3.5})

	table := sendTable(t, src,
		registry.Entity{Name: "cube", Attributes: []attribute.Attribute{attribute.Position, attribute.Quaternion}},
		registry.Entity{Name: "sensor", Kind: registry.KindCustom, Attributes: []attribute.Attribute{attribute.JointLinearVelocity}},
	)
	out := mustBuffers(t, table, catalog)
	if err := codec.NewEncoder(catalog).Encode(table, src, out, 9); err != nil {
		t.Fatalf("encode: %v", err)
	}

	d, b, u := codec.EncodeRegions(out)
	if clock, ok := codec.PeekClock(d); !ok || clock != 9 {
		t.Fatalf("peek clock got=%v ok=%v", clock, ok)
	}
	in := mustBuffers(t, table, catalog)
	if err := codec.DecodeRegions(d, b, u, in); err != nil {
		t.Fatalf("decode regions: %v", err)
	}
	if diff := cmp.Diff(out, in); diff != "" {
		t.Fatalf("buffers mismatch (-sent +received):\n%s", diff)
	}
	if err := codec.NewDecoder(catalog).Decode(table, in, dst); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if diff := cmp.Diff(src.Snapshot(catalog), dst.Snapshot(catalog)); diff != "" {
		t.Fatalf("scene mismatch (-src +dst):\n%s", diff)
	}
}

func TestImageSizeMismatchKeepsPreviousPixels(t *testing.T) {
	testlog.Start(t)
	catalog := attribute.NewCatalog()
	s := scene.New()
	if err := s.Add("cam", registry.KindCamera); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add("cube", registry.KindRigidBody); err != nil {
		t.Fatalf("add: %v", err)
	}
	table := sendTable(t, s,
		registry.Entity{Name: "cam", Kind: registry.KindCamera, Attributes: []attribute.Attribute{attribute.RGB_128_128, attribute.Position}},
		registry.Entity{Name: "cube", Attributes: []attribute.Attribute{attribute.Position}},
	)
	buf := mustBuffers(t, table, catalog)
	enc := codec.NewEncoder(catalog)
	if err := enc.Encode(table, s, buf, 0); err != nil {
		t.Fatalf("encode: %v", err)
	}
	first := append([]byte(nil), buf.Bytes...)

	s.SetRGB("cam", []byte{1, 2, 3})
	s.SetPosition("cube", codec.Vec3{X: 5})
	if err := enc.Encode(table, s, buf, 1); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if diff := cmp.Diff(first, buf.Bytes); diff != "" {
		t.Fatalf("stale pixels overwritten (-want +got):\n%s", diff)
	}
	// cube then cam
	want := []float64{1, 5, 0, 0, 0, 0, 0}
	if diff := cmp.Diff(want, buf.Doubles); diff != "" {
		t.Fatalf("cursor did not advance past image (-want +got):\n%s", diff)
	}
}

func TestMissingObjectLeavesSlotUntouched(t *testing.T) {
	testlog.Start(t)
	catalog := attribute.NewCatalog()
	s := scene.New()
	for _, name := range []string{"a", "b"} {
		if err := s.Add(name, registry.KindRigidBody); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	s.SetPosition("a", codec.Vec3{X: 1, Y: 1, Z: 1})
	s.SetPosition("b", codec.Vec3{X: 2, Y: 2, Z: 2})
	table := sendTable(t, s,
		registry.Entity{Name: "a", Attributes: []attribute.Attribute{attribute.Position}},
		registry.Entity{Name: "b", Attributes: []attribute.Attribute{attribute.Position}},
	)
	buf := mustBuffers(t, table, catalog)
	enc := codec.NewEncoder(catalog)
	if err := enc.Encode(table, s, buf, 0); err != nil {
		t.Fatalf("encode: %v", err)
	}

	s.Remove("b")
	s.SetPosition("a", codec.Vec3{X: 3, Y: 3, Z: 3})
	if err := enc.Encode(table, s, buf, 1); err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []float64{1, 2, 2, 2, 3, 3, 3}
	if diff := cmp.Diff(want, buf.Doubles); diff != "" {
		t.Fatalf("doubles mismatch (-want +got):\n%s", diff)
	}
}

func TestUnreadableValueKeepsSeededSlot(t *testing.T) {
	testlog.Start(t)
	catalog := attribute.NewCatalog()
	s := scene.New()
	if err := s.Add("sensor", registry.KindCustom); err != nil {
		t.Fatalf("add: %v", err)
	}
	table := sendTable(t, s,
		registry.Entity{Name: "sensor", Kind: registry.KindCustom, Attributes: []attribute.Attribute{attribute.JointQuaternion}},
	)
	buf := mustBuffers(t, table, catalog)
	enc := codec.NewEncoder(catalog)
	if err := enc.Seed(table, buf); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for tick := 0; tick < 2; tick++ {
		if err := enc.Encode(table, s, buf, float64(tick)); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	if diff := cmp.Diff([]float64{1, 1, 0, 0, 0}, buf.Doubles); diff != "" {
		t.Fatalf("unset value should keep the neutral quaternion (-want +got):\n%s", diff)
	}

	s.SetCustom("sensor", attribute.JointQuaternion, []float64{0, 1, 0, 0})
	if err := enc.Encode(table, s, buf, 2); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if diff := cmp.Diff([]float64{2, 0, 1, 0, 0}, buf.Doubles); diff != "" {
		t.Fatalf("doubles mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeSkipsImagesAndDanglingObjects(t *testing.T) {
	testlog.Start(t)
	catalog := attribute.NewCatalog()
	s := scene.New()
	if err := s.Add("cam", registry.KindCamera); err != nil {
		t.Fatalf("add: %v", err)
	}
	table := registry.SortTable(registry.Table{
		{Entity: "cam", Attribute: attribute.Depth_128_128},
		{Entity: "cam", Attribute: attribute.Position},
		{Entity: "gone", Attribute: attribute.Position},
	})
	buf := mustBuffers(t, table, catalog)
	copy(buf.Doubles, []float64{0, 9, 9, 9, 4, 5, 6})

	if err := codec.NewDecoder(catalog).Decode(table, buf, s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	p, _ := s.Position("cam")
	if p != (codec.Vec3{X: 4, Y: 5, Z: 6}) {
		t.Fatalf("cam position got=%+v", p)
	}
}

func TestApplyStateSkipsWrongLengths(t *testing.T) {
	testlog.Start(t)
	catalog := attribute.NewCatalog()
	s := scene.New()
	if err := s.Add("cube", registry.KindRigidBody); err != nil {
		t.Fatalf("add: %v", err)
	}
	table := registry.SortTable(registry.Table{
		{Entity: "cube", Attribute: attribute.Position},
		{Entity: "cube", Attribute: attribute.Quaternion},
	})
	resp, err := schema.ParseResponse([]byte(`{"time":0,"receive":{"cube":{"position":[1,2,3],"quaternion":[1,0]}}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n := codec.NewDecoder(catalog).ApplyState(table, resp.Receive, s); n != 1 {
		t.Fatalf("applied got=%d want=1", n)
	}
	p, _ := s.Position("cube")
	q, _ := s.Orientation("cube")
	if p != (codec.Vec3{X: 1, Y: 2, Z: 3}) || q != (codec.Quat{W: 1}) {
		t.Fatalf("unexpected state p=%+v q=%+v", p, q)
	}
}

func TestCursorOverrun(t *testing.T) {
	testlog.Start(t)
	buf, err := codec.NewBuffers(codec.Sizes{Double: 2, Byte: 1})
	if err != nil {
		t.Fatalf("new buffers: %v", err)
	}
	w := codec.NewWriter(buf)
	if err := w.PutDoubles([]float64{1, 2, 3}); !errors.Is(err, codec.ErrBufferOverrun) {
		t.Fatalf("expected overrun, got %v", err)
	}
	if err := w.PutDoubles([]float64{1, 2}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got := w.Remaining(); got != (codec.Sizes{Byte: 1}) {
		t.Fatalf("remaining got=%s", got)
	}
	r := codec.NewReader(buf)
	if _, err := r.Bytes(2); !errors.Is(err, codec.ErrBufferOverrun) {
		t.Fatalf("expected overrun, got %v", err)
	}
	if _, err := r.UInt16s(-1); !errors.Is(err, codec.ErrBufferOverrun) {
		t.Fatalf("negative take should overrun, got %v", err)
	}
}

func TestDecodeRegionsSizeMismatch(t *testing.T) {
	testlog.Start(t)
	buf, err := codec.NewBuffers(codec.Sizes{Double: 3})
	if err != nil {
		t.Fatalf("new buffers: %v", err)
	}
	err = codec.DecodeRegions(make([]byte, 8*2), nil, nil, buf)
	var mismatch codec.SizeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected SizeMismatchError, got %v", err)
	}
	if mismatch.Want.Double != 3 || mismatch.Got.Double != 1 {
		t.Fatalf("unexpected mismatch: %+v", mismatch)
	}
	if err := codec.DecodeRegions(make([]byte, 7), nil, nil, buf); err == nil {
		t.Fatalf("ragged doubles should fail")
	}
}
