package pv

import (
	"errors"
	"testing"
)

func testStore() *Store {
	s := NewStore()
	s.Register(Definition{
		Name: "current", Kind: KindFloat, Unit: "mA",
		Min: 0, Max: 500, Default: Float(500.0), ReadOnly: true,
	})
	s.Register(Definition{
		Name: "desired", Kind: KindFloat, Unit: "mA",
		Min: 0, Max: 500, Default: Float(500.0),
	})
	s.Register(Definition{
		Name: "mode", Kind: KindEnum,
		Labels:  []string{"Beam", "Inject", "Down"},
		Default: Enum(0),
	})
	s.Register(Definition{
		Name: "debug", Kind: KindBool, Default: Bool(false),
	})
	return s
}

func TestReadDefaults(t *testing.T) {
	s := testStore()

	v, err := s.Read("current")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.F != 500.0 {
		t.Errorf("expected 500.0, got %g", v.F)
	}

	v, err = s.Read("mode")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Index != 0 {
		t.Errorf("expected enum index 0, got %d", v.Index)
	}
}

func TestReadUnknown(t *testing.T) {
	s := testStore()

	_, err := s.Read("bogus")
	if !errors.Is(err, ErrUnknownVariable) {
		t.Errorf("expected ErrUnknownVariable, got %v", err)
	}
}

func TestWriteFloat(t *testing.T) {
	s := testStore()

	v, err := s.RequestWrite("desired", "123.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.F != 123.5 {
		t.Errorf("expected 123.5, got %g", v.F)
	}
}

func TestWriteClamped(t *testing.T) {
	s := testStore()

	v, err := s.RequestWrite("desired", "900")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.F != 500.0 {
		t.Errorf("expected clamp to 500.0, got %g", v.F)
	}

	v, _ = s.RequestWrite("desired", "-10")
	if v.F != 0.0 {
		t.Errorf("expected clamp to 0.0, got %g", v.F)
	}
}

func TestWriteReadOnly(t *testing.T) {
	s := testStore()

	v, err := s.RequestWrite("current", "10")
	if !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
	if v.F != 500.0 {
		t.Errorf("expected current unchanged at 500.0, got %g", v.F)
	}
}

func TestWriteUnparsableReverts(t *testing.T) {
	s := testStore()

	s.RequestWrite("desired", "250")
	v, err := s.RequestWrite("desired", "not-a-number")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.F != 250.0 {
		t.Errorf("expected revert to 250.0, got %g", v.F)
	}
}

func TestWriteEnumByLabel(t *testing.T) {
	s := testStore()

	v, err := s.RequestWrite("mode", "Inject")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Index != 1 {
		t.Errorf("expected index 1, got %d", v.Index)
	}
}

func TestWriteEnumByIndex(t *testing.T) {
	s := testStore()

	v, err := s.RequestWrite("mode", "2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Index != 2 {
		t.Errorf("expected index 2, got %d", v.Index)
	}

	// Float-formatted index is accepted too.
	v, _ = s.RequestWrite("mode", "1.0")
	if v.Index != 1 {
		t.Errorf("expected index 1, got %d", v.Index)
	}
}

func TestWriteEnumOutOfRangeReverts(t *testing.T) {
	s := testStore()

	s.RequestWrite("mode", "Inject")
	v, err := s.RequestWrite("mode", "7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Index != 1 {
		t.Errorf("expected revert to index 1, got %d", v.Index)
	}

	v, _ = s.RequestWrite("mode", "Bogus")
	if v.Index != 1 {
		t.Errorf("expected revert to index 1, got %d", v.Index)
	}
}

func TestWriteBool(t *testing.T) {
	s := testStore()

	v, err := s.RequestWrite("debug", "true")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Flag {
		t.Error("expected true")
	}

	v, _ = s.RequestWrite("debug", "0")
	if v.Flag {
		t.Error("expected false")
	}
}

func TestHookReverts(t *testing.T) {
	s := testStore()
	s.SetHook("mode", func(tx *Tx, cur, req Value) Value {
		if req.Index == 1 {
			return cur // Inject requests are refused
		}
		return req
	})

	v, err := s.RequestWrite("mode", "Inject")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Index != 0 {
		t.Errorf("expected hook to revert to index 0, got %d", v.Index)
	}

	v, _ = s.RequestWrite("mode", "Down")
	if v.Index != 2 {
		t.Errorf("expected index 2, got %d", v.Index)
	}
}

func TestHookWritesOtherVariables(t *testing.T) {
	s := testStore()
	s.SetHook("mode", func(tx *Tx, cur, req Value) Value {
		if req.Index == 2 {
			tx.SetBool("debug", true)
		}
		return req
	})

	s.RequestWrite("mode", "Down")
	v, _ := s.Read("debug")
	if !v.Flag {
		t.Error("expected hook side effect on debug")
	}
}

func TestUpdateBypassesHooksAndReadOnly(t *testing.T) {
	s := testStore()
	s.SetHook("mode", func(tx *Tx, cur, req Value) Value { return cur })

	s.Update(func(tx *Tx) {
		tx.SetFloat("current", 42.0)
		tx.SetEnum("mode", 1)
	})

	v, _ := s.Read("current")
	if v.F != 42.0 {
		t.Errorf("expected 42.0, got %g", v.F)
	}
	v, _ = s.Read("mode")
	if v.Index != 1 {
		t.Errorf("expected index 1, got %d", v.Index)
	}
}

func TestNamesOrder(t *testing.T) {
	s := testStore()

	names := s.Names()
	want := []string{"current", "desired", "mode", "debug"}
	if len(names) != len(want) {
		t.Fatalf("expected %d names, got %d", len(want), len(names))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestSnapshot(t *testing.T) {
	s := testStore()
	s.RequestWrite("desired", "300")

	snap := s.Snapshot()
	if len(snap) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(snap))
	}
	if snap["desired"].F != 300.0 {
		t.Errorf("expected 300.0, got %g", snap["desired"].F)
	}
}

func TestFormat(t *testing.T) {
	s := testStore()

	def, _ := s.Definition("mode")
	if got := def.Format(Enum(2)); got != "Down" {
		t.Errorf("expected Down, got %q", got)
	}

	def, _ = s.Definition("desired")
	if got := def.Format(Float(1.5)); got != "1.5" {
		t.Errorf("expected 1.5, got %q", got)
	}

	def, _ = s.Definition("debug")
	if got := def.Format(Bool(true)); got != "true" {
		t.Errorf("expected true, got %q", got)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	s := testStore()

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	s.Register(Definition{Name: "mode", Kind: KindEnum})
}
