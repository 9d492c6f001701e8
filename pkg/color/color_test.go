package color

import "testing"

func restore(t *testing.T) {
	enabled := state.enabled.Load()
	overridden := state.overridden.Load()
	t.Cleanup(func() {
		state.enabled.Store(enabled)
		state.overridden.Store(overridden)
	})
}

func TestEnableDisable(t *testing.T) {
	restore(t)

	Enable()
	if !Enabled() {
		t.Error("expected colors to be enabled")
	}
	Disable()
	if Enabled() {
		t.Error("expected colors to be disabled")
	}
}

func TestInit_NoColorFlag(t *testing.T) {
	restore(t)
	state.overridden.Store(false)

	Init(true)
	if Enabled() {
		t.Error("expected --no-color to disable colors")
	}
}

func TestInit_NoColorEnv(t *testing.T) {
	restore(t)
	state.overridden.Store(false)
	t.Setenv("NO_COLOR", "1")

	Init(false)
	if Enabled() {
		t.Error("expected NO_COLOR to disable colors")
	}
}

func TestInit_RespectsOverride(t *testing.T) {
	restore(t)
	Enable()

	Init(true)
	if !Enabled() {
		t.Error("explicit Enable should win over Init")
	}
}

func TestWrap(t *testing.T) {
	restore(t)

	Disable()
	if got := Error("boom"); got != "boom" {
		t.Errorf("disabled: got %q", got)
	}

	Enable()
	if got := Success("ok"); got != Green+"ok"+Reset {
		t.Errorf("enabled: got %q", got)
	}
	if got := Warningf("%d warnings", 2); got != Yellow+"2 warnings"+Reset {
		t.Errorf("warningf: got %q", got)
	}
}
