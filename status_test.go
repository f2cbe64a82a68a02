package svchost

import "testing"

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		status        ServiceStatus
		transitioning bool
		canStart      bool
		canStop       bool
		canRestart    bool
		canUninstall  bool
	}{
		{StatusNotInstalled, false, true, false, false, true},
		{StatusStopped, false, true, false, false, true},
		{StatusRunning, false, false, true, true, false},
		{StatusStarting, true, false, true, false, false},
		{StatusStopping, true, false, false, false, false},
		{StatusPaused, false, false, false, false, false},
		{StatusError, false, false, false, false, true},
		{StatusInstalling, true, false, false, false, false},
		{StatusUninstalling, true, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			if got := tt.status.IsTransitioning(); got != tt.transitioning {
				t.Errorf("IsTransitioning() = %v, want %v", got, tt.transitioning)
			}
			if got := tt.status.CanStart(); got != tt.canStart {
				t.Errorf("CanStart() = %v, want %v", got, tt.canStart)
			}
			if got := tt.status.CanStop(); got != tt.canStop {
				t.Errorf("CanStop() = %v, want %v", got, tt.canStop)
			}
			if got := tt.status.CanRestart(); got != tt.canRestart {
				t.Errorf("CanRestart() = %v, want %v", got, tt.canRestart)
			}
			if got := tt.status.CanUninstall(); got != tt.canUninstall {
				t.Errorf("CanUninstall() = %v, want %v", got, tt.canUninstall)
			}
		})
	}
}

func TestStatusTextRoundTrip(t *testing.T) {
	for _, status := range []ServiceStatus{
		StatusNotInstalled, StatusStopped, StatusRunning, StatusStarting,
		StatusStopping, StatusPaused, StatusError, StatusInstalling,
		StatusUninstalling,
	} {
		text, err := status.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v): %v", status, err)
		}

		var decoded ServiceStatus
		if err := decoded.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", text, err)
		}
		if decoded != status {
			t.Errorf("round trip %v -> %q -> %v", status, text, decoded)
		}
	}

	var s ServiceStatus
	if err := s.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("expected error for unknown status text")
	}
}
