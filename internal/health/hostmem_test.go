package health

import "testing"

func TestCheckHostMemoryRecordsComponent(t *testing.T) {
	m := NewMonitor()
	if err := m.CheckHostMemory(80, 95); err != nil {
		t.Fatalf("CheckHostMemory: %v", err)
	}

	c, ok := m.Get("host_memory")
	if !ok {
		t.Fatal("expected host_memory component to be recorded")
	}
	if !c.Status.IsValid() {
		t.Fatalf("recorded status %q is not valid", c.Status)
	}
}

func TestCheckHostMemoryThresholds(t *testing.T) {
	cases := []struct {
		usedPercent float64
		warn, crit  float64
		want        Status
	}{
		{usedPercent: 10, warn: 80, crit: 95, want: Healthy},
		{usedPercent: 85, warn: 80, crit: 95, want: Degraded},
		{usedPercent: 99, warn: 80, crit: 95, want: Unhealthy},
	}
	for _, c := range cases {
		got := memStatus(c.usedPercent, c.warn, c.crit)
		if got != c.want {
			t.Errorf("memStatus(%v, %v, %v) = %q, want %q", c.usedPercent, c.warn, c.crit, got, c.want)
		}
	}
}
