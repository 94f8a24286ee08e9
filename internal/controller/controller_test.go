package controller

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bmpc/esp8266-sprinkler-controller/internal/cron"
	"github.com/bmpc/esp8266-sprinkler-controller/internal/gpio"
	"github.com/bmpc/esp8266-sprinkler-controller/internal/logic"
	"github.com/bmpc/esp8266-sprinkler-controller/internal/metrics"
	"github.com/bmpc/esp8266-sprinkler-controller/internal/mqtt"
	"github.com/bmpc/esp8266-sprinkler-controller/internal/status"
	"github.com/bmpc/esp8266-sprinkler-controller/internal/store"
)

var (
	fiveAM = time.Date(2026, 5, 1, 5, 0, 0, 0, time.UTC)
	sixAM  = time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)
)

func defaultZones() []logic.Zone {
	return []logic.Zone{
		{ID: 1, Pin: 17, Duration: 300 * time.Second},
		{ID: 2, Pin: 27, Cron: "0 6 * * *", Duration: 600 * time.Second},
		{ID: 3, Pin: 22, Duration: 900 * time.Second},
	}
}

type harness struct {
	ctrl    *Controller
	pub     *mqtt.FakePublisher
	act     *gpio.FakeActuator
	medium  *store.MemoryMedium
	store   *store.Gateway
	metrics *metrics.Metrics
	tracker *status.Tracker
}

func setup(t *testing.T, zones []logic.Zone) *harness {
	t.Helper()
	st, err := logic.NewState(zones)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	return setupState(t, st)
}

func setupState(t *testing.T, st *logic.State) *harness {
	t.Helper()
	h := &harness{
		pub:     mqtt.NewFakePublisher(),
		act:     &gpio.FakeActuator{},
		medium:  &store.MemoryMedium{},
		metrics: metrics.New(),
		tracker: status.NewTracker(fiveAM, status.Config{}),
	}
	h.store = store.NewGateway(h.medium)
	h.ctrl = New(Deps{
		Store:     h.store,
		Publisher: h.pub,
		Actuator:  h.act,
		Metrics:   h.metrics,
		Tracker:   h.tracker,
		Cron:      cron.New(time.UTC),
		Log:       zerolog.Nop(),
		Tolerance: logic.DefaultTolerance(),
		MaxSleep:  3 * time.Hour,
	}, st)
	return h
}

func (h *harness) zoneStates(id int) []string {
	return h.pub.On(h.pub.Topics.ZoneState(id))
}

func (h *harness) activeCount() int {
	n := 0
	for _, z := range h.ctrl.State().Zones.Zones() {
		if z.Active {
			n++
		}
	}
	return n
}

func TestScheduledCycle(t *testing.T) {
	h := setup(t, defaultZones())

	ev := h.ctrl.Pass(fiveAM)
	if ev.Type != logic.EventStart || ev.ZoneID != 2 || !ev.FireAt.Equal(sixAM) {
		t.Fatalf("expected START zone 2 at 06:00, got %s", ev)
	}
	if d := h.ctrl.PlanSleep(fiveAM); d != time.Hour {
		t.Errorf("sleep: got %v, want 1h", d)
	}

	// wake at the scheduled time
	ev = h.ctrl.Pass(sixAM)
	calls := h.act.Recorded()
	if len(calls) != 1 || calls[0] != (gpio.Call{ZoneID: 2, Pin: 27, Active: true}) {
		t.Fatalf("actuator calls: %+v", calls)
	}
	if got := h.zoneStates(2); len(got) != 1 || got[0] != "on" {
		t.Errorf("zone2 state publishes: %v", got)
	}
	z, _ := h.ctrl.State().Zones.ByID(2)
	if z.ActiveDuration != 600*time.Second {
		t.Errorf("active duration: %v", z.ActiveDuration)
	}
	if ev.Type != logic.EventStop || !ev.FireAt.Equal(sixAM.Add(10*time.Minute)) {
		t.Errorf("expected STOP at 06:10, got %s", ev)
	}

	// wake at the stop time
	ev = h.ctrl.Pass(sixAM.Add(10 * time.Minute))
	if h.activeCount() != 0 {
		t.Error("zone 2 should have stopped")
	}
	if got := h.zoneStates(2); len(got) != 2 || got[1] != "off" {
		t.Errorf("zone2 state publishes: %v", got)
	}
	if !ev.FireAt.Equal(sixAM.Add(24 * time.Hour)) {
		t.Errorf("next start should be tomorrow 06:00, got %s", ev)
	}
}

func TestOverdueZoneStoppedAfterLongSleep(t *testing.T) {
	h := setup(t, defaultZones())
	h.ctrl.Pass(sixAM) // nothing pending yet, schedules tomorrow

	if err := h.ctrl.HandleCommand(logic.SetMode{Mode: logic.ModeInteractive}, sixAM); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.HandleCommand(logic.StartZone{ZoneID: 1}, sixAM); err != nil {
		t.Fatal(err)
	}
	// woke long after the 300s run should have ended
	h.ctrl.Pass(sixAM.Add(301 * time.Second))
	if h.activeCount() != 0 {
		t.Error("overdue zone should be stopped")
	}
	if got := h.zoneStates(1); len(got) != 2 || got[1] != "off" {
		t.Errorf("zone1 state publishes: %v", got)
	}
}

func TestStaleStartDiscarded(t *testing.T) {
	h := setup(t, defaultZones())
	h.ctrl.Pass(fiveAM)

	h.ctrl.Pass(sixAM.Add(45 * time.Second))
	if len(h.act.Recorded()) != 0 {
		t.Errorf("stale start must not actuate: %+v", h.act.Recorded())
	}
	found := false
	for _, l := range h.pub.Logs() {
		if strings.Contains(l, "out-of-sync") {
			found = true
		}
	}
	if !found {
		t.Errorf("stale discard not reported, logs: %v", h.pub.Logs())
	}
	if c := h.tracker.Snapshot().Counts; c.Discarded != 1 {
		t.Errorf("discarded count: %d", c.Discarded)
	}
}

func TestDisabledStartDiscarded(t *testing.T) {
	h := setup(t, defaultZones())
	h.ctrl.Pass(fiveAM)
	if err := h.ctrl.HandleCommand(logic.SetEnabled{Enabled: false}, fiveAM); err != nil {
		t.Fatal(err)
	}
	if got := h.pub.On(h.pub.Topics.EnabledState()); len(got) != 1 || got[0] != "off" {
		t.Errorf("enabled state publishes: %v", got)
	}

	h.ctrl.Pass(sixAM)
	if h.activeCount() != 0 {
		t.Error("disabled controller must not start zones")
	}
}

func TestAdHocStartPreempts(t *testing.T) {
	h := setup(t, defaultZones())
	h.ctrl.HandleCommand(logic.SetMode{Mode: logic.ModeInteractive}, fiveAM)
	if got := h.pub.On(h.pub.Topics.ModeState()); len(got) != 1 || got[0] != "on" {
		t.Errorf("mode state publishes: %v", got)
	}

	h.ctrl.HandleCommand(logic.StartZone{ZoneID: 1}, fiveAM)
	h.ctrl.HandleCommand(logic.StartZone{ZoneID: 3, Duration: 120 * time.Second}, fiveAM.Add(time.Minute))

	want := []gpio.Call{
		{ZoneID: 1, Pin: 17, Active: true},
		{ZoneID: 1, Pin: 17, Active: false},
		{ZoneID: 3, Pin: 22, Active: true},
	}
	calls := h.act.Recorded()
	if len(calls) != len(want) {
		t.Fatalf("calls: %+v", calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d: got %+v, want %+v", i, calls[i], want[i])
		}
	}
	z, _ := h.ctrl.State().Zones.ByID(3)
	if z.ActiveDuration != 120*time.Second {
		t.Errorf("zone 3 duration: %v", z.ActiveDuration)
	}
	if p := h.ctrl.State().Pending; p.Type != logic.EventStop || p.ZoneID != 3 {
		t.Errorf("pending should be zone 3 stop, got %s", p)
	}
}

func TestLeavingInteractiveStopsZones(t *testing.T) {
	h := setup(t, defaultZones())
	h.ctrl.HandleCommand(logic.SetMode{Mode: logic.ModeInteractive}, fiveAM)
	h.ctrl.HandleCommand(logic.StartZone{ZoneID: 1}, fiveAM)

	h.ctrl.HandleCommand(logic.SetMode{Mode: logic.ModeBackground}, fiveAM.Add(time.Minute))
	if h.activeCount() != 0 {
		t.Error("leaving interactive mode should stop all zones")
	}
	if got := h.pub.On(h.pub.Topics.ModeState()); len(got) != 2 || got[1] != "off" {
		t.Errorf("mode state publishes: %v", got)
	}
	if p := h.ctrl.State().Pending; p.Type != logic.EventStart || p.ZoneID != 2 {
		t.Errorf("pending should be the next scheduled start, got %s", p)
	}
}

func TestQueryRepublishesState(t *testing.T) {
	h := setup(t, defaultZones())
	h.ctrl.HandleCommand(logic.SetMode{Mode: logic.ModeInteractive}, fiveAM)
	writes := h.medium.Writes()

	h.ctrl.HandleCommand(logic.QueryZone{ZoneID: 2}, fiveAM)
	if got := h.zoneStates(2); len(got) != 1 || got[0] != "off" {
		t.Errorf("query should publish zone state, got %v", got)
	}
	if h.medium.Writes() != writes {
		t.Error("query should not persist")
	}
}

func TestConfigureReschedules(t *testing.T) {
	h := setup(t, defaultZones())
	h.ctrl.Pass(fiveAM)

	err := h.ctrl.HandleCommand(logic.ConfigureZone{ZoneID: 1, Cron: "30 5 * * *", Duration: 60 * time.Second}, fiveAM)
	if err != nil {
		t.Fatal(err)
	}
	p := h.ctrl.State().Pending
	if p.ZoneID != 1 || !p.FireAt.Equal(fiveAM.Add(30*time.Minute)) || p.Duration != time.Minute {
		t.Errorf("pending after config: %s (%v)", p, p.Duration)
	}

	loaded, err := h.store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	z, _ := loaded.Zones.ByID(1)
	if z.Cron != "30 5 * * *" {
		t.Errorf("config not persisted: %s", z)
	}
}

func TestRejectedConfigReported(t *testing.T) {
	h := setup(t, defaultZones())
	long := strings.Repeat("*", logic.MaxCronLength+1)

	err := h.ctrl.HandleCommand(logic.ConfigureZone{ZoneID: 2, Cron: long, Duration: time.Minute}, fiveAM)
	var cfgErr *logic.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	z, _ := h.ctrl.State().Zones.ByID(2)
	if z.Cron != "0 6 * * *" {
		t.Errorf("prior config should be kept, got %q", z.Cron)
	}
	if logs := h.pub.Logs(); len(logs) != 1 || !strings.Contains(logs[0], "invalid zone config") {
		t.Errorf("rejection not published: %v", logs)
	}
}

func TestBrokenScheduleSkipped(t *testing.T) {
	zones := defaultZones()
	zones[0].Cron = "not a cron"
	h := setup(t, zones)

	ev := h.ctrl.Pass(fiveAM)
	if ev.ZoneID != 2 {
		t.Errorf("zone 2 should still be scheduled, got %s", ev)
	}
}

func TestFallBackIfIdle(t *testing.T) {
	zones := defaultZones()
	zones[1].Cron = ""
	h := setup(t, zones)

	h.ctrl.Pass(fiveAM)
	if !h.ctrl.FallBackIfIdle(fiveAM) {
		t.Fatal("expected fallback to interactive")
	}
	if h.ctrl.Mode() != logic.ModeInteractive {
		t.Errorf("mode: %s", h.ctrl.Mode())
	}
	if h.ctrl.FallBackIfIdle(fiveAM) {
		t.Error("already interactive, no second fallback")
	}
}

func TestNoFallBackWithSchedule(t *testing.T) {
	h := setup(t, defaultZones())
	h.ctrl.Pass(fiveAM)
	if h.ctrl.FallBackIfIdle(fiveAM) {
		t.Error("a scheduled device should stay in background mode")
	}
}

func TestBoundaryFailuresDoNotStopProcessing(t *testing.T) {
	h := setup(t, defaultZones())
	h.pub.PublishError = errors.New("broker down")
	h.act.ApplyError = errors.New("driver fault")
	h.medium.WriteErr = errors.New("disk full")

	h.ctrl.Pass(fiveAM)
	h.ctrl.Pass(sixAM)

	if h.activeCount() != 1 {
		t.Error("state should advance even when boundaries fail")
	}
}

func TestAnnounce(t *testing.T) {
	h := setup(t, defaultZones())
	h.ctrl.Announce(fiveAM)

	logs := h.pub.Logs()
	want := "### Started at: '1777611600' ###"
	if len(logs) != 1 || logs[0] != want {
		t.Errorf("banner: got %v, want %q", logs, want)
	}
	if got := h.pub.On(h.pub.Topics.ModeState()); len(got) != 1 || got[0] != "off" {
		t.Errorf("mode state at boot: %v", got)
	}
}

func TestPlanSleepReportsDecision(t *testing.T) {
	h := setup(t, defaultZones())
	h.ctrl.Pass(fiveAM)
	h.pub.Reset()

	h.ctrl.PlanSleep(fiveAM.Add(30 * time.Minute))
	logs := h.pub.Logs()
	if len(logs) != 1 || !strings.Contains(logs[0], "Sleeping for 1800s") {
		t.Errorf("sleep decision log: %v", logs)
	}
	if nw := h.tracker.Snapshot().NextWake; !nw.Equal(sixAM) {
		t.Errorf("next wake: %v", nw)
	}
}

func TestShutdownStopsZones(t *testing.T) {
	h := setup(t, defaultZones())
	h.ctrl.HandleCommand(logic.SetMode{Mode: logic.ModeInteractive}, fiveAM)
	h.ctrl.HandleCommand(logic.StartZone{ZoneID: 2}, fiveAM)

	h.ctrl.Shutdown(fiveAM.Add(time.Minute))
	if h.activeCount() != 0 {
		t.Error("shutdown should stop all zones")
	}
	loaded, err := h.store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if _, active := loaded.ActiveZone(); active {
		t.Error("stopped state should be persisted")
	}
}

func TestRestore(t *testing.T) {
	log := zerolog.Nop()

	t.Run("not found uses defaults", func(t *testing.T) {
		g := store.NewGateway(&store.MemoryMedium{})
		st, ok, err := Restore(g, defaultZones(), log)
		if err != nil || ok {
			t.Fatalf("got ok=%t err=%v", ok, err)
		}
		if !st.Enabled || st.Mode != logic.ModeBackground {
			t.Errorf("defaults: %+v", st)
		}
	})

	t.Run("snapshot wins but pins follow config", func(t *testing.T) {
		saved, _ := logic.NewState(defaultZones())
		saved.Mode = logic.ModeInteractive
		z, _ := saved.Zones.ByID(1)
		z.Cron = "15 7 * * *"
		z.Pin = 4
		g := store.NewGateway(&store.MemoryMedium{})
		if err := g.Save(saved); err != nil {
			t.Fatal(err)
		}

		st, ok, err := Restore(g, defaultZones(), log)
		if err != nil || !ok {
			t.Fatalf("got ok=%t err=%v", ok, err)
		}
		if st.Mode != logic.ModeInteractive {
			t.Errorf("mode not restored")
		}
		r, _ := st.Zones.ByID(1)
		if r.Cron != "15 7 * * *" || r.Pin != 17 {
			t.Errorf("zone 1: %s", r)
		}
	})

	t.Run("zone count change discards snapshot", func(t *testing.T) {
		saved, _ := logic.NewState(defaultZones()[:2])
		g := store.NewGateway(&store.MemoryMedium{})
		g.Save(saved)

		st, ok, err := Restore(g, defaultZones(), log)
		if err != nil || ok {
			t.Fatalf("got ok=%t err=%v", ok, err)
		}
		if st.Zones.Len() != 3 {
			t.Errorf("zones: %d", st.Zones.Len())
		}
	})

	t.Run("corrupt snapshot uses defaults", func(t *testing.T) {
		m := &store.MemoryMedium{}
		m.Set([]byte{0x71, 0, 1, 2, 3})
		_, ok, err := Restore(store.NewGateway(m), defaultZones(), log)
		if err != nil || ok {
			t.Fatalf("got ok=%t err=%v", ok, err)
		}
	})

	t.Run("invalid defaults", func(t *testing.T) {
		_, _, err := Restore(store.NewGateway(&store.MemoryMedium{}), nil, log)
		if err == nil {
			t.Error("expected error for empty zone set")
		}
	})
}

func TestPersistedStateSurvivesRestart(t *testing.T) {
	h := setup(t, defaultZones())
	h.ctrl.Pass(fiveAM)
	h.ctrl.Pass(sixAM)

	st, ok, err := Restore(h.store, defaultZones(), zerolog.Nop())
	if err != nil || !ok {
		t.Fatalf("Restore: ok=%t err=%v", ok, err)
	}
	z, _ := st.Zones.ByID(2)
	if !z.Active || !z.StartedAt.Equal(sixAM) {
		t.Errorf("restored zone 2: %s", z)
	}

	// a new process picks up where the old one left off
	h2 := setupState(t, st)
	h2.ctrl.Pass(sixAM.Add(10 * time.Minute))
	if h2.activeCount() != 0 {
		t.Error("restarted controller should stop the zone on time")
	}
}

// restoredDueStart is the state after a reboot with today's zone 2 run pending.
func restoredDueStart(t *testing.T) *logic.State {
	t.Helper()
	st, err := logic.NewState(defaultZones())
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	st.Pending = logic.PendingEvent{ZoneID: 2, Type: logic.EventStart, FireAt: sixAM, Duration: 600 * time.Second}
	return st
}

func TestCommandKeepsDueStart(t *testing.T) {
	tests := []struct {
		name string
		cmd  logic.Command
	}{
		{"enabled", logic.SetEnabled{Enabled: true}},
		{"mode", logic.SetMode{Mode: logic.ModeInteractive}},
		{"other zone config", logic.ConfigureZone{ZoneID: 1, Cron: "0 7 * * *", Duration: time.Minute}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setupState(t, restoredDueStart(t))

			if err := h.ctrl.HandleCommand(tt.cmd, sixAM.Add(5*time.Second)); err != nil {
				t.Fatal(err)
			}
			if p := h.ctrl.State().Pending; p.ZoneID != 2 || !p.FireAt.Equal(sixAM) {
				t.Fatalf("due start replaced: %s", p)
			}

			h.ctrl.Pass(sixAM.Add(6 * time.Second))
			z, _ := h.ctrl.State().Zones.ByID(2)
			if !z.Active || z.ActiveDuration != 600*time.Second {
				t.Errorf("zone 2 should be running: %s", z)
			}
		})
	}
}

func TestReconfigureReplacesDueStart(t *testing.T) {
	h := setupState(t, restoredDueStart(t))

	cmd := logic.ConfigureZone{ZoneID: 2, Cron: "0 7 * * *", Duration: time.Minute}
	if err := h.ctrl.HandleCommand(cmd, sixAM.Add(5*time.Second)); err != nil {
		t.Fatal(err)
	}
	p := h.ctrl.State().Pending
	if p.ZoneID != 2 || !p.FireAt.Equal(sixAM.Add(time.Hour)) || p.Duration != time.Minute {
		t.Errorf("pending should follow the new schedule: %s", p)
	}
}

func TestCommandRecomputesFutureStart(t *testing.T) {
	h := setupState(t, restoredDueStart(t))

	// well before the window the pending start is recomputed as usual
	cmd := logic.ConfigureZone{ZoneID: 1, Cron: "30 5 * * *", Duration: time.Minute}
	h.ctrl.HandleCommand(cmd, fiveAM)
	if p := h.ctrl.State().Pending; p.ZoneID != 1 {
		t.Errorf("earlier schedule should win: %s", p)
	}
}

func TestRestoreLogsScheduleOverride(t *testing.T) {
	saved, _ := logic.NewState(defaultZones())
	z, _ := saved.Zones.ByID(2)
	z.Cron = "0 5 * * *"
	g := store.NewGateway(&store.MemoryMedium{})
	if err := g.Save(saved); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	st, ok, err := Restore(g, defaultZones(), zerolog.New(&buf))
	if err != nil || !ok {
		t.Fatalf("got ok=%t err=%v", ok, err)
	}
	if r, _ := st.Zones.ByID(2); r.Cron != "0 5 * * *" {
		t.Errorf("stored schedule should win, got %q", r.Cron)
	}
	out := buf.String()
	if !strings.Contains(out, "stored schedule overrides config file") || !strings.Contains(out, `"zone":2`) {
		t.Errorf("override not logged: %s", out)
	}
	if strings.Contains(out, `"zone":1`) {
		t.Errorf("unchanged zone logged: %s", out)
	}
}
