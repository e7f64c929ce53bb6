package tenant

import (
	"sync"
	"testing"
	"time"

	"github.com/marcus-qen/frontdesk/internal/shared/fault"
)

func TestCreateDefaults(t *testing.T) {
	r := NewRegistry(nil)

	got, err := r.Create(Tenant{Name: "Acme Dental", MonthlyMinutes: 500})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !got.Active {
		t.Error("new tenant should be active")
	}
	if got.MaxConcurrentCalls != 10 {
		t.Errorf("MaxConcurrentCalls = %d, want default 10", got.MaxConcurrentCalls)
	}
	if got.Routing.Fallback != FallbackVoicemail {
		t.Errorf("fallback = %s, want voicemail default", got.Routing.Fallback)
	}
	if got.Hours.StartHour != 9 || got.Hours.EndHour != 17 {
		t.Errorf("hours = %d-%d, want 9-17 default", got.Hours.StartHour, got.Hours.EndHour)
	}
}

func TestCreateRejectsEmptyName(t *testing.T) {
	r := NewRegistry(nil)
	if _, err := r.Create(Tenant{Name: "  "}); !fault.Is(err, fault.Validation) {
		t.Errorf("expected validation fault, got %v", err)
	}
}

func TestAdmitCallGate(t *testing.T) {
	r := NewRegistry(nil)
	tn, _ := r.Create(Tenant{Name: "Acme", MaxConcurrentCalls: 2})

	if err := r.AdmitCall(tn.ID); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	if err := r.AdmitCall(tn.ID); err != nil {
		t.Fatalf("second admit: %v", err)
	}
	if err := r.AdmitCall(tn.ID); !fault.Is(err, fault.Quota) {
		t.Errorf("over-cap admit: want quota fault, got %v", err)
	}

	r.ReleaseCall(tn.ID)
	if err := r.AdmitCall(tn.ID); err != nil {
		t.Errorf("admit after release: %v", err)
	}
}

func TestDeactivateRefusesNewCalls(t *testing.T) {
	r := NewRegistry(nil)
	tn, _ := r.Create(Tenant{Name: "Acme"})

	if err := r.AdmitCall(tn.ID); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := r.Deactivate(tn.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	// The in-flight call's slot is untouched; only new admissions fail.
	if got := r.ActiveCalls(tn.ID); got != 1 {
		t.Errorf("active calls = %d, want 1", got)
	}
	if err := r.AdmitCall(tn.ID); !fault.Is(err, fault.Quota) {
		t.Errorf("admit on deactivated tenant: want quota fault, got %v", err)
	}
}

type recordingCascade struct {
	mu      sync.Mutex
	deleted []string
}

func (c *recordingCascade) TenantDeleted(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, id)
}

func TestDeleteCascades(t *testing.T) {
	r := NewRegistry(nil)
	casc := &recordingCascade{}
	r.RegisterCascade(casc)

	tn, _ := r.Create(Tenant{Name: "Acme"})
	if err := r.Delete(tn.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(casc.deleted) != 1 || casc.deleted[0] != tn.ID {
		t.Errorf("cascade calls = %v, want [%s]", casc.deleted, tn.ID)
	}
	if _, err := r.Get(tn.ID); !fault.Is(err, fault.NotFound) {
		t.Errorf("get after delete: want not-found, got %v", err)
	}
}

func TestDepartmentHoursOverride(t *testing.T) {
	r := NewRegistry(nil)
	tn, _ := r.Create(Tenant{Name: "Acme"})

	dept, err := r.CreateDepartment(Department{
		TenantID: tn.ID,
		Name:     "Billing",
		Hours:    &BusinessHours{Timezone: "UTC", StartHour: 8, EndHour: 12},
	})
	if err != nil {
		t.Fatalf("create department: %v", err)
	}

	h, err := r.HoursFor(tn.ID, dept.ID)
	if err != nil {
		t.Fatalf("hours: %v", err)
	}
	if h.EndHour != 12 {
		t.Errorf("department override not applied, EndHour = %d", h.EndHour)
	}

	h, err = r.HoursFor(tn.ID, "")
	if err != nil {
		t.Fatalf("tenant hours: %v", err)
	}
	if h.EndHour != 17 {
		t.Errorf("tenant default EndHour = %d, want 17", h.EndHour)
	}
}

func TestBusinessHoursOpen(t *testing.T) {
	h := BusinessHours{Timezone: "UTC", StartHour: 9, EndHour: 17}

	// Monday 2026-08-24 at 10:00 UTC.
	if !h.Open(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)) {
		t.Error("weekday mid-morning should be open")
	}
	// Monday at 17:00 is closed (end is exclusive).
	if h.Open(time.Date(2026, 8, 24, 17, 0, 0, 0, time.UTC)) {
		t.Error("end hour should be exclusive")
	}
	// Sunday 2026-08-23.
	if h.Open(time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)) {
		t.Error("sunday should be closed by default")
	}

	weekend := BusinessHours{Timezone: "UTC", StartHour: 9, EndHour: 17, Days: []time.Weekday{time.Saturday, time.Sunday}}
	if !weekend.Open(time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)) {
		t.Error("explicit sunday window should be open")
	}
}
