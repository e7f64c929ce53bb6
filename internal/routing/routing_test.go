package routing_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/marcus-qen/frontdesk/internal/directory"
	"github.com/marcus-qen/frontdesk/internal/routing"
	"github.com/marcus-qen/frontdesk/internal/tenant"
)

// scriptedOfferer answers per-agent from a fixed script and records the
// order agents were rung in.
type scriptedOfferer struct {
	mu      sync.Mutex
	answers map[string]bool
	errs    map[string]error
	rang    []string
}

func (s *scriptedOfferer) Offer(ctx context.Context, a directory.Agent, req routing.Request) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rang = append(s.rang, a.ID)
	if err, ok := s.errs[a.ID]; ok {
		return false, err
	}
	return s.answers[a.ID], nil
}

var _ = Describe("Engine.Resolve", func() {
	var (
		reg     *tenant.Registry
		dir     *directory.Directory
		offerer *scriptedOfferer
		tn      *tenant.Tenant
		noon    time.Time
	)

	BeforeEach(func() {
		noon = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) // Monday
		reg = tenant.NewRegistry(nil)
		dir = directory.New(nil)
		offerer = &scriptedOfferer{answers: map[string]bool{}, errs: map[string]error{}}

		var err error
		tn, err = reg.Create(tenant.Tenant{Name: "Acme Dental"})
		Expect(err).NotTo(HaveOccurred())
	})

	addAgent := func(id string, weight int) {
		_, err := dir.Register(directory.Agent{
			ID: id, TenantID: tn.ID, Name: id,
			Status: directory.StatusAvailable, Capacity: 1, Weight: weight,
		})
		Expect(err).NotTo(HaveOccurred())
	}

	resolve := func() routing.Decision {
		e := routing.NewEngine(dir, reg, offerer, nil)
		d, err := e.Resolve(context.Background(), routing.Request{
			TenantID: tn.ID, CallID: "call-1", At: noon,
		})
		Expect(err).NotTo(HaveOccurred())
		return d
	}

	It("bridges to the first accepting agent and reserves their capacity", func() {
		addAgent("a-1", 0)
		offerer.answers["a-1"] = true

		d := resolve()
		Expect(d.Kind).To(Equal(routing.DecideAgent))
		Expect(d.Agent.ID).To(Equal("a-1"))

		got, err := dir.Get(tn.ID, "a-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Load).To(Equal(1), "accepted agent keeps the reservation")
	})

	It("walks candidates in weight order on decline", func() {
		addAgent("a-low", 1)
		addAgent("a-high", 5)
		offerer.answers["a-high"] = false
		offerer.answers["a-low"] = true

		d := resolve()
		Expect(d.Kind).To(Equal(routing.DecideAgent))
		Expect(d.Agent.ID).To(Equal("a-low"))
		Expect(offerer.rang).To(Equal([]string{"a-high", "a-low"}))
		Expect(d.Attempts).To(HaveLen(2))
		Expect(d.Attempts[0].Result).To(Equal(routing.AttemptDeclined))

		got, _ := dir.Get(tn.ID, "a-high")
		Expect(got.Load).To(Equal(0), "declined agent gets capacity back")
	})

	It("falls back to voicemail when all attempts are exhausted", func() {
		addAgent("a-1", 0)
		addAgent("a-2", 1)

		d := resolve()
		Expect(d.Kind).To(Equal(routing.DecideVoicemail))
		Expect(d.Attempts).To(HaveLen(2))
	})

	It("honors the tenant callback fallback", func() {
		tn.Routing.Fallback = tenant.FallbackCallback
		_, err := reg.Update(*tn)
		Expect(err).NotTo(HaveOccurred())

		d := resolve()
		Expect(d.Kind).To(Equal(routing.DecideCallback))
	})

	It("skips agents without the required skill", func() {
		addAgent("a-plain", 2)
		_, err := dir.Register(directory.Agent{
			ID: "a-es", TenantID: tn.ID, Name: "a-es",
			Status: directory.StatusAvailable, Capacity: 1, Weight: 1,
			Skills: []string{"spanish"},
		})
		Expect(err).NotTo(HaveOccurred())
		offerer.answers["a-es"] = true

		e := routing.NewEngine(dir, reg, offerer, nil)
		d, err := e.Resolve(context.Background(), routing.Request{
			TenantID: tn.ID, CallID: "call-1", Skill: "spanish", At: noon,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Agent.ID).To(Equal("a-es"))
		Expect(offerer.rang).To(Equal([]string{"a-es"}))
	})

	It("records offer errors and keeps trying", func() {
		addAgent("a-flaky", 3)
		addAgent("a-solid", 1)
		offerer.errs["a-flaky"] = errors.New("sip trunk reset")
		offerer.answers["a-solid"] = true

		d := resolve()
		Expect(d.Kind).To(Equal(routing.DecideAgent))
		Expect(d.Attempts[0].Result).To(Equal(routing.AttemptError))
	})

	It("goes straight to fallback outside business hours", func() {
		addAgent("a-1", 0)
		offerer.answers["a-1"] = true

		e := routing.NewEngine(dir, reg, offerer, nil)
		sunday := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
		d, err := e.Resolve(context.Background(), routing.Request{
			TenantID: tn.ID, CallID: "call-1", At: sunday,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Kind).To(Equal(routing.DecideVoicemail))
		Expect(offerer.rang).To(BeEmpty(), "no agent is rung when closed")
	})

	It("caps attempts at the tenant's max", func() {
		for _, id := range []string{"a-1", "a-2", "a-3", "a-4", "a-5"} {
			addAgent(id, 0)
		}

		d := resolve()
		Expect(d.Kind).To(Equal(routing.DecideVoicemail))
		Expect(d.Attempts).To(HaveLen(3), "default max transfer attempts")
	})
})
