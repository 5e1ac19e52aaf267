package delaytoggle_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/haukened/siteblock/internal/siteblock/common/clock"
	"github.com/haukened/siteblock/internal/siteblock/domain"
	"github.com/haukened/siteblock/internal/siteblock/repos/blocklist"
	"github.com/haukened/siteblock/internal/siteblock/repos/kvstore/memory"
	"github.com/haukened/siteblock/internal/siteblock/services/delaytoggle"
)

var _ = Describe("Turning the deletion delay off", func() {
	var (
		store *memory.Store
		clk   *clock.MockClock
		svc   *delaytoggle.Service
	)

	BeforeEach(func() {
		store = memory.New()
		clk = &clock.MockClock{CurrentTime: time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)}
		repo := blocklist.New(store, blocklist.Options{Clock: clk})
		svc = delaytoggle.New(repo, delaytoggle.Options{Clock: clk})

		_, err := svc.Enable()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	It("never disables directly from the enabled state", func() {
		_, err := svc.Disable()
		Expect(err).To(MatchError(domain.ErrInvalidTransition))

		st, err := svc.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(st.State).To(Equal(domain.FeatureEnabledIdle))
	})

	Context("after the countdown has started", func() {
		BeforeEach(func() {
			_, err := svc.StartDisable()
			Expect(err).NotTo(HaveOccurred())
		})

		It("shows the waiting dialog with hours rounded up", func() {
			clk.Advance(20*time.Hour + time.Minute)
			st, err := svc.Status()
			Expect(err).NotTo(HaveOccurred())

			d := delaytoggle.DialogFor(st, false)
			Expect(d.Variant).To(Equal(delaytoggle.VariantDisableWaiting))
			Expect(d.Message).To(ContainSubstring("wait 4 more hours"))
		})

		It("becomes ready after 24 hours and disables on confirmation", func() {
			clk.Advance(24 * time.Hour)
			st, err := svc.Status()
			Expect(err).NotTo(HaveOccurred())
			Expect(st.State).To(Equal(domain.FeatureReady))
			Expect(delaytoggle.DialogFor(st, false).Variant).To(Equal(delaytoggle.VariantDisableReady))

			st, err = svc.Disable()
			Expect(err).NotTo(HaveOccurred())
			Expect(st.State).To(Equal(domain.FeatureDisabled))
		})

		It("stays enabled when the countdown is cancelled", func() {
			clk.Advance(2 * time.Hour)
			st, err := svc.Status()
			Expect(err).NotTo(HaveOccurred())
			Expect(delaytoggle.DialogFor(st, true).Variant).To(Equal(delaytoggle.VariantConfirmCancel))

			st, err = svc.CancelDisable()
			Expect(err).NotTo(HaveOccurred())
			Expect(st.State).To(Equal(domain.FeatureEnabledIdle))

			clk.Advance(48 * time.Hour)
			st, err = svc.Status()
			Expect(err).NotTo(HaveOccurred())
			Expect(st.State).To(Equal(domain.FeatureEnabledIdle))
		})
	})
})
