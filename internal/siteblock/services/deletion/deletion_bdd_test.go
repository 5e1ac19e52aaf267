package deletion_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/haukened/siteblock/internal/siteblock/common/clock"
	"github.com/haukened/siteblock/internal/siteblock/domain"
	"github.com/haukened/siteblock/internal/siteblock/repos/blocklist"
	"github.com/haukened/siteblock/internal/siteblock/repos/kvstore/memory"
	"github.com/haukened/siteblock/internal/siteblock/services/deletion"
)

var _ = Describe("Removing a blocked site", func() {
	var (
		store *memory.Store
		repo  *blocklist.Repository
		clk   *clock.MockClock
		svc   *deletion.Service
	)

	BeforeEach(func() {
		store = memory.New()
		clk = &clock.MockClock{CurrentTime: time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)}
		repo = blocklist.New(store, blocklist.Options{Clock: clk})
		svc = deletion.New(repo, deletion.Options{Clock: clk})

		_, err := repo.UpdateDelayState(func(domain.DelayToggleState) (domain.DelayToggleState, error) {
			return domain.DelayToggleState{Enabled: true}, nil
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = repo.Add("reddit.com")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	Context("when the deletion delay is enabled and the grace period is over", func() {
		BeforeEach(func() {
			clk.Advance(10 * time.Minute)
		})

		It("asks for a scheduled removal and reports the missed grace", func() {
			out, err := svc.RequestRemoval("reddit.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(deletion.NeedsSchedule{Identifier: "reddit.com", GraceMissedBy: 5 * time.Minute}))
		})

		It("keeps the site blocked until the countdown elapses", func() {
			_, err := svc.ConfirmSchedule("reddit.com")
			Expect(err).NotTo(HaveOccurred())

			clk.Advance(12 * time.Hour)
			out, err := svc.RequestRemoval("reddit.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(BeAssignableToTypeOf(deletion.Waiting{}))
			Expect(out.(deletion.Waiting).HoursLeft()).To(Equal(12))

			ids, err := repo.Identifiers()
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(ConsistOf("reddit.com"))
		})

		It("removes the site once a sweep runs after 24 hours", func() {
			_, err := svc.ConfirmSchedule("reddit.com")
			Expect(err).NotTo(HaveOccurred())

			clk.Advance(24 * time.Hour)
			removed, err := svc.SweepExpired()
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(ConsistOf("reddit.com"))

			ids, err := repo.Identifiers()
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(BeEmpty())
			pending, err := repo.Pending()
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(BeEmpty())
		})

		It("keeps the site when the countdown is cancelled", func() {
			_, err := svc.ConfirmSchedule("reddit.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(svc.CancelWaiting("reddit.com")).To(BeTrue())

			clk.Advance(48 * time.Hour)
			removed, err := svc.SweepExpired()
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(BeEmpty())

			ids, err := repo.Identifiers()
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(ConsistOf("reddit.com"))
		})

		It("only cancels immediately in debug mode", func() {
			_, err := svc.ConfirmSchedule("reddit.com")
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.CancelImmediately("reddit.com")
			Expect(err).To(MatchError(domain.ErrDebugModeRequired))

			Expect(repo.SetDebugMode(true)).To(Succeed())
			Expect(svc.CancelImmediately("reddit.com")).To(BeTrue())
		})
	})

	Context("when the deletion delay is disabled", func() {
		BeforeEach(func() {
			_, err := repo.UpdateDelayState(func(domain.DelayToggleState) (domain.DelayToggleState, error) {
				return domain.DelayToggleState{}, nil
			})
			Expect(err).NotTo(HaveOccurred())
			clk.Advance(72 * time.Hour)
		})

		It("removes the site immediately", func() {
			out, err := svc.RequestRemoval("reddit.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(deletion.Removed{Identifier: "reddit.com", Reason: deletion.ReasonDisabled}))
		})
	})
})
