package locks_test

import (
	"context"
	"time"

	. "github.com/mandelsoft/goutils/testutils"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	me "github.com/mandelsoft/objectgraph/pkg/locks"
)

var _ = Describe("element locks", func() {
	var locks *me.ElementLocks[string]
	var ctx context.Context
	var cancel context.CancelFunc

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		locks = me.NewElementLocks[string]()
	})

	AfterEach(func() {
		cancel()
	})

	It("locks and unlocks", func() {
		MustBeSuccessful(locks.Lock(ctx, "A"))
		MustBeSuccessful(locks.Lock(ctx, "B"))

		Expect(locks.TryLock("A")).To(BeFalse())
		Expect(locks.TryLock("B")).To(BeFalse())
		Expect(locks.TryLock("C")).To(BeTrue())
		Expect(locks.TryLock("C")).To(BeFalse())

		locks.Unlock("A")
		Expect(locks.TryLock("A")).To(BeTrue())
		Expect(locks.TryLock("B")).To(BeFalse())

		locks.Unlock("A")
		locks.Unlock("B")
		locks.Unlock("C")
		Expect(locks.IsLocked("A")).To(BeFalse())
		Expect(locks.IsLocked("B")).To(BeFalse())
		Expect(locks.IsLocked("C")).To(BeFalse())
	})

	It("blocks and hands over", func() {
		MustBeSuccessful(locks.Lock(ctx, "A"))

		done := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			MustBeSuccessful(locks.Lock(ctx, "A"))
			locks.Unlock("A")
			close(done)
		}()

		Eventually(func() bool { return locks.HasWaiting("A") }).Should(BeTrue())
		locks.Unlock("A")
		Eventually(done).Should(BeClosed())
		Expect(locks.IsLocked("A")).To(BeFalse())
	})

	It("gives up waiting on cancellation", func() {
		MustBeSuccessful(locks.Lock(ctx, "A"))

		wctx, wcancel := context.WithCancel(ctx)
		result := make(chan error, 1)
		go func() {
			result <- locks.Lock(wctx, "A")
		}()
		Eventually(func() bool { return locks.HasWaiting("A") }).Should(BeTrue())
		wcancel()
		Eventually(result).Should(Receive(MatchError(context.Canceled)))
		Expect(locks.HasWaiting("A")).To(BeFalse())

		locks.Unlock("A")
		Expect(locks.IsLocked("A")).To(BeFalse())
	})

	It("locks sets of elements", func() {
		MustBeSuccessful(locks.LockAll(ctx, "A", "B", "A"))
		Expect(locks.IsLocked("A")).To(BeTrue())
		Expect(locks.IsLocked("B")).To(BeTrue())

		tctx, tcancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer tcancel()
		Expect(locks.LockAll(tctx, "C", "B")).To(MatchError(context.DeadlineExceeded))
		Expect(locks.IsLocked("C")).To(BeFalse())

		locks.UnlockAll("A", "B", "A")
		Expect(locks.IsLocked("A")).To(BeFalse())
		Expect(locks.IsLocked("B")).To(BeFalse())
	})
})
