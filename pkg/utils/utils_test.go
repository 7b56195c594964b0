package utils_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	. "github.com/mandelsoft/goutils/testutils"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mandelsoft/objectgraph/pkg/utils"
)

var _ = Describe("utils", func() {
	Context("values", func() {
		It("normalizes numbers", func() {
			Expect(utils.NormalizeValue(5)).To(Equal(int64(5)))
			Expect(utils.NormalizeValue(uint8(5))).To(Equal(int64(5)))
			Expect(utils.NormalizeValue(float32(1.5))).To(Equal(float64(1.5)))
			Expect(utils.NormalizeValue(json.Number("7"))).To(Equal(int64(7)))
			Expect(utils.NormalizeValue(json.Number("7.5"))).To(Equal(7.5))
		})

		It("normalizes nil values", func() {
			var s *string
			Expect(utils.NormalizeValue(s)).To(BeNil())
			Expect(utils.IsNil(s)).To(BeTrue())
			v := "x"
			Expect(utils.NormalizeValue(&v)).To(Equal("x"))
		})

		It("compares values", func() {
			Expect(utils.EqualValues(1, int64(1))).To(BeTrue())
			Expect(utils.EqualValues(int64(2), 2.0)).To(BeTrue())
			Expect(utils.EqualValues(nil, 0)).To(BeFalse())
			Expect(utils.EqualValues([]byte("a"), []byte("a"))).To(BeTrue())

			now := time.Now()
			Expect(utils.EqualValues(now, now.UTC())).To(BeTrue())
		})

		It("renders canonical json", func() {
			Expect(Must(utils.CanonicalJSON(map[string]any{"b": 1, "a": int64(2)}))).To(Equal(`{"a":2,"b":1}`))
			Expect(Must(utils.CanonicalJSON([]any{int32(1), "x"}))).To(Equal(Must(utils.CanonicalJSON([]any{int64(1), "x"}))))
		})
	})

	Context("helpers", func() {
		It("detects cycles", func() {
			Expect(utils.Cycle("a", "x", "a", "b")).To(Equal([]string{"a", "b", "a"}))
			Expect(utils.Cycle("c", "a", "b")).To(BeNil())
		})

		It("detects closed connections", func() {
			Expect(utils.IsErrClosed(fmt.Errorf("read: %w", io.EOF))).To(BeTrue())
			Expect(utils.IsErrClosed(errors.New("other"))).To(BeFalse())
			Expect(utils.IsErrClosed(nil)).To(BeFalse())
		})
	})

	Context("sync points", func() {
		It("releases waiters", func() {
			p := utils.NewSyncPoint()
			Expect(p.IsReleased()).To(BeFalse())
			go p.Release()
			Expect(p.Wait(context.Background())).To(BeTrue())
			Expect(p.IsReleased()).To(BeTrue())
		})

		It("accepts repeated releases", func() {
			p := utils.NewSyncPoint()
			p.Release()
			p.Release()

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			Expect(p.Wait(ctx)).To(BeTrue())
		})

		It("stops waiting on cancellation", func() {
			p := utils.NewSyncPoint()
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			Expect(p.Wait(ctx)).To(BeFalse())
		})
	})
})
