package healthz_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mandelsoft/objectgraph/pkg/healthz"
)

var _ = Describe("health checks", func() {
	AfterEach(func() {
		healthz.End("ticks")
		healthz.RemoveDependency("store")
	})

	It("reports healthy dependencies", func() {
		healthz.AddDependency("store", func(ctx context.Context) error { return nil })
		ok, info := healthz.HealthInfo(context.Background())
		Expect(ok).To(BeTrue())
		Expect(info).To(Equal("store: ok\n"))
	})

	It("reports failing dependencies", func() {
		healthz.AddDependency("store", func(ctx context.Context) error { return fmt.Errorf("unreachable") })
		rec := httptest.NewRecorder()
		healthz.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		Expect(rec.Body.String()).To(ContainSubstring("store: unreachable"))
	})

	It("detects outdated ticks", func() {
		healthz.Start("ticks", 10*time.Millisecond)
		Expect(healthz.IsHealthy(context.Background())).To(BeTrue())
		Eventually(func() bool { return healthz.IsHealthy(context.Background()) }).Should(BeFalse())
		healthz.Tick("ticks")
		Expect(healthz.IsHealthy(context.Background())).To(BeTrue())
	})

	It("keeps tickers alive", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		healthz.Ticker(ctx, "ticks", 10*time.Millisecond)
		Consistently(func() bool { return healthz.IsHealthy(context.Background()) }, 100*time.Millisecond).Should(BeTrue())
	})

	It("fails for unknown ticks", func() {
		Expect(func() { healthz.Tick("unknown") }).To(Panic())
	})
})
