package events_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mandelsoft/objectgraph/pkg/events"
)

type recorder struct {
	events []string
}

func (r *recorder) HandleEvent(e string) {
	r.events = append(r.events, e)
}

var _ = Describe("handler registry", func() {
	var reg events.HandlerRegistry[string]

	BeforeEach(func() {
		reg = events.NewHandlerRegistry[string]()
	})

	It("dispatches by kind", func() {
		all := &recorder{}
		artists := &recorder{}
		reg.RegisterHandler(all)
		reg.RegisterHandler(artists, "Artist")
		reg.RegisterHandler(artists, "Artist")

		reg.TriggerEvent("Artist", "a1")
		reg.TriggerEvent("Painting", "p1")

		Expect(all.events).To(Equal([]string{"a1", "p1"}))
		Expect(artists.events).To(Equal([]string{"a1"}))
	})

	It("unregisters handlers", func() {
		r := &recorder{}
		reg.RegisterHandler(r, "Artist", "Painting")
		reg.UnregisterHandler(r, "Artist")
		reg.TriggerEvent("Artist", "a1")
		reg.TriggerEvent("Painting", "p1")
		Expect(r.events).To(Equal([]string{"p1"}))

		reg.UnregisterHandler(r, "Painting")
		Expect(reg.HasHandlers()).To(BeFalse())
	})

	It("wraps functions", func() {
		var got []string
		h := events.HandlerFunc(func(e string) { got = append(got, e) })
		reg.RegisterHandler(h)
		reg.TriggerEvent("x", "e")
		reg.UnregisterHandler(h)
		reg.TriggerEvent("x", "f")
		Expect(got).To(Equal([]string{"e"}))
	})
})
