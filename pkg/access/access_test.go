package access_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"

	. "github.com/mandelsoft/goutils/testutils"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/mandelsoft/objectgraph/pkg/testutils"

	"github.com/mandelsoft/objectgraph/pkg/access"
	"github.com/mandelsoft/objectgraph/pkg/metadata"
	"github.com/mandelsoft/objectgraph/pkg/objectbase"
	"github.com/mandelsoft/objectgraph/pkg/objectcontext"
	"github.com/mandelsoft/objectgraph/pkg/oid"
	"github.com/mandelsoft/objectgraph/pkg/store"
	"github.com/mandelsoft/objectgraph/pkg/store/memory"
)

var ctx = context.Background()

var _ = Describe("textual access", func() {
	var res *metadata.Resolver

	BeforeEach(func() {
		res = ArtResolver()
	})

	It("parses values", func() {
		Expect(access.ParseValue("int", "42")).To(Equal(int64(42)))
		Expect(access.ParseValue("float", "1.5")).To(Equal(1.5))
		Expect(access.ParseValue("", "text")).To(Equal("text"))
		Expect(access.ParseValue("bool", "true")).To(Equal(true))
		Expect(access.ParseValue("int", "null")).To(BeNil())
		_, err := access.ParseValue("int", "x")
		Expect(err).To(HaveOccurred())
	})

	It("provides keys", func() {
		d := Must(res.Descriptor("Sculpture"))
		id := Must(access.KeyFor(d, "7"))
		Expect(id.Equal(oid.NewSingle("Painting", "ID", 7))).To(BeTrue())
		Expect(access.KeyString(d, id)).To(Equal("7"))

		d = Must(res.Descriptor("Exhibit"))
		_, err := access.KeyFor(d, "7")
		Expect(err).To(MatchError(ContainSubstring("requires 2 key values")))
	})

	It("parses assignments", func() {
		d := Must(res.Descriptor("Artist"))
		Expect(access.ParseAssignments(d, "name=Monet", "birthYear=1840")).To(Equal(map[string]any{"name": "Monet", "birthYear": int64(1840)}))
		_, err := access.ParseAssignments(d, "unknown=1")
		Expect(err).To(MatchError(ContainSubstring("no attribute \"unknown\"")))
		_, err = access.ParseAssignments(d, "name")
		Expect(err).To(MatchError(ContainSubstring("invalid assignment")))
	})
})

var _ = Describe("object access handler", func() {
	var base *objectbase.ObjectBase
	var srv *httptest.Server
	var artist string

	BeforeEach(func() {
		res := ArtResolver()
		base = objectbase.New(res, memory.New(Must(store.SchemaFor(res))))
		srv = httptest.NewServer(access.New(base, "/data"))

		oc := objectcontext.New(base)
		a := Must(oc.NewObject(ctx, "Artist"))
		MustBeSuccessful(a.Write(ctx, "name", "Monet"))
		p := Must(oc.NewObject(ctx, "Painting"))
		MustBeSuccessful(p.Write(ctx, "title", "Water Lilies"))
		MustBeSuccessful(p.SetToOne(ctx, "artist", a))
		MustBeSuccessful(oc.CommitChanges(ctx))
		artist = access.KeyString(a.Descriptor(), a.Id())
	})

	AfterEach(func() {
		srv.Close()
	})

	call := func(method, path string, body any) (int, map[string]any) {
		var data []byte
		if body != nil {
			data = Must(json.Marshal(body))
		}
		req := Must(http.NewRequest(method, srv.URL+path, bytes.NewReader(data)))
		resp := Must(http.DefaultClient.Do(req))
		defer resp.Body.Close()
		var result map[string]any
		json.NewDecoder(resp.Body).Decode(&result)
		return resp.StatusCode, result
	}

	It("gets objects", func() {
		code, data := call(http.MethodGet, "/data/Artist/"+artist, nil)
		Expect(code).To(Equal(http.StatusOK))
		Expect(data["entity"]).To(Equal("Artist"))
		Expect(data["attributes"]).To(HaveKeyWithValue("name", "Monet"))

		code, data = call(http.MethodGet, "/data/Artist/4711", nil)
		Expect(code).To(Equal(http.StatusNotFound))
		Expect(data["error"]).To(ContainSubstring("fault failure"))
	})

	It("lists objects", func() {
		code, data := call(http.MethodGet, "/data/Painting?"+url.Values{"title": {"Water Lilies"}}.Encode(), nil)
		Expect(code).To(Equal(http.StatusOK))
		Expect(data["items"]).To(HaveLen(1))
		item := data["items"].([]any)[0].(map[string]any)
		Expect(item["relationships"]).To(HaveKey("artist"))

		code, data = call(http.MethodGet, "/data/Painting?title=none", nil)
		Expect(code).To(Equal(http.StatusOK))
		Expect(data["items"]).To(BeEmpty())
	})

	It("creates and updates objects", func() {
		code, data := call(http.MethodPost, "/data/Artist/-", map[string]any{"name": "Manet", "birthYear": 1832})
		Expect(code).To(Equal(http.StatusCreated))
		key := data["key"].(string)
		Expect(key).NotTo(BeEmpty())

		code, data = call(http.MethodPost, "/data/Artist/"+key, map[string]any{"birthYear": 1833})
		Expect(code).To(Equal(http.StatusOK))
		Expect(data["attributes"]).To(HaveKeyWithValue("birthYear", 1833.0))

		code, _ = call(http.MethodPost, "/data/Artist/-", map[string]any{"birthYear": 1833})
		Expect(code).To(Equal(http.StatusBadRequest))
	})

	It("deletes objects with their delete rules", func() {
		code, _ := call(http.MethodDelete, "/data/Artist/"+artist, nil)
		Expect(code).To(Equal(http.StatusOK))

		code, data := call(http.MethodGet, "/data/Painting", nil)
		Expect(code).To(Equal(http.StatusOK))
		Expect(data["items"]).To(BeEmpty())
	})

	It("rejects invalid requests", func() {
		code, _ := call(http.MethodGet, "/data/Unknown/1", nil)
		Expect(code).To(Equal(http.StatusBadRequest))
		code, _ = call(http.MethodPut, "/data/Artist/1", nil)
		Expect(code).To(Equal(http.StatusMethodNotAllowed))
		code, _ = call(http.MethodGet, "/data/", nil)
		Expect(code).To(Equal(http.StatusBadRequest))
	})
})
