package random

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/goombaio/namegenerator"
	"github.com/mandelsoft/logging"

	"github.com/mandelsoft/objectgraph/pkg/channel"
	"github.com/mandelsoft/objectgraph/pkg/objectcontext"
	"github.com/mandelsoft/objectgraph/pkg/persistent"
)

var REALM = logging.DefineRealm("objectgraph/fake", "random object generator")

var log = logging.DynamicLogger(logging.DefaultContext(), REALM)

type operation struct {
	name   string
	weight int
	run    func(ctx context.Context, oc *objectcontext.Context) (bool, error)
}

// Faker executes random modifications of an art gallery object
// graph. Every step uses its own object context.
type Faker struct {
	channel channel.Channel
	rnd     *rand.Rand
	names   namegenerator.Generator
	ops     []operation
	total   int

	Steps     int
	Conflicts int
}

func New(ch channel.Channel, seed int64) *Faker {
	f := &Faker{
		channel: ch,
		rnd:     rand.New(rand.NewSource(seed)),
		names:   namegenerator.NewNameGenerator(seed),
	}
	f.ops = []operation{
		{"create artist", 10, f.createArtist},
		{"create gallery", 5, f.createGallery},
		{"create painting", 30, f.createPainting},
		{"change price", 30, f.changePrice},
		{"move painting", 15, f.movePainting},
		{"delete painting", 7, f.deletePainting},
		{"delete artist", 3, f.deleteArtist},
	}
	for _, o := range f.ops {
		f.total += o.weight
	}
	return f
}

func (f *Faker) choose() operation {
	i := f.rnd.Intn(f.total)
	for _, o := range f.ops {
		if i < o.weight {
			return o
		}
		i -= o.weight
	}
	return f.ops[len(f.ops)-1]
}

// Step executes one random operation. Operations not applicable to
// the current object graph are skipped. Optimistic lock failures and
// denied deletions are counted as conflicts.
func (f *Faker) Step(ctx context.Context) (string, error) {
	op := f.choose()
	oc := objectcontext.New(f.channel, objectcontext.WithName("fake"))
	mod, err := op.run(ctx, oc)
	if err == nil && mod {
		err = oc.CommitChanges(ctx)
	}
	if err != nil {
		var lock *persistent.OptimisticLockError
		var deny *persistent.DeleteDenyError
		if errors.As(err, &lock) || errors.As(err, &deny) {
			f.Conflicts++
			log.Info("{{operation}} rejected: {{error}}", "operation", op.name, "error", err)
			return op.name, nil
		}
		return op.name, fmt.Errorf("%s: %w", op.name, err)
	}
	if mod {
		f.Steps++
		log.Debug("{{operation}} done", "operation", op.name)
	}
	return op.name, nil
}

// Run executes count steps (endless for count <= 0) with the given
// delay between them until the context is done.
func (f *Faker) Run(ctx context.Context, count int, delay time.Duration) error {
	for i := 0; count <= 0 || i < count; i++ {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := f.Step(ctx); err != nil {
			return err
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
		}
	}
	return nil
}

func (f *Faker) pick(ctx context.Context, oc *objectcontext.Context, entity string) (*persistent.Object, error) {
	list, err := oc.Select(ctx, entity, nil)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[f.rnd.Intn(len(list))], nil
}

func (f *Faker) createArtist(ctx context.Context, oc *objectcontext.Context) (bool, error) {
	a, err := oc.NewObject(ctx, "Artist")
	if err != nil {
		return false, err
	}
	if err := a.Write(ctx, "name", f.names.Generate()); err != nil {
		return false, err
	}
	return true, a.Write(ctx, "birthYear", int64(1400+f.rnd.Intn(600)))
}

func (f *Faker) createGallery(ctx context.Context, oc *objectcontext.Context) (bool, error) {
	g, err := oc.NewObject(ctx, "Gallery")
	if err != nil {
		return false, err
	}
	return true, g.Write(ctx, "name", f.names.Generate())
}

func (f *Faker) createPainting(ctx context.Context, oc *objectcontext.Context) (bool, error) {
	a, err := f.pick(ctx, oc, "Artist")
	if a == nil || err != nil {
		return false, err
	}
	entity := "Painting"
	if f.rnd.Intn(4) == 0 {
		entity = "Sculpture"
	}
	p, err := oc.NewObject(ctx, entity)
	if err != nil {
		return false, err
	}
	if err := p.Write(ctx, "title", f.names.Generate()); err != nil {
		return false, err
	}
	if err := p.Write(ctx, "price", float64(f.rnd.Intn(100000))); err != nil {
		return false, err
	}
	return true, a.AddToMany(ctx, "paintings", p)
}

func (f *Faker) changePrice(ctx context.Context, oc *objectcontext.Context) (bool, error) {
	p, err := f.pick(ctx, oc, "Painting")
	if p == nil || err != nil {
		return false, err
	}
	return true, p.Write(ctx, "price", float64(f.rnd.Intn(100000)))
}

func (f *Faker) movePainting(ctx context.Context, oc *objectcontext.Context) (bool, error) {
	p, err := f.pick(ctx, oc, "Painting")
	if p == nil || err != nil {
		return false, err
	}
	g, err := f.pick(ctx, oc, "Gallery")
	if err != nil {
		return false, err
	}
	return true, p.SetToOne(ctx, "gallery", g)
}

func (f *Faker) deletePainting(ctx context.Context, oc *objectcontext.Context) (bool, error) {
	p, err := f.pick(ctx, oc, "Painting")
	if p == nil || err != nil {
		return false, err
	}
	return true, oc.DeleteObject(ctx, p)
}

func (f *Faker) deleteArtist(ctx context.Context, oc *objectcontext.Context) (bool, error) {
	a, err := f.pick(ctx, oc, "Artist")
	if a == nil || err != nil {
		return false, err
	}
	return true, oc.DeleteObject(ctx, a)
}
