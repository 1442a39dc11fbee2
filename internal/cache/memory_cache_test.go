package cache

import (
	"fmt"
	"image"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances one millisecond per reading so every access is ordered.
type fakeClock struct {
	t    time.Time
	step time.Duration
}

func (f *fakeClock) now() time.Time {
	f.t = f.t.Add(f.step)
	return f.t
}

func newTestCache(budget int64, step time.Duration) *MemoryCache {
	c := NewMemoryCache(budget)
	clock := &fakeClock{t: time.Unix(0, 0), step: step}
	c.now = clock.now
	return c
}

func key(id string) Key {
	return Key{ID: id, Size: SizeOf(10, 10, 1)}
}

func img(w, h int) image.Image {
	return image.NewNRGBA(image.Rect(0, 0, w, h))
}

func TestMemoryCache_PutGet(t *testing.T) {
	a := assert.New(t)
	c := newTestCache(0, time.Millisecond)

	_, ok := c.Get(key("a"))
	a.False(ok)

	m := img(2, 2)
	c.Put(key("a"), m, 16)

	got, ok := c.Get(key("a"))
	a.True(ok)
	a.Same(m, got)
	a.Equal(int64(16), c.Bytes())
	a.Equal(1, c.Len())
}

func TestMemoryCache_ReplaceAdjustsTotal(t *testing.T) {
	a := assert.New(t)
	c := newTestCache(0, time.Millisecond)

	c.Put(key("a"), img(1, 1), 100)
	c.Put(key("a"), img(1, 1), 40)

	a.Equal(int64(40), c.Bytes())
	a.Equal(1, c.Len())
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	a := assert.New(t)
	c := newTestCache(300, time.Millisecond)

	c.Put(key("a"), img(1, 1), 100)
	c.Put(key("b"), img(1, 1), 100)
	c.Put(key("c"), img(1, 1), 100)

	// touch a so b becomes the oldest
	_, ok := c.Get(key("a"))
	a.True(ok)

	c.Put(key("d"), img(1, 1), 100)

	a.False(c.Has(key("b")))
	a.True(c.Has(key("a")))
	a.True(c.Has(key("c")))
	a.True(c.Has(key("d")))
	a.Equal(int64(300), c.Bytes())
}

func TestMemoryCache_TieBreaksOnHigherCost(t *testing.T) {
	a := assert.New(t)
	// frozen clock: every entry shares the same access time
	c := newTestCache(60, 0)

	c.Put(key("a"), img(1, 1), 10)
	c.Put(key("b"), img(1, 1), 30)
	c.Put(key("c"), img(1, 1), 20)
	a.Equal(int64(60), c.Bytes())

	c.Put(key("d"), img(1, 1), 5)

	a.False(c.Has(key("b")))
	a.True(c.Has(key("a")))
	a.True(c.Has(key("c")))
	a.True(c.Has(key("d")))
	a.Equal(int64(35), c.Bytes())
}

func TestMemoryCache_OversizedEntryEmptiesCache(t *testing.T) {
	a := assert.New(t)
	c := newTestCache(50, time.Millisecond)

	c.Put(key("a"), img(1, 1), 10)
	c.Put(key("b"), img(1, 1), 500)

	a.Equal(0, c.Len())
	a.Equal(int64(0), c.Bytes())
}

func TestMemoryCache_NoBudgetGrowsUntilPressure(t *testing.T) {
	a := assert.New(t)
	c := newTestCache(0, time.Millisecond)

	for i := 0; i < 100; i++ {
		c.Put(key(fmt.Sprint(i)), img(1, 1), 1<<20)
	}
	a.Equal(100, c.Len())

	c.HandleMemoryPressure()
	a.Equal(0, c.Len())
	a.Equal(int64(0), c.Bytes())
}

func TestMemoryCache_SetByteBudgetEvicts(t *testing.T) {
	a := assert.New(t)
	c := newTestCache(0, time.Millisecond)

	c.Put(key("a"), img(1, 1), 100)
	c.Put(key("b"), img(1, 1), 100)
	c.Put(key("c"), img(1, 1), 100)

	c.SetByteBudget(150)

	a.Equal(int64(100), c.Bytes())
	a.True(c.Has(key("c")))
	a.Equal(int64(150), c.ByteBudget())
}

func TestMemoryCache_EvictionHook(t *testing.T) {
	a := assert.New(t)
	c := newTestCache(100, time.Millisecond)

	var evicted []string
	c.OnEvict(func(k Key, cost int64) {
		evicted = append(evicted, k.ID)
	})

	c.Put(key("a"), img(1, 1), 60)
	c.Put(key("b"), img(1, 1), 60)

	a.Equal([]string{"a"}, evicted)
}

func TestMemoryCache_ClosestSizeFallback(t *testing.T) {
	a := assert.New(t)
	c := newTestCache(0, time.Millisecond)

	small := img(1, 1)
	large := img(2, 2)
	c.Put(Key{ID: "a", Size: SizeOf(100, 100, 1)}, small, 1)
	c.Put(Key{ID: "a", Size: SizeOf(400, 400, 1)}, large, 1)

	got, ok := c.Get(Key{ID: "a", Size: SizeOf(350, 350, 1)})
	a.True(ok)
	a.Same(large, got)

	got, ok = c.Get(Key{ID: "a", Size: SizeOf(100, 100, 1)})
	a.True(ok)
	a.Same(small, got)

	_, ok = c.Get(Key{ID: "b", Size: SizeOf(100, 100, 1)})
	a.False(ok)
}

func TestMemoryCache_ClosestSizeTieBreak(t *testing.T) {
	a := assert.New(t)

	for i := 0; i < 20; i++ {
		c := newTestCache(0, time.Millisecond)
		retina := img(1, 1)
		plain := img(1, 1)
		c.Put(Key{ID: "a", Size: SizeOf(32, 32, 2)}, retina, 1)
		c.Put(Key{ID: "a", Size: SizeOf(32, 32, 1)}, plain, 1)

		got, ok := c.Get(Key{ID: "a", Size: SizeOf(32, 32, 3)})
		a.True(ok)
		a.Same(retina, got)

		got, ok = c.Get(Key{ID: "a", Size: SizeOf(32, 32, 0.5)})
		a.True(ok)
		a.Same(plain, got)
	}

	a.True(closer(SizeOf(0, 0, 1), SizeOf(0, 20, 1), SizeOf(0, 10, 1)))
	a.False(closer(SizeOf(0, 0, 1), SizeOf(0, 10, 1), SizeOf(0, 20, 1)))
}

func TestMemoryCache_RemoveDropsAllSizes(t *testing.T) {
	a := assert.New(t)
	c := newTestCache(0, time.Millisecond)

	c.Put(Key{ID: "a", Size: SizeOf(100, 100, 1)}, img(1, 1), 10)
	c.Put(Key{ID: "a", Size: SizeOf(200, 200, 2)}, img(1, 1), 10)
	c.Put(key("b"), img(1, 1), 10)

	c.Remove("a")

	a.False(c.Has(Key{ID: "a", Size: SizeOf(100, 100, 1)}))
	a.False(c.Contains("a"))
	a.True(c.Has(key("b")))
	a.True(c.Contains("b"))
	a.Equal(int64(10), c.Bytes())

	c.RemoveKey(key("b"))
	a.Equal(0, c.Len())
}

// Replays random put/get sequences against a reference model of access order.
func TestMemoryCache_MatchesReferenceLRU(t *testing.T) {
	const budget = 1000
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		c := newTestCache(budget, time.Millisecond)
		var order []string
		costs := map[string]int64{}

		touch := func(id string) {
			for i, v := range order {
				if v == id {
					order = append(order[:i], order[i+1:]...)
					break
				}
			}
			order = append(order, id)
		}

		for step := 0; step < 200; step++ {
			id := fmt.Sprintf("k%d", rng.Intn(15))
			if rng.Intn(3) == 0 {
				_, ok := c.Get(key(id))
				_, want := costs[id]
				require.Equal(t, want, ok, "round %d step %d get %s", round, step, id)
				if ok {
					touch(id)
				}
				continue
			}

			cost := int64(rng.Intn(300) + 1)
			c.Put(key(id), img(1, 1), cost)
			costs[id] = cost
			touch(id)

			var total int64
			for _, v := range order {
				total += costs[v]
			}
			for total > budget && len(order) > 0 {
				victim := order[0]
				order = order[1:]
				total -= costs[victim]
				delete(costs, victim)
			}

			require.LessOrEqual(t, c.Bytes(), int64(budget))
			require.Equal(t, total, c.Bytes())
			require.Equal(t, len(order), c.Len())
		}
	}
}

func TestEstimateCost(t *testing.T) {
	a := assert.New(t)

	a.Equal(int64(0), EstimateCost(nil))
	a.Equal(int64(400), EstimateCost(image.NewNRGBA(image.Rect(0, 0, 10, 10))))
	a.Equal(int64(100), EstimateCost(image.NewGray(image.Rect(0, 0, 10, 10))))
	a.Equal(int64(800), EstimateCost(image.NewRGBA64(image.Rect(0, 0, 10, 10))))

	ycc := image.NewYCbCr(image.Rect(0, 0, 10, 10), image.YCbCrSubsampleRatio420)
	a.Equal(int64(len(ycc.Y)+len(ycc.Cb)+len(ycc.Cr)), EstimateCost(ycc))

	a.Equal(int64(1024*1024), BytesFromMegabytes(1))
	a.Equal(int64(0), BytesFromMegabytes(-1))
}

func TestSizePixels(t *testing.T) {
	a := assert.New(t)

	w, h := SizeOf(100, 50, 2).Pixels()
	a.Equal(100, w)
	a.Equal(50, h)

	w, h = SizeOf(100, 50, 0).Pixels()
	a.Equal(100, w)
	a.Equal(50, h)

	a.True(Size{}.IsOriginal())
	a.Equal("100x50", SizeOf(100, 50, 3).String())
}
