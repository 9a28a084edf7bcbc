package crawler

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrontierFIFOAndDedupe(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	require.True(t, f.Offer("http://s.test"))
	require.True(t, f.Offer("http://s.test/a"))
	require.False(t, f.Offer("http://s.test"))
	require.True(t, f.Offer("http://s.test/b"))
	require.Equal(t, 3, f.Len())

	var got []string
	for {
		url, ok := f.Next()
		if !ok {
			break
		}
		got = append(got, url)
	}
	require.Equal(t, []string{"http://s.test", "http://s.test/a", "http://s.test/b"}, got)
	require.Zero(t, f.Len())
}

func TestFrontierNeverReturnsVisitedURL(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	f.Offer("http://s.test/a")
	url, ok := f.Next()
	require.True(t, ok)
	require.Equal(t, "http://s.test/a", url)

	require.False(t, f.Offer("http://s.test/a"), "visited URL must not be re-enqueued")
	require.True(t, f.Seen("http://s.test/a"))
	_, ok = f.Next()
	require.False(t, ok)
}

func TestFrontierIgnoresEmptyURL(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	require.False(t, f.Offer(""))
	require.Zero(t, f.Len())
}

func TestFrontierRandomOffersPreserveFirstOfferedOrder(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	f := NewFrontier()
	var firstOrder []string
	firstSeen := map[string]bool{}
	var returned []string

	for i := 0; i < 500; i++ {
		url := fmt.Sprintf("http://s.test/%d", rng.Intn(60))
		if !firstSeen[url] {
			firstSeen[url] = true
			firstOrder = append(firstOrder, url)
		}
		f.Offer(url)
		if rng.Intn(4) == 0 {
			if next, ok := f.Next(); ok {
				returned = append(returned, next)
			}
		}
	}
	for {
		next, ok := f.Next()
		if !ok {
			break
		}
		returned = append(returned, next)
	}

	require.Equal(t, firstOrder, returned)
}
