// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package memory

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

const kmeansMaxIter = 20

// ivfIndex partitions slots into lists around spherical k-means centroids.
// A query scans only the lists whose centroids are nearest to it.
type ivfIndex struct {
	centroids [][]float32 // unit length
	lists     []*roaring.Bitmap
	assigned  map[uint32]int
	trainedAt int
}

// trainIVF clusters unit vectors into k lists with Lloyd's algorithm on
// cosine similarity. It returns nil when there are fewer vectors than lists.
func trainIVF(ids []uint32, vectors [][]float32, k int) *ivfIndex {
	n := len(vectors)
	if k < 1 || n < k {
		return nil
	}
	dim := len(vectors[0])

	// Deterministic seed so identical data always trains the same index.
	rng := rand.New(rand.NewPCG(uint64(n), uint64(k)))
	centroids := make([][]float32, k)
	for i, p := range rng.Perm(n)[:k] {
		centroids[i] = append([]float32(nil), vectors[p]...)
	}

	assignments := make([]int, n)
	for i := range assignments {
		assignments[i] = -1
	}
	sums := make([][]float64, k)
	for j := range sums {
		sums[j] = make([]float64, dim)
	}
	counts := make([]int, k)

	for iter := 0; iter < kmeansMaxIter; iter++ {
		changed := false
		for i, v := range vectors {
			if best := nearestCentroid(v, centroids); assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		for j := range sums {
			clear(sums[j])
			counts[j] = 0
		}
		for i, v := range vectors {
			c := assignments[i]
			for d, x := range v {
				sums[c][d] += float64(x)
			}
			counts[c]++
		}
		for j := range centroids {
			if counts[j] == 0 {
				// Reseed an empty cluster from a random point.
				centroids[j] = append(centroids[j][:0], vectors[rng.IntN(n)]...)
				continue
			}
			for d := range centroids[j] {
				centroids[j][d] = float32(sums[j][d])
			}
			normalize(centroids[j])
		}
	}

	idx := &ivfIndex{
		centroids: centroids,
		lists:     make([]*roaring.Bitmap, k),
		assigned:  make(map[uint32]int, n),
		trainedAt: n,
	}
	for j := range idx.lists {
		idx.lists[j] = roaring.New()
	}
	for i, id := range ids {
		idx.add(id, vectors[i], assignments[i])
	}
	return idx
}

func (x *ivfIndex) add(id uint32, unit []float32, list int) {
	if list < 0 {
		list = nearestCentroid(unit, x.centroids)
	}
	x.lists[list].Add(id)
	x.assigned[id] = list
}

func (x *ivfIndex) remove(id uint32) {
	if list, ok := x.assigned[id]; ok {
		x.lists[list].Remove(id)
		delete(x.assigned, id)
	}
}

// probe returns the n lists whose centroids are closest to the query.
func (x *ivfIndex) probe(unit []float32, n int) []int {
	type scored struct {
		list int
		sim  float64
	}
	all := make([]scored, len(x.centroids))
	for i, c := range x.centroids {
		all[i] = scored{list: i, sim: dot(unit, c)}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].sim > all[j].sim })

	if n > len(all) {
		n = len(all)
	}
	out := make([]int, n)
	for i := range out {
		out[i] = all[i].list
	}
	return out
}

func nearestCentroid(unit []float32, centroids [][]float32) int {
	best, bestSim := 0, math.Inf(-1)
	for j, c := range centroids {
		if s := dot(unit, c); s > bestSim {
			best, bestSim = j, s
		}
	}
	return best
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// normalize scales v to unit length in place. Zero vectors are left as is.
func normalize(v []float32) {
	var sq float64
	for _, x := range v {
		sq += float64(x) * float64(x)
	}
	if sq == 0 {
		return
	}
	inv := 1 / math.Sqrt(sq)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}

func unitOf(v []float32) []float32 {
	u := append([]float32(nil), v...)
	normalize(u)
	return u
}

// cosineDistance returns 1 - cos for two unit vectors, clamped to [0, 2].
func cosineDistance(a, b []float32) float64 {
	d := 1 - dot(a, b)
	switch {
	case d < 0:
		return 0
	case d > 2:
		return 2
	}
	return d
}
