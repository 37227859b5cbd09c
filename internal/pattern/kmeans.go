package pattern

import (
	"math"
	"math/rand/v2"
)

const (
	// MaxIterations предел итераций Ллойда
	MaxIterations = 300
	// Restarts число запусков с разной инициализацией
	Restarts = 10
)

// KMeans результат кластеризации в масштабированном пространстве
type KMeans struct {
	Centers [][2]float64
	Labels  []int
	Sizes   []int
	Inertia float64
}

// FitKMeans кластеризует точки на k групп. Инициализация k-means++,
// из нескольких запусков выбирается решение с минимальной инерцией.
// Требует len(points) >= k.
func FitKMeans(points [][2]float64, k int, seed uint64) KMeans {
	rng := rand.New(rand.NewPCG(seed, uint64(k)))

	var best KMeans
	for run := 0; run < Restarts; run++ {
		km := lloyd(points, initPlusPlus(points, k, rng))
		if run == 0 || km.Inertia < best.Inertia {
			best = km
		}
	}
	return best
}

// Nearest возвращает индекс ближайшего центра и расстояние до него.
// Центры с allowed[i] == false пропускаются; allowed == nil разрешает все.
func Nearest(centers [][2]float64, allowed []bool, p [2]float64) (int, float64) {
	best, bestD := -1, math.Inf(1)
	for i, c := range centers {
		if allowed != nil && !allowed[i] {
			continue
		}
		if d := sqDist(c, p); d < bestD {
			best, bestD = i, d
		}
	}
	return best, math.Sqrt(bestD)
}

func initPlusPlus(points [][2]float64, k int, rng *rand.Rand) [][2]float64 {
	centers := make([][2]float64, 0, k)
	centers = append(centers, points[rng.IntN(len(points))])

	d2 := make([]float64, len(points))
	for len(centers) < k {
		total := 0.0
		for i, p := range points {
			_, d := Nearest(centers, nil, p)
			d2[i] = d * d
			total += d2[i]
		}

		next := rng.IntN(len(points))
		if total > 0 {
			target := rng.Float64() * total
			acc := 0.0
			for i, d := range d2 {
				acc += d
				if acc >= target {
					next = i
					break
				}
			}
		}
		centers = append(centers, points[next])
	}
	return centers
}

func lloyd(points [][2]float64, centers [][2]float64) KMeans {
	k := len(centers)
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = -1
	}
	sizes := make([]int, k)

	for iter := 0; iter < MaxIterations; iter++ {
		changed := false
		for i, p := range points {
			c, _ := Nearest(centers, nil, p)
			if c != labels[i] {
				labels[i] = c
				changed = true
			}
		}
		if !changed {
			break
		}

		sums := make([][2]float64, k)
		for i := range sizes {
			sizes[i] = 0
		}
		for i, p := range points {
			c := labels[i]
			sums[c][0] += p[0]
			sums[c][1] += p[1]
			sizes[c]++
		}

		for c := range centers {
			if sizes[c] > 0 {
				centers[c] = [2]float64{sums[c][0] / float64(sizes[c]), sums[c][1] / float64(sizes[c])}
				continue
			}
			// пустой кластер переносим в самую удалённую точку
			far, farD := 0, -1.0
			for i, p := range points {
				if d := sqDist(centers[labels[i]], p); d > farD {
					far, farD = i, d
				}
			}
			centers[c] = points[far]
			labels[far] = c
		}
	}

	for i := range sizes {
		sizes[i] = 0
	}
	inertia := 0.0
	for i, p := range points {
		c, d := Nearest(centers, nil, p)
		labels[i] = c
		sizes[c]++
		inertia += d * d
	}

	return KMeans{Centers: centers, Labels: labels, Sizes: sizes, Inertia: inertia}
}

func sqDist(a, b [2]float64) float64 {
	d0 := a[0] - b[0]
	d1 := a[1] - b[1]
	return d0*d0 + d1*d1
}
