package anomaly

import (
	"fmt"
	"math"
	"math/rand/v2"

	"energy-insights/internal/models"
	"energy-insights/internal/pattern"
)

const eulerGamma = 0.5772156649015329

// IsolationConfig параметры изолирующего леса
type IsolationConfig struct {
	Trees         int
	SampleSize    int
	Contamination float64
	Seed          uint64
}

// Fit строит лес и выбирает порог так, чтобы доля аномалий на обучающей
// выборке соответствовала Contamination.
func (c IsolationConfig) Fit(points []pattern.Point) (Scorer, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no points", models.ErrInsufficientData)
	}
	if c.Contamination <= 0 || c.Contamination >= 0.5 {
		return nil, fmt.Errorf("contamination %v out of range (0, 0.5)", c.Contamination)
	}
	if c.Trees <= 0 {
		c.Trees = 100
	}

	psi := c.SampleSize
	if psi <= 0 || psi > len(points) {
		psi = len(points)
	}
	limit := int(math.Ceil(math.Log2(math.Max(float64(psi), 2))))

	rng := rand.New(rand.NewPCG(c.Seed, uint64(psi)))
	f := &isolationForest{trees: make([]*iTree, c.Trees), norm: averagePath(psi)}
	for i := range f.trees {
		sample := make([]pattern.Point, psi)
		for j, k := range rng.Perm(len(points))[:psi] {
			sample[j] = points[k]
		}
		t := &iTree{}
		t.grow(sample, 0, limit, rng)
		f.trees[i] = t
	}

	scores := make([]float64, len(points))
	for i, p := range points {
		scores[i] = f.score(p)
	}
	f.threshold = Percentile(scores, 100*(1-c.Contamination))
	return f, nil
}

type isolationForest struct {
	trees     []*iTree
	norm      float64
	threshold float64
}

// Score 2^(-E[h]/c(ψ)): близко к 1 у легко изолируемых точек
func (f *isolationForest) Score(p pattern.Point) Score {
	s := f.score(p)
	return Score{IsAnomaly: s > f.threshold, Severity: s}
}

func (f *isolationForest) Threshold() float64 { return f.threshold }

func (f *isolationForest) score(p pattern.Point) float64 {
	if f.norm == 0 {
		return 0.5
	}
	total := 0.0
	for _, t := range f.trees {
		total += t.pathLength(p)
	}
	return math.Pow(2, -(total/float64(len(f.trees)))/f.norm)
}

type iNode struct {
	feature   int
	threshold float64
	left      int
	right     int
	size      int
	// границы точек узла по часу и потреблению
	lo, hi [2]float64
}

type iTree struct {
	nodes []iNode
}

func coord(p pattern.Point, feature int) float64 {
	if feature == 0 {
		return p.Hour
	}
	return p.Usage
}

func (t *iTree) grow(points []pattern.Point, depth, limit int, rng *rand.Rand) int {
	pos := len(t.nodes)
	n := iNode{left: -1, right: -1, size: len(points)}
	// признаки, по которым узел ещё можно разделить
	var splittable []int
	for f := 0; f < 2; f++ {
		n.lo[f], n.hi[f] = math.Inf(1), math.Inf(-1)
		for _, p := range points {
			v := coord(p, f)
			n.lo[f] = math.Min(n.lo[f], v)
			n.hi[f] = math.Max(n.hi[f], v)
		}
		if n.hi[f] > n.lo[f] {
			splittable = append(splittable, f)
		}
	}
	t.nodes = append(t.nodes, n)
	if depth >= limit || len(points) <= 1 || len(splittable) == 0 {
		return pos
	}

	f := splittable[rng.IntN(len(splittable))]
	threshold := n.lo[f] + rng.Float64()*(n.hi[f]-n.lo[f])

	var left, right []pattern.Point
	for _, p := range points {
		if coord(p, f) < threshold {
			left = append(left, p)
		} else {
			right = append(right, p)
		}
	}

	l := t.grow(left, depth+1, limit, rng)
	r := t.grow(right, depth+1, limit, rng)
	t.nodes[pos].feature = f
	t.nodes[pos].threshold = threshold
	t.nodes[pos].left = l
	t.nodes[pos].right = r
	return pos
}

// pathLength глубина изоляции точки. Точка вне границ узла считается
// изолированной на его глубине; оставшийся путь укорачивается тем сильнее,
// чем дальше она от границ (в долях размаха корня дерева).
func (t *iTree) pathLength(p pattern.Point) float64 {
	i, depth := 0, 0
	outDepth, credit := -1, 1.0
	for {
		n := &t.nodes[i]
		if outDepth < 0 {
			if r := t.outside(n, p); r > 0 {
				outDepth, credit = depth, 1/(1+r)
			}
		}
		if n.left < 0 {
			full := float64(depth) + averagePath(n.size)
			if outDepth < 0 {
				return full
			}
			return float64(outDepth) + credit*(full-float64(outDepth))
		}
		if coord(p, n.feature) < n.threshold {
			i = n.left
		} else {
			i = n.right
		}
		depth++
	}
}

// outside наибольшее относительное расстояние точки до границ узла; 0 внутри
func (t *iTree) outside(n *iNode, p pattern.Point) float64 {
	root := &t.nodes[0]
	worst := 0.0
	for f := 0; f < 2; f++ {
		v := coord(p, f)
		d := math.Max(n.lo[f]-v, v-n.hi[f])
		if d <= 0 {
			continue
		}
		span := root.hi[f] - root.lo[f]
		if span <= 0 {
			return math.Inf(1)
		}
		worst = math.Max(worst, d/span)
	}
	return worst
}

// averagePath средняя длина неуспешного поиска в BST из n элементов
func averagePath(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}
