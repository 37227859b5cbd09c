package forecast

import (
	"fmt"
	"math/rand/v2"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"energy-insights/internal/features"
	"energy-insights/internal/models"
)

// ForestConfig параметры случайного леса регрессионных деревьев
type ForestConfig struct {
	Trees          int
	MaxDepth       int
	MinSamplesLeaf int
	// MaxFeatures число признаков, перебираемых в узле (0 = все)
	MaxFeatures int
	Seed        uint64
}

// DefaultForestConfig возвращает параметры по умолчанию
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:          100,
		MaxDepth:       12,
		MinSamplesLeaf: 1,
		Seed:           42,
	}
}

// Kind реализует Trainer
func (c ForestConfig) Kind() string { return "random_forest" }

// Train строит лес. Каждое дерево получает собственный генератор,
// поэтому результат не зависит от порядка выполнения горутин.
func (c ForestConfig) Train(samples []Sample) (Predictor, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples", models.ErrInsufficientData)
	}
	if c.Trees <= 0 {
		c.Trees = 1
	}
	if c.MinSamplesLeaf <= 0 {
		c.MinSamplesLeaf = 1
	}
	if c.MaxFeatures <= 0 || c.MaxFeatures > features.Arity {
		c.MaxFeatures = features.Arity
	}

	trees := make([]*tree, c.Trees)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range trees {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(c.Seed, uint64(i)+1))
			trees[i] = c.growTree(samples, rng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &forest{trees: trees}, nil
}

// forest обученный лес, после обучения только читается
type forest struct {
	trees []*tree
}

func (f *forest) Predict(x features.Vector) float64 {
	sum := 0.0
	for _, t := range f.trees {
		sum += t.predict(x)
	}
	return sum / float64(len(f.trees))
}

// node узел дерева; left < 0 означает лист
type node struct {
	feature   int
	threshold float64
	left      int
	right     int
	value     float64
}

type tree struct {
	nodes []node
}

func (t *tree) predict(x features.Vector) float64 {
	i := 0
	for {
		n := &t.nodes[i]
		if n.left < 0 {
			return n.value
		}
		if x[n.feature] <= n.threshold {
			i = n.left
		} else {
			i = n.right
		}
	}
}

type treeBuilder struct {
	cfg     ForestConfig
	samples []Sample
	rng     *rand.Rand
	nodes   []node
}

func (c ForestConfig) growTree(samples []Sample, rng *rand.Rand) *tree {
	// bootstrap-выборка с возвращением
	idx := make([]int, len(samples))
	for i := range idx {
		idx[i] = rng.IntN(len(samples))
	}

	b := &treeBuilder{cfg: c, samples: samples, rng: rng}
	b.build(idx, 0)
	return &tree{nodes: b.nodes}
}

func (b *treeBuilder) build(idx []int, depth int) int {
	sum, sumSq := 0.0, 0.0
	for _, i := range idx {
		y := b.samples[i].Target
		sum += y
		sumSq += y * y
	}
	n := float64(len(idx))
	mean := sum / n

	pos := len(b.nodes)
	b.nodes = append(b.nodes, node{left: -1, right: -1, value: mean})

	if depth >= b.cfg.MaxDepth || len(idx) < 2*b.cfg.MinSamplesLeaf || sumSq-sum*sum/n <= 1e-12 {
		return pos
	}

	feature, threshold, ok := b.bestSplit(idx)
	if !ok {
		return pos
	}

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if b.samples[i].Features[feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[pos].feature = feature
	b.nodes[pos].threshold = threshold
	b.nodes[pos].left = l
	b.nodes[pos].right = r
	return pos
}

// bestSplit ищет разбиение с минимальной суммой квадратов отклонений
func (b *treeBuilder) bestSplit(idx []int) (int, float64, bool) {
	candidates := b.rng.Perm(features.Arity)[:b.cfg.MaxFeatures]
	sort.Ints(candidates)

	minLeaf := b.cfg.MinSamplesLeaf
	sorted := make([]int, len(idx))

	bestFeature, bestThreshold, bestSSE := -1, 0.0, 0.0
	for _, f := range candidates {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, c int) bool {
			return b.samples[sorted[a]].Features[f] < b.samples[sorted[c]].Features[f]
		})

		totalSum, totalSq := 0.0, 0.0
		for _, i := range sorted {
			y := b.samples[i].Target
			totalSum += y
			totalSq += y * y
		}

		leftSum, leftSq := 0.0, 0.0
		for k := 0; k < len(sorted)-1; k++ {
			y := b.samples[sorted[k]].Target
			leftSum += y
			leftSq += y * y

			nl := k + 1
			nr := len(sorted) - nl
			if nl < minLeaf || nr < minLeaf {
				continue
			}
			cur := b.samples[sorted[k]].Features[f]
			next := b.samples[sorted[k+1]].Features[f]
			if cur == next {
				continue
			}

			rightSum := totalSum - leftSum
			rightSq := totalSq - leftSq
			sse := (leftSq - leftSum*leftSum/float64(nl)) + (rightSq - rightSum*rightSum/float64(nr))
			if bestFeature < 0 || sse < bestSSE {
				bestFeature = f
				bestThreshold = (cur + next) / 2
				bestSSE = sse
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}
