package anomaly

import (
	"fmt"
	"math"

	"energy-insights/internal/models"
	"energy-insights/internal/pattern"
)

// MicroClusterFraction кластеры меньше этой доли выборки (но не меньше двух точек)
// не считаются опорными: одиночный выброс не должен прятаться в своём кластере.
const MicroClusterFraction = 0.01

// DistanceConfig детектор по расстоянию до ближайшего центра k-means
type DistanceConfig struct {
	Clusters   int
	Percentile float64
	Seed       uint64
}

// Fit кластеризует масштабированные точки и берёт порог по перцентилю расстояний
func (c DistanceConfig) Fit(points []pattern.Point) (Scorer, error) {
	k := c.Clusters
	if k <= 0 {
		k = pattern.DefaultClusters
	}
	if len(points) < k {
		return nil, fmt.Errorf("%w: %d points for %d clusters", models.ErrInsufficientData, len(points), k)
	}
	if c.Percentile <= 0 || c.Percentile >= 100 {
		return nil, fmt.Errorf("percentile %v out of range (0, 100)", c.Percentile)
	}

	scaler := pattern.FitScaler(points)
	scaled := scaler.TransformAll(points)
	km := pattern.FitKMeans(scaled, k, c.Seed)

	minSize := int(math.Ceil(MicroClusterFraction * float64(len(points))))
	if minSize < 2 {
		minSize = 2
	}
	allowed := make([]bool, k)
	found := false
	for i, size := range km.Sizes {
		if size >= minSize {
			allowed[i] = true
			found = true
		}
	}
	if !found {
		allowed = nil
	}

	d := &distanceScorer{scaler: scaler, centers: km.Centers, allowed: allowed}
	distances := make([]float64, len(scaled))
	for i, p := range scaled {
		_, distances[i] = pattern.Nearest(d.centers, d.allowed, p)
	}
	d.threshold = Percentile(distances, c.Percentile)
	return d, nil
}

type distanceScorer struct {
	scaler    pattern.Scaler
	centers   [][2]float64
	allowed   []bool
	threshold float64
}

// Score тяжесть равна расстоянию до ближайшего опорного центра
func (d *distanceScorer) Score(p pattern.Point) Score {
	_, dist := pattern.Nearest(d.centers, d.allowed, d.scaler.Transform(p))
	return Score{IsAnomaly: dist > d.threshold, Severity: dist}
}

func (d *distanceScorer) Threshold() float64 { return d.threshold }
