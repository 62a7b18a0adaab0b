// Package condense turns a single-linkage dendrogram into a flat clustering
// with a minimum cluster size, excess-of-mass stability selection and soft
// membership probabilities.
//
// Distances are mapped to lambda = 1/distance. A merge at infinite distance
// has lambda 0. The dendrogram is walked iteratively with an explicit stack.
package condense

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/hupe1980/fishdbc/model"
)

// ErrInvalidDendrogram is returned for merge lists that do not form a binary tree.
var ErrInvalidDendrogram = errors.New("invalid dendrogram")

// minDistance caps lambda for duplicate points.
const minDistance = 1e-9

// Options configures condensation.
type Options struct {
	// MinClusterSize is the smallest subtree that forms a cluster (at least 2).
	MinClusterSize int
	// AllowSingleCluster permits selecting the root when it has no child clusters.
	AllowSingleCluster bool
}

// DefaultOptions contains the default condensation options.
var DefaultOptions = Options{
	MinClusterSize:     5,
	AllowSingleCluster: true,
}

// Cluster is a node of the condensed tree.
type Cluster struct {
	Parent      int // -1 for the root
	Children    []int
	Size        int
	Stability   float64
	BirthLambda float64
	DeathLambda float64
	Selected    bool
	Members     []model.Handle // set for selected clusters only
}

// BirthDistance returns the distance at which the cluster appeared.
func (c *Cluster) BirthDistance() float64 { return inverse(c.BirthLambda) }

// DeathDistance returns the distance at which the cluster split or dissolved.
func (c *Cluster) DeathDistance() float64 { return inverse(c.DeathLambda) }

// Result is a flat clustering.
type Result struct {
	// Labels holds, per point, an index into Clusters or -1 for noise.
	Labels        []int
	Probabilities []float64
	// Lambdas holds the lambda at which each point left the condensed tree.
	Lambdas  []float64
	Clusters []Cluster
	// Selected lists the selected cluster indices, ordered by lowest member.
	Selected []int
}

func lambdaOf(d float64) float64 {
	if math.IsInf(d, 1) {
		return 0
	}
	return 1 / math.Max(d, minDistance)
}

func inverse(l float64) float64 {
	if l == 0 {
		return model.Infinity
	}
	return 1 / l
}

type condenser struct {
	n        int
	merges   []model.Merge
	clusters []Cluster
	label    []int // dendrogram node -> cluster while walking
	fellFrom []int // point -> cluster it fell out of
	lambdas  []float64
	scratch  []uint32
}

func (c *condenser) size(node uint32) int {
	if int(node) < c.n {
		return 1
	}
	return c.merges[int(node)-c.n].Size
}

// fall records that every leaf under node leaves cluster cl at lambda.
func (c *condenser) fall(node uint32, cl int, lambda float64) {
	birth := c.clusters[cl].BirthLambda
	c.scratch = append(c.scratch[:0], node)
	for len(c.scratch) > 0 {
		x := c.scratch[len(c.scratch)-1]
		c.scratch = c.scratch[:len(c.scratch)-1]
		if int(x) < c.n {
			c.fellFrom[x] = cl
			c.lambdas[x] = lambda
			c.clusters[cl].Stability += lambda - birth
			continue
		}
		m := c.merges[int(x)-c.n]
		c.scratch = append(c.scratch, m.Left, m.Right)
	}
	c.clusters[cl].DeathLambda = math.Max(c.clusters[cl].DeathLambda, lambda)
}

func validate(n int, merges []model.Merge) error {
	if n <= 1 {
		if len(merges) != 0 {
			return fmt.Errorf("%w: %d merges for %d points", ErrInvalidDendrogram, len(merges), n)
		}
		return nil
	}
	if len(merges) != n-1 {
		return fmt.Errorf("%w: %d merges for %d points", ErrInvalidDendrogram, len(merges), n)
	}
	used := make([]bool, 2*n-1)
	for i, m := range merges {
		self := n + i
		for _, child := range []uint32{m.Left, m.Right} {
			if int(child) >= self || used[child] {
				return fmt.Errorf("%w: merge %d references node %d", ErrInvalidDendrogram, i, child)
			}
			used[child] = true
		}
		expected := 1
		if int(m.Left) >= n {
			expected = merges[int(m.Left)-n].Size
		}
		if int(m.Right) >= n {
			expected += merges[int(m.Right)-n].Size
		} else {
			expected++
		}
		if m.Size != expected {
			return fmt.Errorf("%w: merge %d has size %d, want %d", ErrInvalidDendrogram, i, m.Size, expected)
		}
		if math.IsNaN(m.Distance) || m.Distance < 0 {
			return fmt.Errorf("%w: merge %d has distance %v", ErrInvalidDendrogram, i, m.Distance)
		}
	}
	return nil
}

// Condense computes the flat clustering of n points from their dendrogram.
func Condense(n int, merges []model.Merge, optFns ...func(o *Options)) (*Result, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.MinClusterSize = max(opts.MinClusterSize, 2)

	if err := validate(n, merges); err != nil {
		return nil, err
	}

	res := &Result{
		Labels:        make([]int, n),
		Probabilities: make([]float64, n),
		Lambdas:       make([]float64, n),
	}
	for i := range res.Labels {
		res.Labels[i] = -1
	}
	if n == 0 {
		return res, nil
	}

	c := &condenser{
		n:        n,
		merges:   merges,
		clusters: []Cluster{{Parent: -1, Size: n}},
		label:    make([]int, n+len(merges)),
		fellFrom: make([]int, n),
		lambdas:  res.Lambdas,
	}

	root := uint32(n + len(merges) - 1)
	if n == 1 {
		c.fall(root, 0, 0)
	}

	minSize := opts.MinClusterSize
	stack := []uint32{}
	if n > 1 {
		stack = append(stack, root)
	}
	for len(stack) > 0 {
		x := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		cl := c.label[x]

		m := merges[int(x)-n]
		lambda := lambdaOf(m.Distance)
		ls, rs := c.size(m.Left), c.size(m.Right)

		switch {
		case ls >= minSize && rs >= minSize:
			parent := &c.clusters[cl]
			parent.DeathLambda = math.Max(parent.DeathLambda, lambda)
			for _, child := range []uint32{m.Left, m.Right} {
				size := c.size(child)
				c.clusters[cl].Stability += float64(size) * (lambda - c.clusters[cl].BirthLambda)
				id := len(c.clusters)
				c.clusters[cl].Children = append(c.clusters[cl].Children, id)
				c.clusters = append(c.clusters, Cluster{Parent: cl, Size: size, BirthLambda: lambda, DeathLambda: lambda})
				c.label[child] = id
				stack = append(stack, child)
			}
		case ls >= minSize:
			c.fall(m.Right, cl, lambda)
			c.label[m.Left] = cl
			stack = append(stack, m.Left)
		case rs >= minSize:
			c.fall(m.Left, cl, lambda)
			c.label[m.Right] = cl
			stack = append(stack, m.Right)
		default:
			c.fall(m.Left, cl, lambda)
			c.fall(m.Right, cl, lambda)
		}
	}

	res.Clusters = c.clusters
	root0 := &res.Clusters[0]
	selectClusters(res.Clusters, opts.AllowSingleCluster && root0.Size >= minSize && root0.DeathLambda > 0)
	label(res, c.fellFrom)
	return res, nil
}

// selectClusters applies excess-of-mass selection bottom-up. Children always
// have higher indices than their parent. The root is only eligible when it
// has no children.
func selectClusters(clusters []Cluster, allowSingle bool) {
	subtree := make([]float64, len(clusters))
	for i := len(clusters) - 1; i >= 1; i-- {
		cl := &clusters[i]
		if len(cl.Children) == 0 {
			cl.Selected = true
			subtree[i] = cl.Stability
			continue
		}
		var sum float64
		for _, ch := range cl.Children {
			sum += subtree[ch]
		}
		if cl.Stability >= sum {
			cl.Selected = true
			subtree[i] = cl.Stability
			deselectDescendants(clusters, i)
		} else {
			subtree[i] = sum
		}
	}
	if len(clusters) == 1 && allowSingle {
		clusters[0].Selected = true
	}
}

func deselectDescendants(clusters []Cluster, i int) {
	stack := slices.Clone(clusters[i].Children)
	for len(stack) > 0 {
		x := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		clusters[x].Selected = false
		stack = append(stack, clusters[x].Children...)
	}
}

func label(res *Result, fellFrom []int) {
	clusters := res.Clusters
	for p, cl := range fellFrom {
		for cl >= 0 && !clusters[cl].Selected {
			cl = clusters[cl].Parent
		}
		if cl < 0 {
			continue
		}
		// A selected root keeps only the points that persist to its end.
		if cl == 0 && res.Lambdas[p] < clusters[0].DeathLambda {
			continue
		}
		res.Labels[p] = cl
		clusters[cl].Members = append(clusters[cl].Members, model.Handle(p))
	}

	for i := range clusters {
		if !clusters[i].Selected || len(clusters[i].Members) == 0 {
			continue
		}
		res.Selected = append(res.Selected, i)

		var maxLambda float64
		for _, p := range clusters[i].Members {
			maxLambda = math.Max(maxLambda, res.Lambdas[p])
		}
		for _, p := range clusters[i].Members {
			if maxLambda == 0 || math.IsInf(maxLambda, 1) {
				res.Probabilities[p] = 1
				continue
			}
			res.Probabilities[p] = math.Min(res.Lambdas[p], maxLambda) / maxLambda
		}
	}

	slices.SortFunc(res.Selected, func(a, b int) int {
		return int(clusters[a].Members[0]) - int(clusters[b].Members[0])
	})
}
