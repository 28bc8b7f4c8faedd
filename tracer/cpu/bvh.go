package cpu

import (
	"math"
	"time"

	"github.com/achilleasa/lumen/log"
	"github.com/achilleasa/lumen/types"
)

type axis uint8

const (
	xAxis axis = iota
	yAxis
	zAxis

	// Nodes with this many triangles or fewer always become leaves.
	minLeafTriangles = 4

	// Number of split candidates evaluated per axis.
	splitBuckets = 16

	// The builder will not attempt to calculate split candidates if the
	// node bbox along an axis is less than this threshold.
	minSideLength float32 = 1e-6
)

// A flattened BVH node. Interior nodes store the index of their right child;
// the left child always follows its parent. Leaves store a triangle range.
type bvhNode struct {
	min types.Vec3
	max types.Vec3

	// Right child index for interior nodes.
	right int32

	// First triangle and triangle count for leaves; count is 0 for interior
	// nodes.
	first int32
	count int32
}

func (n *bvhNode) isLeaf() bool {
	return n.count > 0
}

type splitScore struct {
	axis       axis
	splitPoint float32

	leftCount, rightCount int
	score                 float32
}

type buildStats struct {
	nodes    int
	leaves   int
	maxDepth int
}

type bvhBuilder struct {
	logger log.Logger

	tris  []triangle
	nodes []bvhNode

	scoreChan chan splitScore

	stats buildStats
}

// Construct a BVH over tris using the surface area heuristic. The triangle
// slice is reordered in place so that each leaf references a contiguous
// range.
//
// The builder scores splits using the formula:
// score = left count * left bbox area + right count * right bbox area
func buildBVH(logger log.Logger, tris []triangle) []bvhNode {
	if len(tris) == 0 {
		return nil
	}

	b := &bvhBuilder{
		logger:    logger,
		tris:      tris,
		nodes:     make([]bvhNode, 0, 2*len(tris)/minLeafTriangles+1),
		scoreChan: make(chan splitScore),
	}

	start := time.Now()
	b.partition(0, len(tris), 0)
	b.logger.Debugf(
		"BVH build time: %d ms, triangles: %d, maxDepth: %d, nodes: %d, leaves: %d",
		time.Since(start).Nanoseconds()/1e6,
		len(tris), b.stats.maxDepth, b.stats.nodes, b.stats.leaves,
	)
	return b.nodes
}

// Partition the triangle range [from, to) and return the node index.
func (b *bvhBuilder) partition(from, to int, depth int) int32 {
	if depth > b.stats.maxDepth {
		b.stats.maxDepth = depth
	}

	workList := b.tris[from:to]
	bbox := bboxOf(workList)
	node := bvhNode{min: bbox[0], max: bbox[1]}

	if len(workList) <= minLeafTriangles {
		return b.createLeaf(node, from, to)
	}

	bestScore := float32(len(workList)) * surfaceArea(bbox)
	var bestSplit *splitScore

	// Score each axis in parallel
	pendingScores := 0
	side := node.max.Sub(node.min)
	for ax := xAxis; ax <= zAxis; ax++ {
		if side[ax] < minSideLength {
			continue
		}

		pendingScores++
		go func(ax axis) {
			b.scoreChan <- bestAxisSplit(workList, ax, node.min[ax], side[ax])
		}(ax)
	}

	for ; pendingScores > 0; pendingScores-- {
		candidate := <-b.scoreChan
		if candidate.score < bestScore {
			bestScore = candidate.score
			bestSplit = &candidate
		}
	}

	// If no split improves the current node score create a leaf
	if bestSplit == nil {
		return b.createLeaf(node, from, to)
	}

	// Reorder triangles so that the left partition comes first
	mid := from
	for i := from; i < to; i++ {
		if b.tris[i].center[bestSplit.axis] < bestSplit.splitPoint {
			b.tris[i], b.tris[mid] = b.tris[mid], b.tris[i]
			mid++
		}
	}

	nodeIndex := int32(len(b.nodes))
	b.nodes = append(b.nodes, node)
	b.stats.nodes++

	b.partition(from, mid, depth+1)
	b.nodes[nodeIndex].right = b.partition(mid, to, depth+1)

	return nodeIndex
}

func (b *bvhBuilder) createLeaf(node bvhNode, from, to int) int32 {
	node.first = int32(from)
	node.count = int32(to - from)

	nodeIndex := int32(len(b.nodes))
	b.nodes = append(b.nodes, node)
	b.stats.nodes++
	b.stats.leaves++

	return nodeIndex
}

// Evaluate evenly spaced split planes along ax and return the best one.
func bestAxisSplit(workList []triangle, ax axis, origin, length float32) splitScore {
	best := splitScore{axis: ax, score: math.MaxFloat32}
	step := length / splitBuckets
	for bucket := 1; bucket < splitBuckets; bucket++ {
		splitPoint := origin + step*float32(bucket)
		lCount, rCount, score := scoreSplit(workList, ax, splitPoint)
		if score < best.score {
			best = splitScore{
				axis:       ax,
				splitPoint: splitPoint,
				leftCount:  lCount,
				rightCount: rCount,
				score:      score,
			}
		}
	}
	return best
}

// Score a split based on the surface area heuristic. Splits that generate
// empty partitions get the worst possible score.
func scoreSplit(workList []triangle, ax axis, splitPoint float32) (leftCount, rightCount int, score float32) {
	left := emptyBBox()
	right := emptyBBox()

	for i := range workList {
		tri := &workList[i]
		if tri.center[ax] < splitPoint {
			leftCount++
			left = growBBox(left, tri.bbox)
		} else {
			rightCount++
			right = growBBox(right, tri.bbox)
		}
	}

	if leftCount == 0 || rightCount == 0 {
		return leftCount, rightCount, math.MaxFloat32
	}

	score = float32(leftCount)*surfaceArea(left) + float32(rightCount)*surfaceArea(right)
	return leftCount, rightCount, score
}

func emptyBBox() [2]types.Vec3 {
	return [2]types.Vec3{
		{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32},
		{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32},
	}
}

func growBBox(bbox, other [2]types.Vec3) [2]types.Vec3 {
	return [2]types.Vec3{
		types.MinVec3(bbox[0], other[0]),
		types.MaxVec3(bbox[1], other[1]),
	}
}

func bboxOf(tris []triangle) [2]types.Vec3 {
	bbox := emptyBBox()
	for i := range tris {
		bbox = growBBox(bbox, tris[i].bbox)
	}
	return bbox
}

// Half the bbox surface area; the constant factor does not affect ordering.
func surfaceArea(bbox [2]types.Vec3) float32 {
	side := bbox[1].Sub(bbox[0])
	return side[0]*side[1] + side[1]*side[2] + side[0]*side[2]
}
