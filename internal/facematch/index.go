package facematch

import (
	"cmp"
	"iter"
	"slices"
	"sync"

	"github.com/coder/hnsw"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database"
)

// HNSW graph parameters for face embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWSearchMultiplier widens each search so students with several
	// references still surface enough distinct candidates.
	HNSWSearchMultiplier = 3
)

// Index is an approximate nearest-neighbour shortlist over all enrolled
// references. The graph is rebuilt lazily whenever the snapshot version changes.
type Index struct {
	metric    Metric
	normalize bool
	students  int // distinct students to shortlist

	mu      sync.Mutex
	version uint64
	graph   *hnsw.Graph[int]
	owners  []string // node key -> student ID
	refs    map[string][][]float32
}

// NewIndex creates an index that shortlists up to students candidates per probe.
func NewIndex(metric Metric, normalize bool, students int) *Index {
	return &Index{metric: metric, normalize: normalize, students: max(1, students)}
}

func euclideanDistance32(a, b []float32) float32 {
	return float32(EuclideanDistance(a, b))
}

func (ix *Index) rebuild(snap *database.Snapshot) {
	g := hnsw.NewGraph[int]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors)
	if ix.metric == MetricEuclidean {
		g.Distance = euclideanDistance32
	} else {
		g.Distance = hnsw.CosineDistance
	}

	ix.owners = ix.owners[:0]
	ix.refs = make(map[string][][]float32, snap.Len())
	for c := range snap.All() {
		ix.refs[c.StudentID] = c.References
		for _, ref := range c.References {
			if ix.normalize {
				ref = Normalize(ref)
			}
			g.Add(hnsw.MakeNode(len(ix.owners), ref))
			ix.owners = append(ix.owners, c.StudentID)
		}
	}
	ix.graph = g
	ix.version = snap.Version
}

// Shortlist returns the students owning the references nearest to probe,
// each with its full reference set, ordered by student ID.
func (ix *Index) Shortlist(probe []float32, snap *database.Snapshot) iter.Seq[database.Candidate] {
	ix.mu.Lock()
	if ix.graph == nil || ix.version != snap.Version {
		ix.rebuild(snap)
	}
	q := probe
	if ix.normalize {
		q = Normalize(probe)
	}
	neighbors := ix.graph.Search(q, ix.students*HNSWSearchMultiplier)
	slices.SortStableFunc(neighbors, func(a, b hnsw.Node[int]) int {
		return cmp.Compare(ix.metric.Distance(q, a.Value), ix.metric.Distance(q, b.Value))
	})

	seen := make(map[string]bool)
	var ids []string
	for _, n := range neighbors {
		id := ix.owners[n.Key]
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) > ix.students {
		ids = ids[:ix.students]
	}
	out := make([]database.Candidate, len(ids))
	for i, id := range ids {
		out[i] = database.Candidate{StudentID: id, References: ix.refs[id]}
	}
	ix.mu.Unlock()

	slices.SortFunc(out, func(a, b database.Candidate) int { return cmp.Compare(a.StudentID, b.StudentID) })
	return slices.Values(out)
}

// Len returns the number of indexed references.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.owners)
}
