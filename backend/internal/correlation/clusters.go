package correlation

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"osintgraph/backend/internal/constants"
	"osintgraph/backend/internal/state"
	apperrors "osintgraph/backend/pkg/errors"
)

// typeRank orders relationship types for picking a cluster's dominant type
var typeRank = map[state.RelationshipType]int{
	state.RelationshipPotential:  1,
	state.RelationshipRelated:    2,
	state.RelationshipSamePerson: 3,
	state.RelationshipSuspicious: 4,
}

// Clusters partitions the canonical entities into connected components over
// edges with confidence >= minConfidence. The configured cluster timeout
// bounds the computation.
func (e *Engine) Clusters(ctx context.Context, minConfidence float64) ([]state.Cluster, error) {
	if e.cfg.ClusterTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ClusterTimeout)
		defer cancel()
	}
	return findClusters(ctx, e.snapshot(), minConfidence)
}

// FindClusters computes clusters over an arbitrary entity/relationship set,
// for export consumers that hold their own copy of the graph.
func FindClusters(ctx context.Context, entities []*state.Entity, rels []*state.Relationship, minConfidence float64) ([]state.Cluster, error) {
	g := newGraphState()
	for _, ent := range entities {
		g.entities[ent.ID] = ent
	}
	for _, r := range rels {
		g.putEdge(r)
	}
	return findClusters(ctx, g, minConfidence)
}

// findClusters walks entities in id order and expands each unvisited one
// breadth-first with sorted neighbours, so identical graphs always yield
// identical clusters in identical order. Cancellation is checked between
// components.
func findClusters(ctx context.Context, g *graphState, minConfidence float64) ([]state.Cluster, error) {
	if minConfidence < 0 || minConfidence > 1 || minConfidence != minConfidence {
		return nil, apperrors.NewScoringError("min_confidence", fmt.Sprintf("must be within [0,1] (got %g)", minConfidence))
	}

	visited := make(map[string]struct{})
	var clusters []state.Cluster
	for _, root := range g.canonicalIDs() {
		if _, ok := visited[root]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, apperrors.NewContextCancelled("find clusters", err)
		}

		visited[root] = struct{}{}
		members := []string{}
		edges := make(map[state.PairKey]*state.Relationship)
		queue := []string{root}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			members = append(members, id)
			for _, r := range g.neighbours(id) {
				if !atLeast(r.Confidence, minConfidence) {
					continue
				}
				other := r.Pair().Other(id)
				if ent, ok := g.entities[other]; !ok || ent.IsAlias() {
					continue
				}
				edges[r.Pair()] = r
				if _, ok := visited[other]; !ok {
					visited[other] = struct{}{}
					queue = append(queue, other)
				}
			}
		}
		clusters = append(clusters, buildCluster(g, members, edges))
	}
	return clusters, nil
}

func buildCluster(g *graphState, members []string, edges map[state.PairKey]*state.Relationship) state.Cluster {
	sort.Strings(members)
	hash := sha256.Sum256([]byte(strings.Join(members, ",")))
	c := state.Cluster{
		ID:        fmt.Sprintf("cluster-%x", hash[:8]),
		EntityIDs: members,
		Edges:     len(edges),
	}

	if len(edges) == 0 {
		c.Confidence = g.entities[members[0]].Confidence
		return c
	}
	sum := 0.0
	for _, p := range sortedPairs(keysOf(edges)) {
		r := edges[p]
		sum += r.Confidence
		if typeRank[r.Type] > typeRank[c.Type] {
			c.Type = r.Type
		}
	}
	c.Confidence = sum / float64(len(edges))
	return c
}

func keysOf(edges map[state.PairKey]*state.Relationship) map[state.PairKey]struct{} {
	out := make(map[state.PairKey]struct{}, len(edges))
	for p := range edges {
		out[p] = struct{}{}
	}
	return out
}

// EntityGraph returns the neighbourhood of an entity up to depth hops,
// starting from its canonical id. Depth is capped at MaxGraphDepth.
func (e *Engine) EntityGraph(ctx context.Context, id string, depth int) (*state.EntityGraph, error) {
	g := e.snapshot()
	if _, ok := g.entities[id]; !ok {
		return nil, apperrors.NewEntityNotFound(id)
	}
	if depth < 0 {
		depth = 0
	}
	if depth > constants.MaxGraphDepth {
		depth = constants.MaxGraphDepth
	}

	root := g.resolve(id)
	out := &state.EntityGraph{RootID: root, Depth: depth, Edges: []*state.Relationship{}}
	dist := map[string]int{root: 0}
	level := []string{root}
	order := []string{root}
	for d := 0; d < depth && len(level) > 0; d++ {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.NewContextCancelled("entity graph", err)
		}
		var next []string
		for _, n := range level {
			for _, r := range g.neighbours(n) {
				other := r.Pair().Other(n)
				if _, ok := dist[other]; ok {
					continue
				}
				dist[other] = d + 1
				next = append(next, other)
				order = append(order, other)
			}
		}
		level = next
	}

	seen := make(map[state.PairKey]struct{})
	for _, n := range order {
		out.Nodes = append(out.Nodes, g.entities[n].Clone())
		for _, r := range g.neighbours(n) {
			p := r.Pair()
			if _, ok := dist[p.Other(n)]; !ok {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out.Edges = append(out.Edges, r.Clone())
		}
	}
	sortRelationships(out.Edges)
	return out, nil
}
