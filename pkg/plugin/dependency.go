package plugin

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
)

// DependencyResolver checks plugin dependencies and computes load order.
type DependencyResolver struct {
	logger zerolog.Logger
}

// NewDependencyResolver creates a new dependency resolver
func NewDependencyResolver(logger zerolog.Logger) *DependencyResolver {
	return &DependencyResolver{
		logger: logger.With().Str("component", "dependency-resolver").Logger(),
	}
}

// BuildGraph builds a dependency graph over the given manifests.
func (r *DependencyResolver) BuildGraph(manifests map[string]*Manifest) *DependencyGraph {
	graph := &DependencyGraph{
		Nodes: make(map[string]*Manifest, len(manifests)),
		Edges: make(map[string][]string, len(manifests)),
	}

	for id, m := range manifests {
		graph.Nodes[id] = m
		deps := make([]string, 0, len(m.Dependencies))
		for _, dep := range m.Dependencies {
			deps = append(deps, dep.PluginID)
		}
		graph.Edges[id] = deps
	}

	return graph
}

// Validate reports, per plugin, the first missing or version-incompatible
// dependency.
func (r *DependencyResolver) Validate(graph *DependencyGraph) map[string]error {
	errs := make(map[string]error)

	for _, id := range sortedIDs(graph) {
		for _, dep := range graph.Nodes[id].Dependencies {
			target, ok := graph.Nodes[dep.PluginID]
			if !ok {
				errs[id] = fmt.Errorf("missing dependency: %s", dep.PluginID)
				break
			}
			if dep.Version == "" {
				continue
			}
			if err := checkVersion(target.Version, dep.Version); err != nil {
				errs[id] = fmt.Errorf("incompatible dependency version for %s: %w", dep.PluginID, err)
				break
			}
		}
		if err, ok := errs[id]; ok {
			r.logger.Error().Err(err).Str("plugin", id).Msg("Dependency check failed")
		}
	}

	return errs
}

// DetectCycles returns every dependency cycle found by depth-first search.
func (r *DependencyResolver) DetectCycles(graph *DependencyGraph) [][]string {
	var cycles [][]string
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var path []string

	var dfs func(id string)
	dfs = func(id string) {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, dep := range graph.Edges[id] {
			if _, known := graph.Nodes[dep]; !known {
				continue
			}
			if !visited[dep] {
				dfs(dep)
				continue
			}
			if onStack[dep] {
				for i, p := range path {
					if p == dep {
						cycles = append(cycles, append([]string(nil), path[i:]...))
						break
					}
				}
			}
		}

		path = path[:len(path)-1]
		onStack[id] = false
	}

	for _, id := range sortedIDs(graph) {
		if !visited[id] {
			dfs(id)
		}
	}

	if len(cycles) > 0 {
		r.logger.Warn().Int("count", len(cycles)).Msg("Detected dependency cycles")
	}
	return cycles
}

// LoadOrder sorts plugin ids so dependencies come before dependents. Ties
// are broken alphabetically.
func (r *DependencyResolver) LoadOrder(graph *DependencyGraph) ([]string, error) {
	if cycles := r.DetectCycles(graph); len(cycles) > 0 {
		return nil, fmt.Errorf("cannot order graph with cycles: %v", cycles)
	}

	var order []string
	done := make(map[string]bool)

	var visit func(id string)
	visit = func(id string) {
		if done[id] {
			return
		}
		done[id] = true
		for _, dep := range graph.Edges[id] {
			if _, known := graph.Nodes[dep]; known {
				visit(dep)
			}
		}
		order = append(order, id)
	}

	for _, id := range sortedIDs(graph) {
		visit(id)
	}

	r.logger.Debug().Strs("order", order).Msg("Computed load order")
	return order, nil
}

// Dependents returns the sorted ids of plugins that depend on id.
func (r *DependencyResolver) Dependents(graph *DependencyGraph, id string) []string {
	var out []string
	for _, other := range sortedIDs(graph) {
		for _, dep := range graph.Edges[other] {
			if dep == id {
				out = append(out, other)
				break
			}
		}
	}
	return out
}

func checkVersion(version, constraint string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid version %s: %w", version, err)
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid version constraint %s: %w", constraint, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("version %s does not satisfy constraint %s", version, constraint)
	}
	return nil
}

func sortedIDs(graph *DependencyGraph) []string {
	ids := make([]string, 0, len(graph.Nodes))
	for id := range graph.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
