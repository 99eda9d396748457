// Package graph defines the pipe recipe graph for isopipe.
// A recipe is a set of nodes (joints, ends, tee points) connected by
// center edges (pipe centerlines) and construction edges (helper
// measurements), each optionally carrying a dimension and a directional
// constraint. The solver packages read the recipe and write back only
// derived dimensions, conflict flags, and topology/stress annotations.
package graph
