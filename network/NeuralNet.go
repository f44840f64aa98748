// Package network implements neural networks using Gorgonia. The
// networks in this package only populate computational graphs with the
// operations needed to compute their predictions. Running a virtual
// machine over the graph, and so computing those predictions, is left
// to external code.
package network

import (
	G "gorgonia.org/gorgonia"
)

// NeuralNet is a neural network on a Gorgonia computational graph.
//
// A NeuralNet owns weight nodes in a graph, but not the machinery
// needed to run them. To compute a prediction, first set the input
// with SetInput(), then run a virtual machine over the network's
// graph, then read the prediction with Output().
//
// Fwd() applies the network's weights to an arbitrary node in the
// network's graph. This allows the same weights to predict at many
// points in a single graph, for example when a dynamics model is
// applied repeatedly along a trajectory.
type NeuralNet interface {
	Graph() *G.ExprGraph
	Clone() (NeuralNet, error)
	CloneWithBatch(int) (NeuralNet, error)
	BatchSize() int
	Features() int
	Outputs() int
	SetInput([]float64) error
	Set(NeuralNet) error
	Polyak(NeuralNet, float64) error
	Learnables() G.Nodes
	Model() []G.ValueGrad
	Fwd(*G.Node) (*G.Node, error)
	Output() G.Value
	Prediction() *G.Node
}
