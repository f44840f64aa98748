// Package model implements latent-space world models for model-based
// reinforcement learning. A world model maps raw observations into a
// learned latent space and predicts, entirely inside that space, how
// the latent state evolves under actions, what rewards those actions
// earn, their long-run value, and which actions a learned policy
// prefers.
//
// The models in this package separate inference from learning. All
// WorldModel methods predict numerically through per-batch-size
// inference replicas of each prediction head, and never build
// gradient machinery. A Trainable model additionally instantiates its
// heads onto caller-owned Gorgonia graphs, so that an update engine
// can compose losses over them and step their weights; Sync pushes
// trained weight values back to the inference replicas.
package model

import (
	G "gorgonia.org/gorgonia"

	"github.com/samuelfneumann/gotdmpc/network"
	"github.com/samuelfneumann/gotdmpc/twohot"
)

// QMode determines how the predictions of an ensemble of action-value
// heads are reduced to a single prediction.
type QMode int

// Available ensemble reductions
const (
	// QMin takes the elementwise minimum over the ensemble
	QMin QMode = iota

	// QAvg takes the elementwise mean over the ensemble
	QAvg
)

// WorldModel is a learned model of an environment in a latent space.
//
// All methods operate on batches. Observation, latent state, and
// action batches are represented as slices of rows, one row per batch
// element. Methods may be called with any batch size; models maintain
// whatever per-batch-size machinery they need internally.
type WorldModel interface {
	// Encode maps a batch of observations to latent states
	Encode(obs [][]float64) ([][]float64, error)

	// Next predicts the latent states that follow from taking the
	// given actions in the given latent states
	Next(z, action [][]float64) ([][]float64, error)

	// Reward predicts the scalar reward earned by taking the given
	// actions in the given latent states
	Reward(z, action [][]float64) ([]float64, error)

	// Q predicts the action value of the given actions in the given
	// latent states, reducing the value ensemble according to mode.
	// If target is true, the slow-moving target ensemble predicts
	// instead of the online ensemble.
	Q(z, action [][]float64, mode QMode, target bool) ([]float64, error)

	// Pi returns the policy head's squashed mean action, a squashed
	// sampled action, and the log density of the sampled action for
	// each latent state in the batch. In evaluation mode the sampled
	// action is the mean action.
	Pi(z [][]float64) (mean, sampled [][]float64, logProb []float64,
		err error)

	// SoftUpdateTargetQ moves the target value ensemble toward the
	// online ensemble by a Polyak average
	SoftUpdateTargetQ() error

	// ResetTargetQ sets the target value ensemble equal to the online
	// ensemble
	ResetTargetQ() error

	Train()       // Set model to training mode
	Eval()        // Set model to evaluation mode
	IsEval() bool // Indicates if in evaluation mode

	Features() int   // Observation features per batch row
	ActionDims() int // Action dimensions per batch row
	LatentDims() int // Latent state dimensions per batch row
	NumQ() int       // Number of action-value heads in the ensemble

	// Close frees the virtual machines of all inference replicas
	Close() error
}

// Trainable is a WorldModel whose heads can be instantiated onto
// caller-owned computational graphs for learning.
//
// Each Build method adds the forward pass of one prediction head to
// the graph of the argument input node, using freshly created weight
// nodes initialized to the model's current weight values, and
// registers those nodes as the canonical weights of that head. An
// update engine differentiates and steps the canonical weights, then
// calls Sync (or SyncPi for the policy head) to push the stepped
// values back to the model's inference replicas.
//
// CloneQ also instantiates a value head on a caller-owned graph, but
// does not register the created weights: the engine is responsible
// for refreshing such clones, typically with Set. Clones serve as
// frozen critics in policy-loss graphs.
type Trainable interface {
	WorldModel

	BuildEncoder(input *G.Node) (network.NeuralNet, error)
	BuildDynamics(input *G.Node) (network.NeuralNet, error)
	BuildReward(input *G.Node) (network.NeuralNet, error)
	BuildQ(i int, input *G.Node) (network.NeuralNet, error)
	BuildPi(input *G.Node) (network.NeuralNet, error)
	CloneQ(i int, input *G.Node) (network.NeuralNet, error)

	// PiForward adds the squashed-Gaussian sampling operations of the
	// policy head to the graph of raw, the policy head's output node.
	// The node eps supplies one standard normal noise value per
	// action dimension for each batch row.
	PiForward(raw, eps *G.Node) (mean, sampled, logProb *G.Node,
		err error)

	// DecodeValue adds operations decoding a batch of value-head
	// logits to scalar values, returning a vector node with one value
	// per batch row
	DecodeValue(logits *G.Node) (*G.Node, error)

	// Codec returns the two-hot codec shared by the reward and value
	// heads
	Codec() *twohot.Codec

	// Sync pushes the canonical encoder, dynamics, reward, and value
	// weights to the inference replicas
	Sync() error

	// SyncPi pushes the canonical policy weights to the inference
	// replicas
	SyncPi() error
}
