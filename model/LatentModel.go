package model

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/gotdmpc/initwfn"
	"github.com/samuelfneumann/gotdmpc/network"
	"github.com/samuelfneumann/gotdmpc/twohot"
	"github.com/samuelfneumann/gotdmpc/utils/op"
	"github.com/samuelfneumann/gotdmpc/utils/tensorutils"
)

// LatentModel is a WorldModel whose prediction heads are multilayer
// perceptrons sharing a single hidden architecture:
//
//	Encoder:  observation        -> latent state
//	Dynamics: latent ‖ action    -> next latent state
//	Reward:   latent ‖ action    -> two-hot reward logits
//	Q (xNumQ): latent ‖ action   -> two-hot value logits
//	Pi:       latent             -> action mean ‖ raw log std
//
// Each head is held as a batch-one master network, and inference at
// other batch sizes runs on lazily created clones of the master, one
// per batch size, each with its own tape machine. The Build methods of
// the Trainable interface create additional copies of the heads on
// caller-owned graphs and register them as the canonical weights;
// Sync and SyncPi push the canonical weight values back to every
// inference clone.
//
// The reward and value heads predict logits over a shared two-hot bin
// grid, decoded to scalars with the model's Codec.
type LatentModel struct {
	features   int
	actionDims int
	latentDims int
	numQ       int

	numBins    int
	vMin, vMax float64

	hiddenSizes []int
	biases      []bool
	activations []*network.Activation
	initWFn     *initwfn.InitWFn

	tau       float64
	logStdMin float64
	logStdMax float64

	codec *twohot.Codec

	// Inference replicas of each head, keyed by batch size. The
	// batch-one master replica always exists.
	encoder  map[int]*replica
	dynamics map[int]*replica
	reward   map[int]*replica
	q        []map[int]*replica
	targetQ  []map[int]*replica
	pi       map[int]*replica

	// Canonical weights registered by the Build methods, nil until a
	// head is built for training
	encoderTrain  network.NeuralNet
	dynamicsTrain network.NeuralNet
	rewardTrain   network.NeuralNet
	qTrain        []network.NeuralNet
	piTrain       network.NeuralNet

	norm     distuv.Normal
	seed     uint64
	evalMode bool
}

// replica is an inference copy of a prediction head at a fixed batch
// size, together with a virtual machine for running its forward pass
type replica struct {
	net network.NeuralNet
	vm  G.VM
}

// run runs the replica's forward pass on input, which holds the
// replica's input rows flattened in row-major order, and returns a
// copy of the output rows in the same layout.
func (r *replica) run(input []float64) ([]float64, error) {
	if err := r.net.SetInput(input); err != nil {
		return nil, fmt.Errorf("run: could not set input: %v", err)
	}
	if err := r.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("run: could not run vm: %v", err)
	}

	data := r.net.Output().Data().([]float64)
	out := make([]float64, len(data))
	copy(out, data)

	r.vm.Reset()
	return out, nil
}

// New returns a new LatentModel with randomly initialized weights. The
// target value ensemble starts equal to the online ensemble. The seed
// determines the policy head's sampling noise.
func New(config Config, seed uint64) (*LatentModel, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	codec, err := twohot.New(config.NumBins, config.VMin, config.VMax)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	l := &LatentModel{
		features:    config.Features,
		actionDims:  config.ActionDims,
		latentDims:  config.LatentDims,
		numQ:        config.NumQ,
		numBins:     config.NumBins,
		vMin:        config.VMin,
		vMax:        config.VMax,
		hiddenSizes: config.HiddenSizes,
		biases:      config.Biases,
		activations: config.Activations,
		initWFn:     config.InitWFn,
		tau:         config.Tau,
		logStdMin:   config.LogStdMin,
		logStdMax:   config.LogStdMax,
		codec:       codec,
		qTrain:      make([]network.NeuralNet, config.NumQ),
		norm: distuv.Normal{
			Mu:    0.0,
			Sigma: 1.0,
			Src:   rand.NewSource(seed),
		},
		seed: seed,
	}

	pairDims := l.latentDims + l.actionDims

	if l.encoder, err = l.newHead(l.features, l.latentDims); err != nil {
		return nil, fmt.Errorf("new: could not create encoder: %v", err)
	}
	if l.dynamics, err = l.newHead(pairDims, l.latentDims); err != nil {
		return nil, fmt.Errorf("new: could not create dynamics head: %v",
			err)
	}
	if l.reward, err = l.newHead(pairDims, codec.Width()); err != nil {
		return nil, fmt.Errorf("new: could not create reward head: %v",
			err)
	}

	l.q = make([]map[int]*replica, l.numQ)
	l.targetQ = make([]map[int]*replica, l.numQ)
	for i := range l.q {
		if l.q[i], err = l.newHead(pairDims, codec.Width()); err != nil {
			return nil, fmt.Errorf("new: could not create value head "+
				"%v: %v", i, err)
		}
		l.targetQ[i], err = l.newHead(pairDims, codec.Width())
		if err != nil {
			return nil, fmt.Errorf("new: could not create target value "+
				"head %v: %v", i, err)
		}
	}

	if l.pi, err = l.newHead(l.latentDims, 2*l.actionDims); err != nil {
		return nil, fmt.Errorf("new: could not create policy head: %v",
			err)
	}

	if err := l.ResetTargetQ(); err != nil {
		return nil, fmt.Errorf("new: could not reset target value "+
			"ensemble: %v", err)
	}
	return l, nil
}

// newHead creates the batch-one master replica of a prediction head
func (l *LatentModel) newHead(features, outputs int) (map[int]*replica,
	error) {
	net, err := network.NewMLP(features, 1, outputs, G.NewGraph(),
		l.hiddenSizes, l.biases, l.initWFn.InitWFn(), l.activations)
	if err != nil {
		return nil, err
	}

	return map[int]*replica{
		1: {net: net, vm: G.NewTapeMachine(net.Graph())},
	}, nil
}

// replicaFor returns the inference replica of a head for the given
// batch size, creating and caching it if it does not yet exist. New
// replicas copy their weights from the canonical network when one has
// been registered, and from the master replica otherwise.
func (l *LatentModel) replicaFor(reps map[int]*replica, batch int,
	canonical network.NeuralNet, head string) (*replica, error) {
	if rep, ok := reps[batch]; ok {
		return rep, nil
	}

	clone, err := reps[1].net.CloneWithBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("replicafor: could not clone %v head: %v",
			head, err)
	}
	if canonical != nil {
		if err := clone.Set(canonical); err != nil {
			return nil, fmt.Errorf("replicafor: could not copy %v "+
				"weights: %v", head, err)
		}
	}

	rep := &replica{net: clone, vm: G.NewTapeMachine(clone.Graph())}
	reps[batch] = rep
	return rep, nil
}

// Encode maps a batch of observations to latent states
func (l *LatentModel) Encode(obs [][]float64) ([][]float64, error) {
	in, err := flatten(obs, l.features)
	if err != nil {
		return nil, fmt.Errorf("encode: %v", err)
	}

	rep, err := l.replicaFor(l.encoder, len(obs), l.encoderTrain,
		"encoder")
	if err != nil {
		return nil, fmt.Errorf("encode: %v", err)
	}

	out, err := rep.run(in)
	if err != nil {
		return nil, fmt.Errorf("encode: %v", err)
	}
	return unflatten(out, len(obs), l.latentDims), nil
}

// Next predicts the latent states that follow from taking the given
// actions in the given latent states
func (l *LatentModel) Next(z, action [][]float64) ([][]float64, error) {
	in, err := flattenPairs(z, action, l.latentDims, l.actionDims)
	if err != nil {
		return nil, fmt.Errorf("next: %v", err)
	}

	rep, err := l.replicaFor(l.dynamics, len(z), l.dynamicsTrain,
		"dynamics")
	if err != nil {
		return nil, fmt.Errorf("next: %v", err)
	}

	out, err := rep.run(in)
	if err != nil {
		return nil, fmt.Errorf("next: %v", err)
	}
	return unflatten(out, len(z), l.latentDims), nil
}

// Reward predicts the scalar reward earned by taking the given actions
// in the given latent states. The reward head's logits are decoded
// through the model's two-hot codec.
func (l *LatentModel) Reward(z, action [][]float64) ([]float64, error) {
	in, err := flattenPairs(z, action, l.latentDims, l.actionDims)
	if err != nil {
		return nil, fmt.Errorf("reward: %v", err)
	}

	rep, err := l.replicaFor(l.reward, len(z), l.rewardTrain, "reward")
	if err != nil {
		return nil, fmt.Errorf("reward: %v", err)
	}

	out, err := rep.run(in)
	if err != nil {
		return nil, fmt.Errorf("reward: %v", err)
	}

	width := l.codec.Width()
	rewards := make([]float64, len(z))
	for b := range rewards {
		rewards[b] = l.codec.DecodeLogits(out[b*width : (b+1)*width])
	}
	return rewards, nil
}

// Q predicts the action value of the given actions in the given latent
// states. The predictions of the full ensemble are reduced according
// to mode. If target is true, the slow-moving target ensemble predicts
// instead of the online ensemble.
func (l *LatentModel) Q(z, action [][]float64, mode QMode,
	target bool) ([]float64, error) {
	if mode != QMin && mode != QAvg {
		return nil, fmt.Errorf("q: no such ensemble reduction (%v)", mode)
	}

	in, err := flattenPairs(z, action, l.latentDims, l.actionDims)
	if err != nil {
		return nil, fmt.Errorf("q: %v", err)
	}

	ensemble := l.q
	if target {
		ensemble = l.targetQ
	}

	width := l.codec.Width()
	values := make([]float64, len(z))
	for i := 0; i < l.numQ; i++ {
		var canonical network.NeuralNet
		if !target && l.qTrain[i] != nil {
			canonical = l.qTrain[i]
		}

		rep, err := l.replicaFor(ensemble[i], len(z), canonical,
			fmt.Sprintf("value %v", i))
		if err != nil {
			return nil, fmt.Errorf("q: %v", err)
		}

		out, err := rep.run(in)
		if err != nil {
			return nil, fmt.Errorf("q: %v", err)
		}

		for b := range values {
			value := l.codec.DecodeLogits(out[b*width : (b+1)*width])
			switch {
			case i == 0:
				values[b] = value
			case mode == QMin:
				values[b] = math.Min(values[b], value)
			default:
				values[b] += value
			}
		}
	}

	if mode == QAvg {
		for b := range values {
			values[b] /= float64(l.numQ)
		}
	}
	return values, nil
}

// Pi returns the policy head's squashed mean action, a squashed
// sampled action, and the log density of the sampled action for each
// latent state in the batch. In evaluation mode no sampling noise is
// drawn, so the sampled action equals the mean action.
func (l *LatentModel) Pi(z [][]float64) (mean, sampled [][]float64,
	logProb []float64, err error) {
	in, err := flatten(z, l.latentDims)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pi: %v", err)
	}

	rep, err := l.replicaFor(l.pi, len(z), l.piTrain, "policy")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pi: %v", err)
	}

	raw, err := rep.run(in)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pi: %v", err)
	}

	dims := l.actionDims
	mean = make([][]float64, len(z))
	sampled = make([][]float64, len(z))
	logProb = make([]float64, len(z))
	for b := range z {
		row := raw[b*2*dims : (b+1)*2*dims]
		mean[b] = make([]float64, dims)
		sampled[b] = make([]float64, dims)

		density := -0.5 * float64(dims) * math.Log(2*math.Pi)
		for j := 0; j < dims; j++ {
			logStd := l.logStdMin + 0.5*(l.logStdMax-l.logStdMin)*
				(math.Tanh(row[dims+j])+1)

			eps := 0.0
			if !l.evalMode {
				eps = l.norm.Rand()
			}

			action := math.Tanh(row[j] + math.Exp(logStd)*eps)
			mean[b][j] = math.Tanh(row[j])
			sampled[b][j] = action
			density += -0.5*eps*eps - logStd -
				math.Log(1.0-action*action+1e-6)
		}
		logProb[b] = density
	}
	return mean, sampled, logProb, nil
}

// SoftUpdateTargetQ moves every replica of the target value ensemble
// toward the online ensemble by a Polyak average with the model's tau
func (l *LatentModel) SoftUpdateTargetQ() error {
	for i := range l.targetQ {
		source := l.q[i][1].net
		if l.qTrain[i] != nil {
			source = l.qTrain[i]
		}

		for _, rep := range l.targetQ[i] {
			if err := rep.net.Polyak(source, l.tau); err != nil {
				return fmt.Errorf("softupdatetargetq: could not update "+
					"target value head %v: %v", i, err)
			}
		}
	}
	return nil
}

// ResetTargetQ sets every replica of the target value ensemble equal
// to the online ensemble
func (l *LatentModel) ResetTargetQ() error {
	for i := range l.targetQ {
		source := l.q[i][1].net
		if l.qTrain[i] != nil {
			source = l.qTrain[i]
		}

		for _, rep := range l.targetQ[i] {
			if err := rep.net.Set(source); err != nil {
				return fmt.Errorf("resettargetq: could not reset target "+
					"value head %v: %v", i, err)
			}
		}
	}
	return nil
}

// Train sets the model to training mode, in which the policy head
// samples actions
func (l *LatentModel) Train() {
	l.evalMode = false
}

// Eval sets the model to evaluation mode, in which the policy head
// returns mean actions without sampling noise
func (l *LatentModel) Eval() {
	l.evalMode = true
}

// IsEval returns whether the model is in evaluation mode
func (l *LatentModel) IsEval() bool {
	return l.evalMode
}

// Features returns the number of observation features per batch row
func (l *LatentModel) Features() int {
	return l.features
}

// ActionDims returns the number of action dimensions per batch row
func (l *LatentModel) ActionDims() int {
	return l.actionDims
}

// LatentDims returns the number of latent state dimensions per batch
// row
func (l *LatentModel) LatentDims() int {
	return l.latentDims
}

// NumQ returns the number of action-value heads in the ensemble
func (l *LatentModel) NumQ() int {
	return l.numQ
}

// Codec returns the two-hot codec shared by the reward and value heads
func (l *LatentModel) Codec() *twohot.Codec {
	return l.codec
}

// Close frees the virtual machines of all inference replicas
func (l *LatentModel) Close() error {
	heads := []map[int]*replica{l.encoder, l.dynamics, l.reward, l.pi}
	heads = append(heads, l.q...)
	heads = append(heads, l.targetQ...)

	var firstErr error
	for _, reps := range heads {
		for _, rep := range reps {
			if err := rep.vm.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// build instantiates a prediction head on the graph of input with the
// model's current weight values
func (l *LatentModel) build(input *G.Node, features, outputs int,
	master network.NeuralNet, prefix string) (network.NeuralNet, error) {
	if !input.IsMatrix() {
		return nil, fmt.Errorf("input must be a matrix")
	}
	if input.Shape()[1] != features {
		return nil, fmt.Errorf("invalid input columns \n\twant(%v) "+
			"\n\thave(%v)", features, input.Shape()[1])
	}

	net, err := network.NewMLPFromInput(input, outputs, l.hiddenSizes,
		l.biases, l.initWFn.InitWFn(), l.activations, prefix, "")
	if err != nil {
		return nil, err
	}

	if err := net.Set(master); err != nil {
		return nil, err
	}
	return net, nil
}

// BuildEncoder instantiates the encoder on the graph of input and
// registers it as the canonical encoder weights
func (l *LatentModel) BuildEncoder(input *G.Node) (network.NeuralNet,
	error) {
	net, err := l.build(input, l.features, l.latentDims,
		l.encoder[1].net, "Encoder")
	if err != nil {
		return nil, fmt.Errorf("buildencoder: %v", err)
	}
	l.encoderTrain = net
	return net, nil
}

// BuildDynamics instantiates the dynamics head on the graph of input
// and registers it as the canonical dynamics weights
func (l *LatentModel) BuildDynamics(input *G.Node) (network.NeuralNet,
	error) {
	net, err := l.build(input, l.latentDims+l.actionDims, l.latentDims,
		l.dynamics[1].net, "Dynamics")
	if err != nil {
		return nil, fmt.Errorf("builddynamics: %v", err)
	}
	l.dynamicsTrain = net
	return net, nil
}

// BuildReward instantiates the reward head on the graph of input and
// registers it as the canonical reward weights
func (l *LatentModel) BuildReward(input *G.Node) (network.NeuralNet,
	error) {
	net, err := l.build(input, l.latentDims+l.actionDims,
		l.codec.Width(), l.reward[1].net, "Reward")
	if err != nil {
		return nil, fmt.Errorf("buildreward: %v", err)
	}
	l.rewardTrain = net
	return net, nil
}

// BuildQ instantiates value head i on the graph of input and registers
// it as the canonical weights of that head
func (l *LatentModel) BuildQ(i int, input *G.Node) (network.NeuralNet,
	error) {
	if i < 0 || i >= l.numQ {
		return nil, fmt.Errorf("buildq: no value head %v in ensemble "+
			"of %v", i, l.numQ)
	}

	net, err := l.build(input, l.latentDims+l.actionDims,
		l.codec.Width(), l.q[i][1].net, fmt.Sprintf("Q%v", i))
	if err != nil {
		return nil, fmt.Errorf("buildq: %v", err)
	}
	l.qTrain[i] = net
	return net, nil
}

// BuildPi instantiates the policy head on the graph of input and
// registers it as the canonical policy weights
func (l *LatentModel) BuildPi(input *G.Node) (network.NeuralNet, error) {
	net, err := l.build(input, l.latentDims, 2*l.actionDims,
		l.pi[1].net, "Pi")
	if err != nil {
		return nil, fmt.Errorf("buildpi: %v", err)
	}
	l.piTrain = net
	return net, nil
}

// CloneQ instantiates an unregistered copy of value head i on the
// graph of input. The copy starts from the head's current weights but
// is never refreshed by Sync; callers that need it current must Set it
// themselves.
func (l *LatentModel) CloneQ(i int, input *G.Node) (network.NeuralNet,
	error) {
	if i < 0 || i >= l.numQ {
		return nil, fmt.Errorf("cloneq: no value head %v in ensemble "+
			"of %v", i, l.numQ)
	}

	source := l.q[i][1].net
	if l.qTrain[i] != nil {
		source = l.qTrain[i]
	}

	net, err := l.build(input, l.latentDims+l.actionDims,
		l.codec.Width(), source, fmt.Sprintf("Q%vClone", i))
	if err != nil {
		return nil, fmt.Errorf("cloneq: %v", err)
	}
	return net, nil
}

// PiForward adds the squashed-Gaussian sampling operations of the
// policy head to the graph of raw, the output node of a policy head
// built with BuildPi. The node eps supplies one standard normal noise
// value per action dimension for each batch row. The returned nodes
// hold the squashed mean actions, the squashed sampled actions, and
// the log density of each sampled action.
func (l *LatentModel) PiForward(raw, eps *G.Node) (mean, sampled,
	logProb *G.Node, err error) {
	dims := l.actionDims
	if !raw.IsMatrix() || raw.Shape()[1] != 2*dims {
		return nil, nil, nil, fmt.Errorf("piforward: invalid policy "+
			"output shape \n\twant(?, %v) \n\thave(%v)", 2*dims,
			raw.Shape())
	}
	if !eps.IsMatrix() || eps.Shape()[0] != raw.Shape()[0] ||
		eps.Shape()[1] != dims {
		return nil, nil, nil, fmt.Errorf("piforward: invalid noise "+
			"shape \n\twant(%v, %v) \n\thave(%v)", raw.Shape()[0], dims,
			eps.Shape())
	}

	mu := G.Must(G.Slice(raw, nil, tensorutils.NewSlice(0, dims, 1)))
	rawStd := G.Must(G.Slice(raw, nil,
		tensorutils.NewSlice(dims, 2*dims, 1)))

	// Soft clamp of the log standard deviation into
	// [logStdMin, logStdMax]
	logStd := G.Must(G.Tanh(rawStd))
	logStd = G.Must(G.Add(logStd, G.NewConstant(1.0)))
	logStd = G.Must(G.Mul(logStd,
		G.NewConstant(0.5*(l.logStdMax-l.logStdMin))))
	logStd = G.Must(G.Add(logStd, G.NewConstant(l.logStdMin)))
	std := G.Must(G.Exp(logStd))

	unsquashed := G.Must(G.Add(mu, G.Must(G.HadamardProd(std, eps))))
	sampled = G.Must(G.Tanh(unsquashed))
	mean = G.Must(G.Tanh(mu))

	logProb = op.GaussianLogPdf(mu, std, unsquashed)
	logProb = G.Must(G.Sub(logProb, op.TanhLogDetJacobian(sampled)))

	return mean, sampled, logProb, nil
}

// DecodeValue adds operations decoding a batch of reward or value
// logits to scalars, returning a vector node with one value per batch
// row. The decoding matches Codec().DecodeLogits: softmax over the bin
// grid, probability-weighted bin expectation, then the inverse
// symmetric logarithm. The degenerate single-bin grid skips the
// softmax and inverts the raw prediction directly.
func (l *LatentModel) DecodeValue(logits *G.Node) (*G.Node, error) {
	if !logits.IsMatrix() || logits.Shape()[1] != l.codec.Width() {
		return nil, fmt.Errorf("decodevalue: invalid logits shape "+
			"\n\twant(?, %v) \n\thave(%v)", l.codec.Width(),
			logits.Shape())
	}
	rows := logits.Shape()[0]

	switch l.codec.NumBins() {
	case 0:
		return G.Must(G.Reshape(logits, tensor.Shape{rows})), nil
	case 1:
		flat := G.Must(G.Reshape(logits, tensor.Shape{rows}))
		return op.SymExp(flat), nil
	}

	probs := op.Softmax(logits, 1)
	centers := G.NewConstant(tensor.New(
		tensor.WithShape(1, l.codec.NumBins()),
		tensor.WithBacking(l.codec.Centers()),
	))
	expectation := G.Must(G.BroadcastHadamardProd(probs, centers, nil,
		[]byte{0}))
	expectation = G.Must(G.Sum(expectation, 1))
	return op.SymExp(expectation), nil
}

// Sync pushes the canonical encoder, dynamics, reward, and value
// weights to every inference replica. It is an error to Sync before
// all of those heads have been built for training.
func (l *LatentModel) Sync() error {
	if l.encoderTrain == nil || l.dynamicsTrain == nil ||
		l.rewardTrain == nil {
		return fmt.Errorf("sync: model heads have not been built for " +
			"training")
	}
	for i := range l.qTrain {
		if l.qTrain[i] == nil {
			return fmt.Errorf("sync: value head %v has not been built "+
				"for training", i)
		}
	}

	if err := push(l.encoder, l.encoderTrain); err != nil {
		return fmt.Errorf("sync: could not sync encoder: %v", err)
	}
	if err := push(l.dynamics, l.dynamicsTrain); err != nil {
		return fmt.Errorf("sync: could not sync dynamics head: %v", err)
	}
	if err := push(l.reward, l.rewardTrain); err != nil {
		return fmt.Errorf("sync: could not sync reward head: %v", err)
	}
	for i := range l.q {
		if err := push(l.q[i], l.qTrain[i]); err != nil {
			return fmt.Errorf("sync: could not sync value head %v: %v",
				i, err)
		}
	}
	return nil
}

// SyncPi pushes the canonical policy weights to every inference
// replica. It is an error to SyncPi before the policy head has been
// built for training.
func (l *LatentModel) SyncPi() error {
	if l.piTrain == nil {
		return fmt.Errorf("syncpi: policy head has not been built for " +
			"training")
	}
	if err := push(l.pi, l.piTrain); err != nil {
		return fmt.Errorf("syncpi: could not sync policy head: %v", err)
	}
	return nil
}

// push copies the weight values of source into every replica
func push(reps map[int]*replica, source network.NeuralNet) error {
	for _, rep := range reps {
		if err := rep.net.Set(source); err != nil {
			return err
		}
	}
	return nil
}

// Save gob-encodes the model's weights and architecture to the file at
// path. Inference replicas, canonical training copies, and the
// sampling stream are not persisted.
func (l *LatentModel) Save(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save: could not create file: %v", err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(l); err != nil {
		return fmt.Errorf("save: could not encode model: %v", err)
	}
	return nil
}

// Load reads a model previously written by Save. The loaded model's
// policy head samples from a fresh stream seeded with the model's
// original seed.
func Load(path string) (*LatentModel, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load: could not open file: %v", err)
	}
	defer file.Close()

	l := &LatentModel{}
	if err := gob.NewDecoder(file).Decode(l); err != nil {
		return nil, fmt.Errorf("load: could not decode model: %v", err)
	}
	return l, nil
}

// GobEncode implements the gob.GobEncoder interface
func (l *LatentModel) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	initJSON, err := json.Marshal(l.initWFn)
	if err != nil {
		return nil, fmt.Errorf("gobencode: could not encode weight "+
			"initializer: %v", err)
	}

	fields := []interface{}{
		l.features, l.actionDims, l.latentDims, l.numQ,
		l.numBins, l.vMin, l.vMax,
		l.hiddenSizes, l.biases, l.activations,
		l.tau, l.logStdMin, l.logStdMax,
		l.seed, initJSON,
	}
	for _, field := range fields {
		if err := enc.Encode(field); err != nil {
			return nil, fmt.Errorf("gobencode: could not encode "+
				"model configuration: %v", err)
		}
	}

	heads := []map[int]*replica{l.encoder, l.dynamics, l.reward}
	heads = append(heads, l.q...)
	heads = append(heads, l.targetQ...)
	heads = append(heads, l.pi)
	for i, reps := range heads {
		if err := encodeNet(enc, reps[1].net); err != nil {
			return nil, fmt.Errorf("gobencode: could not encode head "+
				"%v: %v", i, err)
		}
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface
func (l *LatentModel) GobDecode(in []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(in))

	var initJSON []byte
	fields := []interface{}{
		&l.features, &l.actionDims, &l.latentDims, &l.numQ,
		&l.numBins, &l.vMin, &l.vMax,
		&l.hiddenSizes, &l.biases, &l.activations,
		&l.tau, &l.logStdMin, &l.logStdMax,
		&l.seed, &initJSON,
	}
	for _, field := range fields {
		if err := dec.Decode(field); err != nil {
			return fmt.Errorf("gobdecode: could not decode model "+
				"configuration: %v", err)
		}
	}

	l.initWFn = &initwfn.InitWFn{}
	if err := json.Unmarshal(initJSON, l.initWFn); err != nil {
		return fmt.Errorf("gobdecode: could not decode weight "+
			"initializer: %v", err)
	}

	codec, err := twohot.New(l.numBins, l.vMin, l.vMax)
	if err != nil {
		return fmt.Errorf("gobdecode: could not recreate codec: %v", err)
	}
	l.codec = codec

	if l.encoder, err = decodeHead(dec); err != nil {
		return fmt.Errorf("gobdecode: could not decode encoder: %v", err)
	}
	if l.dynamics, err = decodeHead(dec); err != nil {
		return fmt.Errorf("gobdecode: could not decode dynamics head: "+
			"%v", err)
	}
	if l.reward, err = decodeHead(dec); err != nil {
		return fmt.Errorf("gobdecode: could not decode reward head: %v",
			err)
	}

	l.q = make([]map[int]*replica, l.numQ)
	l.targetQ = make([]map[int]*replica, l.numQ)
	for i := range l.q {
		if l.q[i], err = decodeHead(dec); err != nil {
			return fmt.Errorf("gobdecode: could not decode value head "+
				"%v: %v", i, err)
		}
	}
	for i := range l.targetQ {
		if l.targetQ[i], err = decodeHead(dec); err != nil {
			return fmt.Errorf("gobdecode: could not decode target "+
				"value head %v: %v", i, err)
		}
	}

	if l.pi, err = decodeHead(dec); err != nil {
		return fmt.Errorf("gobdecode: could not decode policy head: %v",
			err)
	}

	l.encoderTrain = nil
	l.dynamicsTrain = nil
	l.rewardTrain = nil
	l.qTrain = make([]network.NeuralNet, l.numQ)
	l.piTrain = nil
	l.norm = distuv.Normal{
		Mu:    0.0,
		Sigma: 1.0,
		Src:   rand.NewSource(l.seed),
	}
	l.evalMode = false

	return nil
}

// encodeNet writes the gob encoding of a head's network to enc
func encodeNet(enc *gob.Encoder, net network.NeuralNet) error {
	gobber, ok := net.(gob.GobEncoder)
	if !ok {
		return fmt.Errorf("network of type %T cannot be gob encoded",
			net)
	}

	blob, err := gobber.GobEncode()
	if err != nil {
		return err
	}
	return enc.Encode(blob)
}

// decodeHead reads one head's network from dec and wraps it as a
// batch-one master replica
func decodeHead(dec *gob.Decoder) (map[int]*replica, error) {
	var blob []byte
	if err := dec.Decode(&blob); err != nil {
		return nil, err
	}

	net, err := network.LoadMLP(blob)
	if err != nil {
		return nil, err
	}

	return map[int]*replica{
		1: {net: net, vm: G.NewTapeMachine(net.Graph())},
	}, nil
}

// flatten copies a batch of rows into a single row-major slice,
// checking that every row has cols entries
func flatten(rows [][]float64, cols int) ([]float64, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty batch")
	}

	out := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("invalid length for row %v "+
				"\n\twant(%v) \n\thave(%v)", i, cols, len(row))
		}
		out = append(out, row...)
	}
	return out, nil
}

// flattenPairs copies two batches of rows into a single row-major
// slice, concatenating left[i] ‖ right[i] for each row i
func flattenPairs(left, right [][]float64, leftCols,
	rightCols int) ([]float64, error) {
	if len(left) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	if len(left) != len(right) {
		return nil, fmt.Errorf("mismatched batch sizes \n\twant(%v) "+
			"\n\thave(%v)", len(left), len(right))
	}

	out := make([]float64, 0, len(left)*(leftCols+rightCols))
	for i := range left {
		if len(left[i]) != leftCols {
			return nil, fmt.Errorf("invalid length for row %v "+
				"\n\twant(%v) \n\thave(%v)", i, leftCols, len(left[i]))
		}
		if len(right[i]) != rightCols {
			return nil, fmt.Errorf("invalid length for row %v "+
				"\n\twant(%v) \n\thave(%v)", i, rightCols, len(right[i]))
		}
		out = append(out, left[i]...)
		out = append(out, right[i]...)
	}
	return out, nil
}

// unflatten copies a row-major slice into a batch of rows
func unflatten(data []float64, rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
		copy(out[i], data[i*cols:(i+1)*cols])
	}
	return out
}
