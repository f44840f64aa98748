package tdmpc

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/gotdmpc/model"
	"github.com/samuelfneumann/gotdmpc/network"
	"github.com/samuelfneumann/gotdmpc/scale"
	"github.com/samuelfneumann/gotdmpc/solver"
	"github.com/samuelfneumann/gotdmpc/twohot"
	"github.com/samuelfneumann/gotdmpc/utils/op"
)

// actionPenaltyDenom scales the mean squared action magnitude
// subtracted from rewards when the action penalty is enabled
const actionPenaltyDenom = 5

// engine performs the learning step of a TD-MPC agent on batches of
// replay windows.
//
// The engine owns two computational graphs. The model graph encodes
// the first observation of each window, rolls the latent state through
// the dynamics head along the recorded actions, and accumulates the
// consistency, reward, and value losses of those rolled latents
// against no-gradient targets fed in as placeholder values. The policy
// graph evaluates the policy head at every rolled latent of the most
// recent model step and forms the entropy-regularized policy loss
// against frozen copies of the value ensemble.
//
// Targets never carry gradients: they are computed numerically through
// the model's inference replicas before the graphs run. After each
// graph is stepped the corresponding weights are pushed back to the
// replicas, so that the next target pass sees the stepped values.
type engine struct {
	model model.Trainable
	codec *twohot.Codec

	horizon    int
	batchSize  int
	features   int
	actionDims int
	latentDims int
	numQ       int

	discounts []float64
	task      int

	gradClipNorm  float64
	actionPenalty bool
	rewardHook    func(float64) float64

	// Model-loss graph
	g             *G.ExprGraph
	obs0          *G.Node
	actions       []*G.Node
	nextZ         []*G.Node
	rewardTargets []*G.Node
	valueTargets  []*G.Node

	encNet network.NeuralNet
	dynNet network.NeuralNet
	rewNet network.NeuralNet
	qNets  []network.NeuralNet

	consistencyVal G.Value
	rewardVal      G.Value
	valueVal       G.Value
	totalVal       G.Value
	zVals          []G.Value

	vm        G.VM
	headModel []G.ValueGrad
	allModel  []G.ValueGrad
	solver    *solver.Solver
	encSolver *solver.Solver

	// Policy-loss graph
	piG       *G.ExprGraph
	piZ       *G.Node
	piEps     *G.Node
	scaleInv  *G.Node
	piNet     network.NeuralNet
	cloneQs   []network.NeuralNet
	piLossVal G.Value
	piVM      G.VM
	piSolver  *solver.Solver

	qScale *scale.RunningScale

	norm distuv.Normal
}

// newEngine returns a new learning engine stepping the given model.
// The configuration is assumed validated.
func newEngine(m model.Trainable, config Config,
	seed uint64) (*engine, error) {
	if m == nil {
		return nil, fmt.Errorf("newengine: no world model given")
	}

	e := &engine{
		model:         m,
		codec:         m.Codec(),
		horizon:       config.Horizon,
		batchSize:     config.BatchSize,
		features:      m.Features(),
		actionDims:    m.ActionDims(),
		latentDims:    m.LatentDims(),
		numQ:          m.NumQ(),
		discounts:     discounts(config),
		gradClipNorm:  config.GradClipNorm,
		actionPenalty: config.ActionPenalty,
		solver:        config.Solver,
		piSolver:      config.PiSolver,
		norm: distuv.Normal{Mu: 0.0, Sigma: 1.0,
			Src: rand.NewSource(seed)},
	}

	encSolver, err := config.Solver.Scaled(config.EncoderLRScale)
	if err != nil {
		return nil, fmt.Errorf("newengine: could not scale encoder "+
			"solver: %v", err)
	}
	e.encSolver = encSolver

	// The value spread estimate moves at the same rate as the target
	// value ensemble
	qScale, err := scale.NewRunningScale(config.Model.Tau)
	if err != nil {
		return nil, fmt.Errorf("newengine: %v", err)
	}
	e.qScale = qScale

	if err := e.buildModelGraph(config); err != nil {
		return nil, fmt.Errorf("newengine: %v", err)
	}
	if err := e.buildPiGraph(config); err != nil {
		return nil, fmt.Errorf("newengine: %v", err)
	}
	return e, nil
}

// buildModelGraph populates the model-loss graph: the latent rollout
// from the first observation along the recorded actions, and the
// rho-weighted consistency, reward, and value losses of the rolled
// latents.
func (e *engine) buildModelGraph(config Config) error {
	H, B := e.horizon, e.batchSize
	width := e.codec.Width()

	g := G.NewGraph()
	e.g = g

	e.obs0 = G.NewMatrix(g, tensor.Float64,
		G.WithShape(B, e.features), G.WithName("InitialObs"))

	e.actions = make([]*G.Node, H)
	e.nextZ = make([]*G.Node, H)
	e.rewardTargets = make([]*G.Node, H)
	e.valueTargets = make([]*G.Node, H)
	for t := 0; t < H; t++ {
		e.actions[t] = G.NewMatrix(g, tensor.Float64,
			G.WithShape(B, e.actionDims),
			G.WithName(fmt.Sprintf("Action%d", t)))
		e.nextZ[t] = G.NewMatrix(g, tensor.Float64,
			G.WithShape(B, e.latentDims),
			G.WithName(fmt.Sprintf("NextLatent%d", t)))
		e.rewardTargets[t] = G.NewMatrix(g, tensor.Float64,
			G.WithShape(B, width),
			G.WithName(fmt.Sprintf("RewardTarget%d", t)))
		e.valueTargets[t] = G.NewMatrix(g, tensor.Float64,
			G.WithShape(B, width),
			G.WithName(fmt.Sprintf("ValueTarget%d", t)))
	}

	encNet, err := e.model.BuildEncoder(e.obs0)
	if err != nil {
		return err
	}
	e.encNet = encNet
	e.qNets = make([]network.NeuralNet, e.numQ)

	e.zVals = make([]G.Value, H+1)
	z := encNet.Prediction()
	G.Read(z, &e.zVals[0])

	var consistency, rewardLoss, valueLoss *G.Node
	for t := 0; t < H; t++ {
		in, err := G.Concat(1, z, e.actions[t])
		if err != nil {
			return fmt.Errorf("could not join latents and actions: %v",
				err)
		}

		var zNext, rewLogits *G.Node
		qLogits := make([]*G.Node, e.numQ)
		if t == 0 {
			dynNet, err := e.model.BuildDynamics(in)
			if err != nil {
				return err
			}
			e.dynNet = dynNet
			zNext = dynNet.Prediction()

			rewNet, err := e.model.BuildReward(in)
			if err != nil {
				return err
			}
			e.rewNet = rewNet
			rewLogits = rewNet.Prediction()

			for i := range e.qNets {
				qNet, err := e.model.BuildQ(i, in)
				if err != nil {
					return err
				}
				e.qNets[i] = qNet
				qLogits[i] = qNet.Prediction()
			}
		} else {
			if zNext, err = e.dynNet.Fwd(in); err != nil {
				return err
			}
			if rewLogits, err = e.rewNet.Fwd(in); err != nil {
				return err
			}
			for i := range e.qNets {
				if qLogits[i], err = e.qNets[i].Fwd(in); err != nil {
					return err
				}
			}
		}

		rho := math.Pow(config.Rho, float64(t))

		diff := G.Must(G.Sub(zNext, e.nextZ[t]))
		mse := G.Must(G.Mean(G.Must(G.Square(diff))))
		consistency = accumulate(consistency, mse, rho/float64(H))

		rewardLoss = accumulate(rewardLoss,
			e.headLoss(rewLogits, e.rewardTargets[t]), rho/float64(H))

		for i := range qLogits {
			valueLoss = accumulate(valueLoss,
				e.headLoss(qLogits[i], e.valueTargets[t]),
				rho/float64(H*e.numQ))
		}

		z = zNext
		G.Read(z, &e.zVals[t+1])
	}

	total := G.Must(G.Mul(consistency,
		G.NewConstant(config.ConsistencyCoef)))
	total = G.Must(G.Add(total, G.Must(G.Mul(rewardLoss,
		G.NewConstant(config.RewardCoef)))))
	total = G.Must(G.Add(total, G.Must(G.Mul(valueLoss,
		G.NewConstant(config.ValueCoef)))))

	G.Read(consistency, &e.consistencyVal)
	G.Read(rewardLoss, &e.rewardVal)
	G.Read(valueLoss, &e.valueVal)
	G.Read(total, &e.totalVal)

	learnables := append(G.Nodes{}, encNet.Learnables()...)
	learnables = append(learnables, e.dynNet.Learnables()...)
	learnables = append(learnables, e.rewNet.Learnables()...)
	for _, qNet := range e.qNets {
		learnables = append(learnables, qNet.Learnables()...)
	}
	if _, err := G.Grad(total, learnables...); err != nil {
		return fmt.Errorf("could not construct model gradient: %v", err)
	}

	e.headModel = append([]G.ValueGrad{}, e.dynNet.Model()...)
	e.headModel = append(e.headModel, e.rewNet.Model()...)
	for _, qNet := range e.qNets {
		e.headModel = append(e.headModel, qNet.Model()...)
	}
	e.allModel = append([]G.ValueGrad{}, encNet.Model()...)
	e.allModel = append(e.allModel, e.headModel...)

	e.vm = G.NewTapeMachine(g, G.BindDualValues(learnables...))
	return nil
}

// buildPiGraph populates the policy-loss graph: the policy head
// applied to every rolled latent, frozen copies of the value ensemble
// scoring the sampled actions, and the rho-weighted
// entropy-regularized loss.
func (e *engine) buildPiGraph(config Config) error {
	H, B := e.horizon, e.batchSize
	rows := (H + 1) * B

	g := G.NewGraph()
	e.piG = g

	e.piZ = G.NewMatrix(g, tensor.Float64,
		G.WithShape(rows, e.latentDims), G.WithName("RolledLatents"))
	e.piEps = G.NewMatrix(g, tensor.Float64,
		G.WithShape(rows, e.actionDims), G.WithName("PiNoise"))
	e.scaleInv = G.NewScalar(g, tensor.Float64, G.WithName("ScaleInv"))

	piNet, err := e.model.BuildPi(e.piZ)
	if err != nil {
		return err
	}
	e.piNet = piNet

	_, sampled, logProb, err := e.model.PiForward(piNet.Prediction(),
		e.piEps)
	if err != nil {
		return err
	}

	qIn, err := G.Concat(1, e.piZ, sampled)
	if err != nil {
		return fmt.Errorf("could not join latents and actions: %v", err)
	}

	e.cloneQs = make([]network.NeuralNet, e.numQ)
	var avgQ *G.Node
	for i := range e.cloneQs {
		clone, err := e.model.CloneQ(i, qIn)
		if err != nil {
			return err
		}
		e.cloneQs[i] = clone

		decoded, err := e.model.DecodeValue(clone.Prediction())
		if err != nil {
			return err
		}
		if avgQ == nil {
			avgQ = decoded
		} else {
			avgQ = G.Must(G.Add(avgQ, decoded))
		}
	}
	avgQ = G.Must(G.Mul(avgQ, G.NewConstant(1.0/float64(e.numQ))))
	scaledQ := G.Must(G.Mul(avgQ, e.scaleInv))

	entropy := G.Must(G.Mul(logProb,
		G.NewConstant(config.EntropyCoef)))
	perRow := G.Must(G.Sub(entropy, scaledQ))

	// Later timesteps count less; averaging over both time and batch
	// folds into the weights
	weights := make([]float64, rows)
	for t := 0; t <= H; t++ {
		w := math.Pow(config.Rho, float64(t)) / float64(rows)
		for b := 0; b < B; b++ {
			weights[t*B+b] = w
		}
	}
	wNode := G.NewConstant(tensor.New(tensor.WithShape(rows),
		tensor.WithBacking(weights)))

	piLoss := G.Must(G.HadamardProd(perRow, wNode))
	piLoss = G.Must(G.Sum(piLoss))
	G.Read(piLoss, &e.piLossVal)

	if _, err := G.Grad(piLoss, piNet.Learnables()...); err != nil {
		return fmt.Errorf("could not construct policy gradient: %v", err)
	}

	e.piVM = G.NewTapeMachine(g,
		G.BindDualValues(piNet.Learnables()...))
	return nil
}

// headLoss returns the average loss of one prediction head against
// its encoded targets: soft cross entropy over the categorical bin
// grid, or mean squared error for the degenerate grids, which regress
// directly.
func (e *engine) headLoss(logits, target *G.Node) *G.Node {
	if e.codec.NumBins() > 1 {
		return G.Must(G.Mean(op.SoftCrossEntropy(logits, target, 1)))
	}
	diff := G.Must(G.Sub(logits, target))
	return G.Must(G.Mean(G.Must(G.Square(diff))))
}

// accumulate adds weight * term to acc, treating a nil acc as zero
func accumulate(acc, term *G.Node, weight float64) *G.Node {
	term = G.Must(G.Mul(term, G.NewConstant(weight)))
	if acc == nil {
		return term
	}
	return G.Must(G.Add(acc, term))
}

// setTask selects the task whose discount constructs TD targets
func (e *engine) setTask(task int) error {
	if task < 0 || task >= len(e.discounts) {
		return fmt.Errorf("settask: no such task \n\twant(task in [0, "+
			"%v)) \n\thave(%v)", len(e.discounts), task)
	}
	e.task = task
	return nil
}

// setRewardHook installs a transformation applied to every replay
// reward before it is used in targets. A nil hook leaves rewards
// unchanged.
func (e *engine) setRewardHook(hook func(float64) float64) {
	e.rewardHook = hook
}

// update performs one learning step on a batch of replay windows. The
// arguments follow the layout of seqreplay.SampleWindows: horizon+1
// observation batches, horizon action batches, and horizon reward
// batches, each flattened row-major over the batch. It returns
// diagnostic metrics of the step.
func (e *engine) update(obs, actionSeq,
	rewardSeq [][]float64) (map[string]float64, error) {
	H := e.horizon
	if len(obs) != H+1 || len(actionSeq) != H || len(rewardSeq) != H {
		return nil, fmt.Errorf("update: invalid window lengths \n\t"+
			"want(%v obs, %v action, %v reward batches) \n\thave(%v, "+
			"%v, %v)", H+1, H, H, len(obs), len(actionSeq),
			len(rewardSeq))
	}

	nextZ, tdTargets, rewards, err := e.targets(obs, actionSeq,
		rewardSeq)
	if err != nil {
		return nil, fmt.Errorf("update: %v", err)
	}

	if err := e.feedModelGraph(obs[0], actionSeq, nextZ, tdTargets,
		rewards); err != nil {
		return nil, fmt.Errorf("update: %v", err)
	}

	if err := e.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("update: could not compute model "+
			"losses: %v", err)
	}

	metrics := map[string]float64{
		"consistency_loss": e.consistencyVal.Data().(float64),
		"reward_loss":      e.rewardVal.Data().(float64),
		"value_loss":       e.valueVal.Data().(float64),
		"total_loss":       e.totalVal.Data().(float64),
	}
	latents, err := e.latentRows()
	if err != nil {
		return nil, fmt.Errorf("update: %v", err)
	}

	gradNorm, err := solver.ClipGradNorm(e.allModel, e.gradClipNorm)
	if err != nil {
		return nil, fmt.Errorf("update: %v", err)
	}
	metrics["grad_norm"] = gradNorm

	if err := e.encSolver.Step(e.encNet.Model()); err != nil {
		return nil, fmt.Errorf("update: could not step encoder: %v", err)
	}
	if err := e.solver.Step(e.headModel); err != nil {
		return nil, fmt.Errorf("update: could not step model heads: %v",
			err)
	}
	e.vm.Reset()

	if err := e.model.Sync(); err != nil {
		return nil, fmt.Errorf("update: %v", err)
	}

	piLoss, piGradNorm, err := e.improvePolicy(latents)
	if err != nil {
		return nil, fmt.Errorf("update: %v", err)
	}
	metrics["pi_loss"] = piLoss
	metrics["pi_grad_norm"] = piGradNorm
	metrics["pi_scale"] = e.qScale.Value()

	if err := e.model.SyncPi(); err != nil {
		return nil, fmt.Errorf("update: %v", err)
	}
	if err := e.model.SoftUpdateTargetQ(); err != nil {
		return nil, fmt.Errorf("update: %v", err)
	}

	return metrics, nil
}

// targets runs the no-gradient target pass: it encodes the
// observations from timestep 1 on, transforms the rewards, and forms
// the pessimistic TD target of every timestep by bootstrapping with
// the minimum of the target value ensemble at a policy action. It
// returns the encodings as batch rows, the TD targets, and the
// transformed rewards.
func (e *engine) targets(obs, actionSeq,
	rewardSeq [][]float64) ([][]float64, [][]float64, [][]float64,
	error) {
	H, B := e.horizon, e.batchSize

	nextRows := make([][]float64, 0, H*B)
	for t := 1; t <= H; t++ {
		rows, err := subRows(obs[t], B, e.features)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("targets: invalid "+
				"observation batch %v: %v", t, err)
		}
		nextRows = append(nextRows, rows...)
	}

	zNext, err := e.model.Encode(nextRows)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("targets: could not encode "+
			"observations: %v", err)
	}
	_, piActions, _, err := e.model.Pi(zNext)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("targets: could not sample "+
			"policy: %v", err)
	}
	bootstrap, err := e.model.Q(zNext, piActions, model.QMin, true)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("targets: could not predict "+
			"values: %v", err)
	}

	gamma := e.discounts[e.task]
	rewards := make([][]float64, H)
	tdTargets := make([][]float64, H)
	for t := 0; t < H; t++ {
		if len(actionSeq[t]) != B*e.actionDims {
			return nil, nil, nil, fmt.Errorf("targets: invalid action "+
				"batch %v \n\twant(%v values) \n\thave(%v)", t,
				B*e.actionDims, len(actionSeq[t]))
		}
		if len(rewardSeq[t]) != B {
			return nil, nil, nil, fmt.Errorf("targets: invalid reward "+
				"batch %v \n\twant(%v values) \n\thave(%v)", t, B,
				len(rewardSeq[t]))
		}

		rewards[t] = make([]float64, B)
		tdTargets[t] = make([]float64, B)
		for b := 0; b < B; b++ {
			r := rewardSeq[t][b]
			if e.rewardHook != nil {
				r = e.rewardHook(r)
			}
			if e.actionPenalty {
				a := actionSeq[t][b*e.actionDims : (b+1)*e.actionDims]
				r -= floats.Dot(a, a) /
					float64(e.actionDims*actionPenaltyDenom)
			}
			rewards[t][b] = r
			tdTargets[t][b] = r + gamma*bootstrap[t*B+b]
		}
	}
	return zNext, tdTargets, rewards, nil
}

// feedModelGraph writes one batch of windows and targets into the
// model graph's placeholder nodes
func (e *engine) feedModelGraph(obs0 []float64, actionSeq, zNext,
	tdTargets, rewards [][]float64) error {
	B := e.batchSize
	width := e.codec.Width()

	if len(obs0) != B*e.features {
		return fmt.Errorf("invalid observation batch \n\twant(%v "+
			"values) \n\thave(%v)", B*e.features, len(obs0))
	}
	if err := G.Let(e.obs0, dense(e.obs0, obs0)); err != nil {
		return err
	}

	for t := range e.actions {
		if err := G.Let(e.actions[t], dense(e.actions[t],
			actionSeq[t])); err != nil {
			return err
		}
		if err := G.Let(e.nextZ[t], dense(e.nextZ[t],
			flatRows(zNext[t*B:(t+1)*B]))); err != nil {
			return err
		}

		rewT := make([]float64, B*width)
		valT := make([]float64, B*width)
		for b := 0; b < B; b++ {
			e.codec.EncodeInto(rewards[t][b], rewT[b*width:(b+1)*width])
			e.codec.EncodeInto(tdTargets[t][b],
				valT[b*width:(b+1)*width])
		}
		if err := G.Let(e.rewardTargets[t], dense(e.rewardTargets[t],
			rewT)); err != nil {
			return err
		}
		if err := G.Let(e.valueTargets[t], dense(e.valueTargets[t],
			valT)); err != nil {
			return err
		}
	}
	return nil
}

// improvePolicy performs one policy improvement step over the rolled
// latents of the most recent model step. The frozen critics are
// refreshed to the just-stepped value weights and the running scale
// ingests the first timestep's values before normalizing. It returns
// the policy loss and the pre-clip policy gradient norm.
func (e *engine) improvePolicy(latents [][]float64) (float64, float64,
	error) {
	B := e.batchSize

	for i, clone := range e.cloneQs {
		if err := clone.Set(e.qNets[i]); err != nil {
			return 0, 0, fmt.Errorf("improvepolicy: could not refresh "+
				"frozen critic %v: %v", i, err)
		}
	}

	z0 := latents[:B]
	_, sampled, _, err := e.model.Pi(z0)
	if err != nil {
		return 0, 0, fmt.Errorf("improvepolicy: could not sample "+
			"policy: %v", err)
	}
	values, err := e.model.Q(z0, sampled, model.QAvg, false)
	if err != nil {
		return 0, 0, fmt.Errorf("improvepolicy: could not predict "+
			"values: %v", err)
	}
	if err := e.qScale.Update(values); err != nil {
		return 0, 0, fmt.Errorf("improvepolicy: %v", err)
	}

	eps := make([]float64, len(latents)*e.actionDims)
	for i := range eps {
		eps[i] = e.norm.Rand()
	}

	if err := G.Let(e.piZ, dense(e.piZ, flatRows(latents))); err != nil {
		return 0, 0, fmt.Errorf("improvepolicy: %v", err)
	}
	if err := G.Let(e.piEps, dense(e.piEps, eps)); err != nil {
		return 0, 0, fmt.Errorf("improvepolicy: %v", err)
	}
	if err := G.Let(e.scaleInv, e.qScale.Inv()); err != nil {
		return 0, 0, fmt.Errorf("improvepolicy: %v", err)
	}

	if err := e.piVM.RunAll(); err != nil {
		return 0, 0, fmt.Errorf("improvepolicy: could not compute "+
			"policy loss: %v", err)
	}
	loss := e.piLossVal.Data().(float64)

	gradNorm, err := solver.ClipGradNorm(e.piNet.Model(),
		e.gradClipNorm)
	if err != nil {
		return 0, 0, fmt.Errorf("improvepolicy: %v", err)
	}
	if err := e.piSolver.Step(e.piNet.Model()); err != nil {
		return 0, 0, fmt.Errorf("improvepolicy: could not step "+
			"policy: %v", err)
	}
	e.piVM.Reset()

	return loss, gradNorm, nil
}

// latentRows copies the rolled latents read off the model graph into
// one timestep-major batch of rows
func (e *engine) latentRows() ([][]float64, error) {
	B := e.batchSize
	rows := make([][]float64, 0, len(e.zVals)*B)
	for t, val := range e.zVals {
		if val == nil {
			return nil, fmt.Errorf("latentrows: latent %v has not been "+
				"computed", t)
		}
		data, ok := val.Data().([]float64)
		if !ok {
			return nil, fmt.Errorf("latentrows: latents must be "+
				"[]float64 but got %T", val.Data())
		}

		flat := append([]float64(nil), data...)
		batch, err := subRows(flat, B, e.latentDims)
		if err != nil {
			return nil, fmt.Errorf("latentrows: %v", err)
		}
		rows = append(rows, batch...)
	}
	return rows, nil
}

// close frees the engine's virtual machines
func (e *engine) close() error {
	err := e.vm.Close()
	if piErr := e.piVM.Close(); piErr != nil && err == nil {
		err = piErr
	}
	return err
}

// dense wraps a flat backing in a tensor shaped like node
func dense(node *G.Node, backing []float64) tensor.Tensor {
	return tensor.NewDense(tensor.Float64, node.Shape(),
		tensor.WithBacking(backing))
}

// subRows slices a flat batch into count rows of cols values each.
// Rows share the backing of flat.
func subRows(flat []float64, count, cols int) ([][]float64, error) {
	if len(flat) != count*cols {
		return nil, fmt.Errorf("subrows: invalid batch size \n\twant"+
			"(%v) \n\thave(%v)", count*cols, len(flat))
	}
	rows := make([][]float64, count)
	for i := range rows {
		rows[i] = flat[i*cols : (i+1)*cols]
	}
	return rows, nil
}

// flatRows concatenates rows into one flat backing
func flatRows(rows [][]float64) []float64 {
	if len(rows) == 0 {
		return nil
	}
	flat := make([]float64, 0, len(rows)*len(rows[0]))
	for _, row := range rows {
		flat = append(flat, row...)
	}
	return flat
}
