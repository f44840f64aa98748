// Package op provides extended Gorgonia graph operations.
package op

import (
	"math"

	G "gorgonia.org/gorgonia"
)

// LogSumExp calculates the log of the summation of exponentials of
// all logits along the given axis.
//
// Use this in place of Gorgonia's LogSumExp, which has the final sum
// and log interchanged, which is incorrect.
func LogSumExp(logits *G.Node, along int) *G.Node {
	max := G.Must(G.Max(logits, along))

	exponent := G.Must(G.BroadcastSub(logits, max, nil, []byte{byte(along)}))
	exponent = G.Must(G.Exp(exponent))

	sum := G.Must(G.Sum(exponent, along))
	log := G.Must(G.Log(sum))

	return G.Must(G.Add(max, log))
}

// LogSoftmax calculates the log of the softmax of logits along the
// given axis in a numerically stable way.
func LogSoftmax(logits *G.Node, along int) *G.Node {
	lse := LogSumExp(logits, along)
	return G.Must(G.BroadcastSub(logits, lse, nil, []byte{byte(along)}))
}

// Softmax calculates the softmax of logits along the given axis. It is
// computed as the exponential of the log softmax, which subtracts the
// per-row maximum before exponentiating.
func Softmax(logits *G.Node, along int) *G.Node {
	return G.Must(G.Exp(LogSoftmax(logits, along)))
}

// SoftCrossEntropy calculates the cross entropy between a batch of
// predicted logits and a batch of (soft) target distributions along
// the given axis. Rows of targets should each sum to 1. The returned
// node holds one cross entropy value per batch element.
func SoftCrossEntropy(logits, targets *G.Node, along int) *G.Node {
	logProbs := LogSoftmax(logits, along)
	ce := G.Must(G.HadamardProd(targets, logProbs))
	ce = G.Must(G.Sum(ce, along))
	return G.Must(G.Neg(ce))
}

// GaussianLogPdf calculates the log of the probability density
// function of actions drawn from a diagonal Gaussian distribution
// with mean mean and standard deviation std.
//
// All arguments should be two-dimensional and of the same size m x n,
// where rows (m) index samples in the batch and columns (n) index
// action dimensions. The returned node holds one log density per
// batch element:
//
//		logPdf = -½ Σ ((a-μ)/σ)² - Σ log(σ) - (n/2) log(2π)
func GaussianLogPdf(mean, std, actions *G.Node) *G.Node {
	graph := mean.Graph()
	if graph != std.Graph() || graph != actions.Graph() {
		panic("gaussianLogPdf: all nodes must share the same graph")
	}

	dims := float64(mean.Shape()[1])
	negativeHalf := G.NewConstant(-0.5)
	constTerm := G.NewConstant((dims / 2.0) * math.Log(2*math.Pi))

	diff := G.Must(G.Sub(actions, mean))
	exponent := G.Must(G.HadamardDiv(diff, std))
	exponent = G.Must(G.Square(exponent))
	exponent = G.Must(G.Sum(exponent, 1))
	exponent = G.Must(G.HadamardProd(exponent, negativeHalf))

	logDet := G.Must(G.Log(std))
	logDet = G.Must(G.Sum(logDet, 1))

	logPdf := G.Must(G.Sub(exponent, logDet))
	return G.Must(G.Sub(logPdf, constTerm))
}

// TanhLogDetJacobian calculates the log determinant of the Jacobian
// of the tanh squashing function, evaluated at a batch of squashed
// actions. Subtracting this from the log density of the unsquashed
// actions gives the log density of the squashed actions. The small
// additive constant keeps the log finite at saturated actions.
func TanhLogDetJacobian(squashed *G.Node) *G.Node {
	one := G.NewConstant(1.0)
	eps := G.NewConstant(1e-6)

	sq := G.Must(G.Square(squashed))
	inner := G.Must(G.Sub(one, sq))
	inner = G.Must(G.Add(inner, eps))
	logDet := G.Must(G.Log(inner))
	return G.Must(G.Sum(logDet, 1))
}

// SymExp calculates the elementwise inverse of the symmetric
// logarithm symlog(x) = sign(x) * log(1 + |x|):
//
//		symexp(x) = sign(x) * (exp(|x|) - 1)
func SymExp(x *G.Node) *G.Node {
	sign := G.Must(G.Sign(x))
	mag := G.Must(G.Expm1(G.Must(G.Abs(x))))
	return G.Must(G.HadamardProd(sign, mag))
}
