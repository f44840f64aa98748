package solver

import (
	"math"
	"testing"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// gradProbe builds a one-learnable graph whose gradient is exactly
// 2 * weights and runs it, leaving the dual values bound
func gradProbe(t *testing.T, weights []float64) *G.Node {
	t.Helper()

	g := G.NewGraph()
	backing := append([]float64(nil), weights...)
	w := G.NewVector(g, tensor.Float64, G.WithShape(len(backing)),
		G.WithName("W"), G.WithValue(tensor.New(
			tensor.WithShape(len(backing)),
			tensor.WithBacking(backing))))

	loss := G.Must(G.Sum(G.Must(G.Square(w))))
	if _, err := G.Grad(loss, w); err != nil {
		t.Fatalf("could not construct gradient: %v", err)
	}

	vm := G.NewTapeMachine(g, G.BindDualValues(w))
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatalf("could not run graph: %v", err)
	}
	return w
}

func gradData(t *testing.T, w *G.Node) []float64 {
	t.Helper()
	grad, err := w.Grad()
	if err != nil {
		t.Fatalf("could not get gradient: %v", err)
	}
	return grad.Data().([]float64)
}

func TestClipGradNormLeavesSmallGradients(t *testing.T) {
	w := gradProbe(t, []float64{0.5, -1.0, 0.25})
	want := append([]float64(nil), gradData(t, w)...)

	wantNorm := 0.0
	for _, g := range want {
		wantNorm += g * g
	}
	wantNorm = math.Sqrt(wantNorm)

	norm, err := ClipGradNorm([]G.ValueGrad{w}, wantNorm*2)
	if err != nil {
		t.Fatalf("could not clip gradients: %v", err)
	}
	if math.Abs(norm-wantNorm) > 1e-12 {
		t.Errorf("invalid norm \n\twant(%v) \n\thave(%v)", wantNorm,
			norm)
	}
	for i, g := range gradData(t, w) {
		if g != want[i] {
			t.Errorf("gradient %v changed below the bound \n\twant(%v)"+
				" \n\thave(%v)", i, want[i], g)
		}
	}
}

func TestClipGradNormRescalesLargeGradients(t *testing.T) {
	w := gradProbe(t, []float64{3.0, -4.0})

	// Gradient is (6, -8) with norm 10
	maxNorm := 1.0
	norm, err := ClipGradNorm([]G.ValueGrad{w}, maxNorm)
	if err != nil {
		t.Fatalf("could not clip gradients: %v", err)
	}
	if math.Abs(norm-10.0) > 1e-12 {
		t.Errorf("invalid pre-clip norm \n\twant(%v) \n\thave(%v)",
			10.0, norm)
	}

	clippedSq := 0.0
	for _, g := range gradData(t, w) {
		clippedSq += g * g
	}
	clipped := math.Sqrt(clippedSq)
	if math.Abs(clipped-maxNorm) > 1e-6 {
		t.Errorf("clipped norm should be the bound \n\twant(%v) \n\t"+
			"have(%v)", maxNorm, clipped)
	}

	grads := gradData(t, w)
	if grads[0] >= 0 == (grads[1] >= 0) {
		t.Error("clipping should preserve gradient direction")
	}
}

func TestClipGradNormDisabled(t *testing.T) {
	w := gradProbe(t, []float64{3.0, -4.0})
	want := append([]float64(nil), gradData(t, w)...)

	norm, err := ClipGradNorm([]G.ValueGrad{w}, 0.0)
	if err != nil {
		t.Fatalf("could not clip gradients: %v", err)
	}
	if math.Abs(norm-10.0) > 1e-12 {
		t.Errorf("invalid norm \n\twant(%v) \n\thave(%v)", 10.0, norm)
	}
	for i, g := range gradData(t, w) {
		if g != want[i] {
			t.Errorf("disabled clipping should not change gradients "+
				"\n\twant(%v) \n\thave(%v)", want[i], g)
		}
	}
}
