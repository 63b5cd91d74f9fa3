package fitting

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const numParams = 8

// Tuning for the Levenberg-Marquardt loop. The stage data is small (a few
// hundred samples at most) so a generous iteration cap is still cheap.
const (
	lmMaxIterations   = 200
	lmInitialLambda   = 1e-3
	lmLambdaGrowth    = 10.0
	lmLambdaShrink    = 0.1
	lmRelativeRSSStop = 1e-12
	lmJacobianStep    = 1e-6
)

// The model parameters span wildly different magnitudes at the temperatures
// the heater reaches: T^4 is ~1e11 at 780 °C while the matching polynomial
// coefficient is ~1e-12, so the unscaled normal equations are numerically
// singular in float64. The minimization therefore runs on a scaled parameter
// vector: temperatures in units of lmTemperatureScale, tau in units of
// lmTauScale, and the polynomial coefficients absorbed into that temperature
// unit, which keeps the Jacobian columns at comparable magnitudes. flatten
// and unflatten convert between a Solution and the scaled vector.
const (
	lmTemperatureScale = 1000.0 // °C
	lmTauScale         = 100.0  // seconds
)

// levenbergMarquardt fits the eight model parameters to the sampled
// (time, voltage) pairs, starting from start. It reports the refined
// solution, the residual sum of squares, and whether the fit converged.
func levenbergMarquardt(start Solution, times, voltages []float64) (Solution, float64, bool) {
	n := len(times)
	if n < numParams {
		return Solution{}, 0, false
	}

	p := flatten(start)
	rss := residualSumOfSquares(p, times, voltages)
	if math.IsNaN(rss) || math.IsInf(rss, 0) {
		return Solution{}, 0, false
	}

	lambda := lmInitialLambda
	converged := false

	jt := mat.NewDense(numParams, n, nil)
	r := mat.NewVecDense(n, nil)
	a := mat.NewDense(numParams, numParams, nil)
	g := mat.NewVecDense(numParams, nil)

	for iter := 0; iter < lmMaxIterations; iter++ {
		fillResiduals(r, p, times, voltages)
		fillJacobianT(jt, p, times)

		// Normal equations: (JᵀJ + λ diag(JᵀJ)) δ = Jᵀr.
		a.Mul(jt, jt.T())
		g.MulVec(jt, r)
		for i := 0; i < numParams; i++ {
			a.Set(i, i, a.At(i, i)*(1+lambda))
		}

		var delta mat.VecDense
		if err := delta.SolveVec(a, g); err != nil {
			lambda *= lmLambdaGrowth
			continue
		}

		var trial [numParams]float64
		for i := 0; i < numParams; i++ {
			trial[i] = p[i] + delta.AtVec(i)
		}

		trialRSS := residualSumOfSquares(trial, times, voltages)
		if math.IsNaN(trialRSS) || math.IsInf(trialRSS, 0) || trialRSS >= rss {
			lambda *= lmLambdaGrowth
			if lambda > 1e12 {
				break
			}
			continue
		}

		improvement := rss - trialRSS
		p = trial
		rss = trialRSS
		lambda *= lmLambdaShrink

		if improvement <= lmRelativeRSSStop*(rss+lmRelativeRSSStop) {
			converged = true
			break
		}
	}

	// Hitting the iteration cap after steady improvement still yields a
	// usable refinement; only a fit that never moved is rejected.
	if !converged && rss >= residualSumOfSquares(flatten(start), times, voltages) {
		return Solution{}, 0, false
	}
	return unflatten(p), rss, true
}

func flatten(s Solution) [numParams]float64 {
	p := [numParams]float64{
		s.StartingTemperature / lmTemperatureScale,
		s.FinalTemperature / lmTemperatureScale,
		s.Tau / lmTauScale,
	}
	scale := 1.0
	for i := 4; i >= 0; i-- {
		p[3+i] = s.Coefficients[i] * scale
		scale *= lmTemperatureScale
	}
	return p
}

func unflatten(p [numParams]float64) Solution {
	s := Solution{
		StartingTemperature: p[0] * lmTemperatureScale,
		FinalTemperature:    p[1] * lmTemperatureScale,
		Tau:                 p[2] * lmTauScale,
	}
	scale := 1.0
	for i := 4; i >= 0; i-- {
		s.Coefficients[i] = p[3+i] / scale
		scale *= lmTemperatureScale
	}
	return s
}

// modelVoltage evaluates the model on the scaled parameter vector. The
// intermediate temperature is in units of lmTemperatureScale, matching the
// scaled polynomial coefficients, so the result is a plain voltage.
func modelVoltage(p [numParams]float64, t float64) float64 {
	temperature := p[0] + (p[1]-p[0])*(1-math.Exp(-t/(p[2]*lmTauScale)))
	var v float64
	for _, c := range p[3:] {
		v = v*temperature + c
	}
	return v
}

func residualSumOfSquares(p [numParams]float64, times, voltages []float64) float64 {
	var rss float64
	for i, t := range times {
		r := voltages[i] - modelVoltage(p, t)
		rss += r * r
	}
	return rss
}

func fillResiduals(r *mat.VecDense, p [numParams]float64, times, voltages []float64) {
	for i, t := range times {
		r.SetVec(i, voltages[i]-modelVoltage(p, t))
	}
}

// fillJacobianT computes the transposed Jacobian of the model by forward
// differences. Rows are parameters, columns are samples.
func fillJacobianT(jt *mat.Dense, p [numParams]float64, times []float64) {
	for j := 0; j < numParams; j++ {
		step := lmJacobianStep * math.Max(math.Abs(p[j]), 1)
		bumped := p
		bumped[j] += step
		for i, t := range times {
			jt.Set(j, i, (modelVoltage(bumped, t)-modelVoltage(p, t))/step)
		}
	}
}
