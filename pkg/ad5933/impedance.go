package ad5933

import "math"

// ImpedanceSample - сырой отсчёт ДПФ из регистров действительной и мнимой части.
type ImpedanceSample struct {
	Frequency uint32
	Real      int16
	Imag      int16
}

type ImpedancePolar struct {
	Frequency uint32
	Magnitude float64 // Ом
	Angle     float64 // рад
}

type ImpedanceCartesian struct {
	Frequency uint32
	Real      float64
	Imag      float64
}

func PolarToCartesian(p ImpedancePolar) ImpedanceCartesian {
	s, c := math.Sincos(p.Angle)
	return ImpedanceCartesian{Frequency: p.Frequency, Real: p.Magnitude * c, Imag: p.Magnitude * s}
}

func CartesianToPolar(c ImpedanceCartesian) ImpedancePolar {
	return ImpedancePolar{
		Frequency: c.Frequency,
		Magnitude: math.Hypot(c.Real, c.Imag),
		Angle:     math.Atan2(c.Imag, c.Real),
	}
}

// RangeGain - линейная поправка одного диапазона тактирования.
// Anchor равен NaN, если диапазон не калибровался.
type RangeGain struct {
	Anchor          float64 // Гц
	MagnitudeOffset float64
	MagnitudeSlope  float64
	PhaseOffset     float64 // рад
	PhaseSlope      float64 // рад/Гц
}

type GainFactor struct {
	TwoPoint bool
	Ranges   [NumClockSources]RangeGain
}

func (g *GainFactor) Calibrated(c ClockSource) bool {
	return c >= 0 && c < NumClockSources && !math.IsNaN(g.Ranges[c].Anchor)
}

// rangeFor возвращает поправку для частоты f или nil, если диапазон не калиброван.
func (g *GainFactor) rangeFor(f uint32) *RangeGain {
	c, err := ClockFor(f)
	if err != nil || !g.Calibrated(c) {
		return nil
	}
	return &g.Ranges[c]
}

// wrapPhase приводит угол к (-π, π].
func wrapPhase(p float64) float64 {
	if math.IsInf(p, 0) {
		return math.NaN()
	}
	for p > math.Pi {
		p -= 2 * math.Pi
	}
	for p <= -math.Pi {
		p += 2 * math.Pi
	}
	return p
}

func rawMagnitude(s ImpedanceSample) float64 {
	return math.Hypot(float64(s.Real), float64(s.Imag))
}

func rawPhase(s ImpedanceSample) float64 {
	return math.Atan2(float64(s.Imag), float64(s.Real))
}

// CalculateGainFactor сводит отсчёты калибровки к поправкам по диапазонам.
func CalculateGainFactor(data *GainFactorData) GainFactor {
	gf := GainFactor{TwoPoint: data.TwoPoint}
	for c := ClockInternal; c < NumClockSources; c++ {
		r := &gf.Ranges[c]
		if !data.Used(c) {
			*r = RangeGain{Anchor: math.NaN()}
			continue
		}
		p1 := data.Ranges[c][0]
		gain1 := rawMagnitude(p1) * data.Impedance
		phase1 := rawPhase(p1)
		*r = RangeGain{
			Anchor:          float64(p1.Frequency),
			MagnitudeOffset: gain1,
			PhaseOffset:     phase1,
		}
		if !data.TwoPoint {
			continue
		}
		p2 := data.Ranges[c][1]
		df := float64(p2.Frequency) - float64(p1.Frequency)
		if df <= 0 {
			continue
		}
		gain2 := rawMagnitude(p2) * data.Impedance
		r.MagnitudeSlope = (gain2 - gain1) / df
		r.PhaseSlope = wrapPhase(rawPhase(p2)-phase1) / df
	}
	return gf
}

// Magnitude возвращает модуль импеданса в омах или NaN, если диапазон
// частоты отсчёта не калиброван.
func Magnitude(s ImpedanceSample, g *GainFactor) float64 {
	r := g.rangeFor(s.Frequency)
	if r == nil {
		return math.NaN()
	}
	gain := r.MagnitudeOffset + r.MagnitudeSlope*(float64(s.Frequency)-r.Anchor)
	return gain / rawMagnitude(s)
}

// Phase возвращает фазу импеданса в (-π, π] или NaN.
func Phase(s ImpedanceSample, g *GainFactor) float64 {
	r := g.rangeFor(s.Frequency)
	if r == nil {
		return math.NaN()
	}
	correction := r.PhaseOffset + r.PhaseSlope*(float64(s.Frequency)-r.Anchor)
	return wrapPhase(rawPhase(s) - correction)
}

func Reduce(s ImpedanceSample, g *GainFactor) ImpedancePolar {
	return ImpedancePolar{Frequency: s.Frequency, Magnitude: Magnitude(s, g), Angle: Phase(s, g)}
}
