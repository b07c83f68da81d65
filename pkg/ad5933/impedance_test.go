package ad5933

import (
	"math"
	"testing"
)

const tolerance = 1e-9

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

func TestCalculateGainFactor_OnePoint(t *testing.T) {
	var data GainFactorData
	data.Impedance = 1000
	data.Ranges[ClockExternalHigh][0] = ImpedanceSample{Frequency: 1000, Real: 100, Imag: 0}

	gf := CalculateGainFactor(&data)
	r := gf.Ranges[ClockExternalHigh]
	if r.MagnitudeOffset != 100*1000 {
		t.Errorf("смещение %v, ожидалось 100000", r.MagnitudeOffset)
	}
	if r.MagnitudeSlope != 0 || r.PhaseSlope != 0 || r.PhaseOffset != 0 {
		t.Errorf("наклоны и фаза должны быть нулевыми: %+v", r)
	}
	if r.Anchor != 1000 {
		t.Errorf("якорь %v, ожидалось 1000", r.Anchor)
	}
	for _, c := range []ClockSource{ClockInternal, ClockExternalMedium, ClockExternalLow} {
		if gf.Calibrated(c) {
			t.Errorf("диапазон %s не должен быть калиброван", c)
		}
	}
}

func TestCalculateGainFactor_PhaseUnwrap(t *testing.T) {
	// Фазы 170° и -170° на соседних частотах дают приращение +20°, а не -340°.
	var data GainFactorData
	data.Impedance = 1000
	data.TwoPoint = true
	data.Ranges[ClockInternal][0] = ImpedanceSample{Frequency: 20_000, Real: -9848, Imag: 1736}
	data.Ranges[ClockInternal][1] = ImpedanceSample{Frequency: 20_001, Real: -9848, Imag: -1736}

	gf := CalculateGainFactor(&data)
	got := degrees(gf.Ranges[ClockInternal].PhaseSlope)
	if math.Abs(got-20) > 1e-2 {
		t.Fatalf("наклон фазы %v°/Гц, ожидалось 20", got)
	}
}

func TestMagnitude_RoundTrip(t *testing.T) {
	var data GainFactorData
	data.Impedance = 4700
	data.TwoPoint = true
	data.Ranges[ClockExternalMedium] = [2]ImpedanceSample{
		{Frequency: 200, Real: 1200, Imag: -300},
		{Frequency: 800, Real: 900, Imag: -650},
	}
	gf := CalculateGainFactor(&data)
	for i, s := range data.Ranges[ClockExternalMedium] {
		if m := Magnitude(s, &gf); math.Abs(m-4700) > 4700*tolerance {
			t.Errorf("точка %d: модуль %v, ожидалось 4700", i, m)
		}
		if p := Phase(s, &gf); math.Abs(p) > tolerance {
			t.Errorf("точка %d: фаза %v, ожидалось 0", i, p)
		}
	}
	// Между точками поправка интерполируется линейно.
	mid := ImpedanceSample{Frequency: 500, Real: 1200, Imag: -300}
	g1 := math.Hypot(1200, -300) * 4700
	g2 := math.Hypot(900, -650) * 4700
	want := (g1 + (g2-g1)/2) / math.Hypot(1200, -300)
	if m := Magnitude(mid, &gf); math.Abs(m-want) > want*tolerance {
		t.Errorf("модуль %v, ожидалось %v", m, want)
	}
}

func TestMagnitude_Uncalibrated(t *testing.T) {
	var data GainFactorData
	data.Impedance = 1000
	data.Ranges[ClockInternal][0] = ImpedanceSample{Frequency: 50_000, Real: 10, Imag: 10}
	gf := CalculateGainFactor(&data)
	s := ImpedanceSample{Frequency: 500, Real: 10, Imag: 10}
	if !math.IsNaN(Magnitude(s, &gf)) || !math.IsNaN(Phase(s, &gf)) {
		t.Fatal("для некалиброванного диапазона ожидался NaN")
	}
	p := Reduce(ImpedanceSample{Frequency: 60_000, Real: 10, Imag: 10}, &gf)
	if math.Abs(p.Magnitude-1000) > 1e-6 || p.Frequency != 60_000 {
		t.Fatalf("Reduce = %+v", p)
	}
}

func TestPhase_Wraps(t *testing.T) {
	var data GainFactorData
	data.Impedance = 1
	data.Ranges[ClockInternal][0] = ImpedanceSample{Frequency: 50_000, Real: -100, Imag: -1}
	gf := CalculateGainFactor(&data)
	// Сырая фаза около +179°, поправка около -179°: результат около -1°, а не 359°.
	p := Phase(ImpedanceSample{Frequency: 50_000, Real: -100, Imag: 1}, &gf)
	if p <= -math.Pi || p > math.Pi {
		t.Fatalf("фаза %v вне (-π, π]", p)
	}
	if math.Abs(degrees(p)-2*degrees(math.Atan2(1, -100))+360) > 1e-6 {
		t.Fatalf("фаза %v°", degrees(p))
	}
}

func TestPolarCartesian(t *testing.T) {
	p := ImpedancePolar{Frequency: 1000, Magnitude: 2, Angle: math.Pi / 3}
	c := PolarToCartesian(p)
	if math.Abs(c.Real-1) > tolerance || math.Abs(c.Imag-math.Sqrt(3)) > tolerance || c.Frequency != 1000 {
		t.Fatalf("PolarToCartesian = %+v", c)
	}
	back := CartesianToPolar(c)
	if math.Abs(back.Magnitude-2) > tolerance || math.Abs(back.Angle-math.Pi/3) > tolerance {
		t.Fatalf("CartesianToPolar = %+v", back)
	}
}
