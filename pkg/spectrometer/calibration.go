package spectrometer

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/momentics/goeis/pkg/ad5933"
)

// CalibrationProfile - результат калибровки по эталону вместе с условиями, при
// которых она снята. Gain вычисляется из Data и не сохраняется.
type CalibrationProfile struct {
	Name      string
	CreatedAt time.Time
	Range     ad5933.RangeSettings
	Spec      ad5933.CalibrationSpec
	Data      ad5933.GainFactorData
	Gain      ad5933.GainFactor
}

func (p *CalibrationProfile) Validate() error {
	if p == nil {
		return errors.New("калибровочный профиль не задан")
	}
	if !(p.Data.Impedance > 0) {
		return fmt.Errorf("калибровочный профиль: эталон %g Ом", p.Data.Impedance)
	}
	used := 0
	for c := ad5933.ClockInternal; c < ad5933.NumClockSources; c++ {
		if !p.Data.Used(c) {
			continue
		}
		used++
		pts := p.Data.Ranges[c]
		if p.Data.TwoPoint && pts[1].Frequency < pts[0].Frequency {
			return fmt.Errorf("калибровочный профиль: в диапазоне %s вторая точка %d Гц ниже первой %d Гц", c, pts[1].Frequency, pts[0].Frequency)
		}
		if pts[0].Real == 0 && pts[0].Imag == 0 {
			return fmt.Errorf("калибровочный профиль: нулевой отклик в диапазоне %s", c)
		}
		if !p.Gain.Calibrated(c) {
			return fmt.Errorf("калибровочный профиль: коэффициенты диапазона %s не рассчитаны", c)
		}
	}
	if used == 0 {
		return errors.New("калибровочный профиль не содержит ни одного диапазона")
	}
	return nil
}

// Covers сообщает, откалиброван ли диапазон тактирования частоты f.
func (p *CalibrationProfile) Covers(f uint32) bool {
	c, err := ad5933.ClockFor(f)
	return err == nil && p.Gain.Calibrated(c)
}

// Apply приводит сырые отсчёты спектра к импедансу. Точки вне откалиброванных
// диапазонов получают NaN.
func (p *CalibrationProfile) Apply(sp Spectrum) ([]ad5933.ImpedancePolar, error) {
	if sp.Range != p.Range {
		return nil, fmt.Errorf("диапазон измерения %+v не совпадает с калибровкой %+v", sp.Range, p.Range)
	}
	out := make([]ad5933.ImpedancePolar, len(sp.Raw))
	for i, s := range sp.Raw {
		out[i] = ad5933.Reduce(s, &p.Gain)
	}
	return out, nil
}

const profileVersion = 1

type profileRecord struct {
	Version   int                    `cbor:"1,keyasint"`
	Name      string                 `cbor:"2,keyasint"`
	CreatedAt int64                  `cbor:"3,keyasint"`
	Range     ad5933.RangeSettings   `cbor:"4,keyasint"`
	Spec      ad5933.CalibrationSpec `cbor:"5,keyasint"`
	Data      ad5933.GainFactorData  `cbor:"6,keyasint"`
}

func (p *CalibrationProfile) MarshalBinary() ([]byte, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return enc.Marshal(profileRecord{
		Version:   profileVersion,
		Name:      p.Name,
		CreatedAt: p.CreatedAt.Unix(),
		Range:     p.Range,
		Spec:      p.Spec,
		Data:      p.Data,
	})
}

func (p *CalibrationProfile) UnmarshalBinary(b []byte) error {
	mode, err := cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		return fmt.Errorf("профиль: не удалось создать декодер: %w", err)
	}
	var rec profileRecord
	if err := mode.Unmarshal(b, &rec); err != nil {
		return fmt.Errorf("профиль: ошибка декодирования: %w", err)
	}
	if rec.Version != profileVersion {
		return fmt.Errorf("профиль: неподдерживаемая версия %d", rec.Version)
	}
	*p = CalibrationProfile{
		Name:      rec.Name,
		CreatedAt: time.Unix(rec.CreatedAt, 0),
		Range:     rec.Range,
		Spec:      rec.Spec,
		Data:      rec.Data,
	}
	p.Gain = ad5933.CalculateGainFactor(&p.Data)
	return p.Validate()
}

func SaveProfile(path string, p *CalibrationProfile) error {
	b, err := p.MarshalBinary()
	if err != nil {
		return fmt.Errorf("сохранение профиля %s: %w", path, err)
	}
	return os.WriteFile(path, b, 0o644)
}

func LoadProfile(path string) (*CalibrationProfile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p := new(CalibrationProfile)
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}
