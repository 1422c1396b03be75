package voice

import "math"

// EnergyVAD estimates speech probability from short-term RMS energy of
// 16-bit little-endian PCM. It is deliberately simple: energy below the
// noise floor maps to 0, energy above the speech ceiling maps to 1, and
// the band in between maps linearly.
type EnergyVAD struct {
	NoiseFloor    float64
	SpeechCeiling float64
}

func NewEnergyVAD() *EnergyVAD {
	return &EnergyVAD{NoiseFloor: 200, SpeechCeiling: 4000}
}

func (v *EnergyVAD) SpeechProbability(audio []byte) float64 {
	if len(audio) < 2 {
		return 0
	}

	var sum float64
	n := len(audio) / 2
	for i := 0; i < n; i++ {
		s := int16(uint16(audio[2*i]) | uint16(audio[2*i+1])<<8)
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(n))

	switch {
	case rms <= v.NoiseFloor:
		return 0
	case rms >= v.SpeechCeiling:
		return 1
	default:
		return (rms - v.NoiseFloor) / (v.SpeechCeiling - v.NoiseFloor)
	}
}
