package audio

import "encoding/binary"

// StereoToMono downmixes interleaved stereo PCM16LE to mono by averaging
// channel pairs. A trailing incomplete frame is dropped.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		l := int16(binary.LittleEndian.Uint16(pcm[i*4:]))
		r := int16(binary.LittleEndian.Uint16(pcm[i*4+2:]))
		mixed := int16((int32(l) + int32(r)) / 2)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(mixed))
	}
	return out
}

// ResampleMono16 converts mono PCM16LE from one sample rate to another using
// linear interpolation. Returns the input unchanged when the rates match.
func ResampleMono16(pcm []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return pcm
	}
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}

	outN := n * toRate / fromRate
	if outN == 0 {
		return nil
	}
	out := make([]byte, outN*2)

	ratio := float64(fromRate) / float64(toRate)
	for i := 0; i < outN; i++ {
		pos := float64(i) * ratio
		i0 := int(pos)
		if i0 >= n-1 {
			i0 = n - 1
		}
		s0 := int16(binary.LittleEndian.Uint16(pcm[i0*2:]))
		sample := float64(s0)
		if i0 < n-1 {
			s1 := int16(binary.LittleEndian.Uint16(pcm[(i0+1)*2:]))
			frac := pos - float64(i0)
			sample += (float64(s1) - float64(s0)) * frac
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sample)))
	}
	return out
}
