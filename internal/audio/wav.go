package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"screenrec/internal/fileutil"
)

const (
	wavHeaderSize   = 44
	wavFormatFloat  = 3
	wavBitsPerFloat = 32
)

// WriteWAV stores buf as a 32-bit IEEE float RIFF/WAVE file.
func WriteWAV(path string, buf Buffer) error {
	if buf.SampleRate <= 0 || buf.Channels <= 0 {
		return errors.New("wav: sample rate and channels must be positive")
	}
	return fileutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		if err := writeWAV(bw, buf); err != nil {
			return err
		}
		return bw.Flush()
	})
}

func writeWAV(w io.Writer, buf Buffer) error {
	dataSize := uint64(len(buf.Samples)) * 4
	if dataSize > math.MaxUint32-wavHeaderSize {
		return fmt.Errorf("wav: %d samples exceed the RIFF size limit", len(buf.Samples))
	}
	if _, err := w.Write(riffFloatHeader(uint32(dataSize), buf.SampleRate, buf.Channels)); err != nil {
		return fmt.Errorf("wav: write header: %w", err)
	}
	var sample [4]byte
	for _, s := range buf.Samples {
		binary.LittleEndian.PutUint32(sample[:], math.Float32bits(s))
		if _, err := w.Write(sample[:]); err != nil {
			return fmt.Errorf("wav: write samples: %w", err)
		}
	}
	return nil
}

// riffFloatHeader builds the canonical 44-byte header for float samples.
// See: http://soundfile.sapp.org/doc/WaveFormat
func riffFloatHeader(dataSize uint32, sampleRate, channels int) []byte {
	blockAlign := uint16(channels * wavBitsPerFloat / 8)
	byteRate := uint32(sampleRate) * uint32(blockAlign)

	h := make([]byte, wavHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], dataSize+wavHeaderSize-8)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], wavFormatFloat)
	binary.LittleEndian.PutUint16(h[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], byteRate)
	binary.LittleEndian.PutUint16(h[32:34], blockAlign)
	binary.LittleEndian.PutUint16(h[34:36], wavBitsPerFloat)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataSize)
	return h
}

// ReadWAV decodes a file produced by WriteWAV.
func ReadWAV(r io.Reader) (Buffer, error) {
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Buffer{}, fmt.Errorf("wav: read header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" || string(header[36:40]) != "data" {
		return Buffer{}, errors.New("wav: not a canonical RIFF/WAVE file")
	}
	if format := binary.LittleEndian.Uint16(header[20:22]); format != wavFormatFloat {
		return Buffer{}, fmt.Errorf("wav: unsupported format %d", format)
	}
	buf := Buffer{
		Channels:   int(binary.LittleEndian.Uint16(header[22:24])),
		SampleRate: int(binary.LittleEndian.Uint32(header[24:28])),
	}
	dataSize := binary.LittleEndian.Uint32(header[40:44])
	data := make([]byte, dataSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return Buffer{}, fmt.Errorf("wav: read samples: %w", err)
	}
	buf.Samples = make([]float32, dataSize/4)
	for i := range buf.Samples {
		buf.Samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return buf, nil
}
