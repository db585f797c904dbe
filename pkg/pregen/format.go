// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pregen

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"

	"github.com/gomlx/coloc/pkg/batches"
	"github.com/gomlx/coloc/pkg/pairs"
	"github.com/gomlx/coloc/pkg/pixels"
	"github.com/pkg/errors"
)

// File layout:
//
//	magic [7]byte "COLOCPG", version uint8, codec uint8
//	compressed stream of batch records, each:
//	  epoch uint32, size uint32, numInputs, numTargets, numWeights, hasFilenames uint8
//	  per input: imageSize uint16, channels uint8, size*imageSize*imageSize*channels quantized uint8 pixels
//	  per target and per weight: size float32
//	  if hasFilenames, per sample: datasetID, baseIon, otherIon as uint16 length + bytes
//
// Integers and floats are little-endian.
const (
	magic         = "COLOCPG"
	formatVersion = 1
)

// maxInputValues bounds the number of pixels of one input of a record, so corrupt headers can't
// trigger huge allocations.
const maxInputValues = 1 << 30

var byteOrder = binary.LittleEndian

// ErrCorruptRecord is returned (wrapped) when a batch record header holds impossible values.
var ErrCorruptRecord = errors.New("corrupt pre-generated batch record")

func writeHeader(w io.Writer, codec Codec) error {
	header := append([]byte(magic), formatVersion, byte(codec))
	_, err := w.Write(header)
	return errors.Wrap(err, "failed to write pre-generated file header")
}

func readHeader(r io.Reader) (Codec, error) {
	header := make([]byte, len(magic)+2)
	if _, err := io.ReadFull(r, header); err != nil {
		return None, errors.Wrap(err, "failed to read pre-generated file header")
	}
	if string(header[:len(magic)]) != magic {
		return None, errors.New("not a pre-generated batches file")
	}
	if header[len(magic)] != formatVersion {
		return None, errors.Errorf("unsupported pre-generated file version %d", header[len(magic)])
	}
	return Codec(header[len(magic)+1]), nil
}

// quantize maps a preprocessed value back to its 8-bit pixel, rounding to the closest.
// All values produced by the iterators are exactly representable.
func quantize(x float32) uint8 {
	v := math.Round(float64(x+1) / 2 * 255)
	return uint8(max(0, min(255, v)))
}

func dequantize(v uint8) float32 {
	return float32(v)/255*2 - 1
}

// encodeBatch appends the record of the batch to buf.
func encodeBatch(buf []byte, batch *batches.Batch) ([]byte, error) {
	size := batch.Size()
	hasFilenames := uint8(0)
	if len(batch.Filenames) > 0 {
		if len(batch.Filenames) != size {
			return nil, errors.Errorf("batch with %d samples has %d filenames", size, len(batch.Filenames))
		}
		hasFilenames = 1
	}
	buf = byteOrder.AppendUint32(buf, uint32(batch.Epoch))
	buf = byteOrder.AppendUint32(buf, uint32(size))
	buf = append(buf, uint8(len(batch.Inputs)), uint8(len(batch.Targets)), uint8(len(batch.Weights)), hasFilenames)
	for _, input := range batch.Inputs {
		if input.Len() != size {
			return nil, errors.Errorf("batch with %d samples has an input with %d images", size, input.Len())
		}
		buf = byteOrder.AppendUint16(buf, uint16(input.Size))
		buf = append(buf, uint8(input.Channels))
		for _, x := range input.Data {
			buf = append(buf, quantize(x))
		}
	}
	for _, group := range [][][]float32{batch.Targets, batch.Weights} {
		for _, values := range group {
			if len(values) != size {
				return nil, errors.Errorf("batch with %d samples has %d targets or weights", size, len(values))
			}
			for _, v := range values {
				buf = byteOrder.AppendUint32(buf, math.Float32bits(v))
			}
		}
	}
	if hasFilenames == 1 {
		for _, f := range batch.Filenames {
			for _, s := range []string{f.DatasetID, f.BaseIon, f.OtherIon} {
				if len(s) > math.MaxUint16 {
					return nil, errors.Errorf("filename component too long: %d bytes", len(s))
				}
				buf = byteOrder.AppendUint16(buf, uint16(len(s)))
				buf = append(buf, s...)
			}
		}
	}
	return buf, nil
}

// checkInputDims validates the dimensions of an input read from a record header.
func checkInputDims(size, imageSize, channels int) error {
	if channels != 1 && channels != pixels.NumPairChannels {
		return errors.Wrapf(ErrCorruptRecord, "input with %d channels", channels)
	}
	if imageSize == 0 {
		return errors.Wrap(ErrCorruptRecord, "input with empty images")
	}
	perSample := imageSize * imageSize * channels
	if size > maxInputValues/perSample {
		return errors.Wrapf(ErrCorruptRecord, "input of %d images of %dx%dx%d is too large", size, imageSize, imageSize, channels)
	}
	return nil
}

// decoder reads batch records.
type decoder struct {
	r       *bufio.Reader
	scratch []byte
}

func newDecoder(r io.Reader) *decoder {
	return &decoder{r: bufio.NewReader(r)}
}

func (d *decoder) read(n int) ([]byte, error) {
	if cap(d.scratch) < n {
		d.scratch = make([]byte, n)
	}
	d.scratch = d.scratch[:n]
	_, err := io.ReadFull(d.r, d.scratch)
	return d.scratch, err
}

// decodeBatch reads the next record. It returns io.EOF if the stream ends cleanly before a record, and
// io.ErrUnexpectedEOF if it ends in the middle of one.
func (d *decoder) decodeBatch() (*batches.Batch, error) {
	head, err := d.read(12)
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "truncated batch record")
	}
	batch := &batches.Batch{Epoch: int(byteOrder.Uint32(head[0:4]))}
	size := int(byteOrder.Uint32(head[4:8]))
	numInputs, numTargets, numWeights, hasFilenames := int(head[8]), int(head[9]), int(head[10]), head[11] == 1
	if size == 0 || size > maxInputValues {
		return nil, errors.Wrapf(ErrCorruptRecord, "batch size %d", size)
	}

	wrap := func(err error) error {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return errors.Wrap(err, "truncated batch record")
	}
	for range numInputs {
		dims, err := d.read(3)
		if err != nil {
			return nil, wrap(err)
		}
		imageSize, channels := int(byteOrder.Uint16(dims[0:2])), int(dims[2])
		if err := checkInputDims(size, imageSize, channels); err != nil {
			return nil, err
		}
		images := batches.NewImages(size, imageSize, channels)
		data, err := d.read(len(images.Data))
		if err != nil {
			return nil, wrap(err)
		}
		for i, v := range data {
			images.Data[i] = dequantize(v)
		}
		batch.Inputs = append(batch.Inputs, images)
	}
	readValues := func() ([]float32, error) {
		data, err := d.read(4 * size)
		if err != nil {
			return nil, wrap(err)
		}
		values := make([]float32, size)
		for i := range values {
			values[i] = math.Float32frombits(byteOrder.Uint32(data[4*i:]))
		}
		return values, nil
	}
	for range numTargets {
		values, err := readValues()
		if err != nil {
			return nil, err
		}
		batch.Targets = append(batch.Targets, values)
	}
	for range numWeights {
		values, err := readValues()
		if err != nil {
			return nil, err
		}
		batch.Weights = append(batch.Weights, values)
	}
	if hasFilenames {
		batch.Filenames = make([]pairs.Filename, size)
		for i := range batch.Filenames {
			var parts [3]string
			for j := range parts {
				lenBytes, err := d.read(2)
				if err != nil {
					return nil, wrap(err)
				}
				s, err := d.read(int(byteOrder.Uint16(lenBytes)))
				if err != nil {
					return nil, wrap(err)
				}
				parts[j] = string(s)
			}
			batch.Filenames[i] = pairs.Filename{DatasetID: parts[0], BaseIon: parts[1], OtherIon: parts[2]}
		}
	}
	return batch, nil
}
