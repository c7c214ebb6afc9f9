package arch

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"hash/crc32"
	"io"
	"math"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// savestate format:
// uint32(version)
// uint32(crc32 of compressed body)
// uint32(length of compressed body)
// remainder is a gzip-compressed struc packing of the register file

const saveVersion = 1

type saveHeader struct {
	Version uint32
	Crc     uint32
	Len     uint32
}

type saveBody struct {
	GPR   [32]uint32
	FPR   [32]uint64
	PC    uint32
	CR    uint32
	LR    uint32
	CTR   uint32
	XER   uint32
	FPSCR uint32
	MSR   uint32
	SRR0  uint32
	SRR1  uint32
}

// Save serializes the state for the save-state collaborator. Guest memory is
// the memory subsystem's concern and is not included here.
func (s *State) Save() ([]byte, error) {
	body := saveBody{
		PC: s.PC, CR: s.CR, LR: s.LR, CTR: s.CTR,
		XER: s.XER, FPSCR: s.FPSCR, MSR: s.MSR,
		SRR0: s.SRR0, SRR1: s.SRR1,
	}
	body.GPR = s.GPR
	for i, f := range s.FPR {
		body.FPR[i] = math.Float64bits(f)
	}

	options := &struc.Options{Order: binary.BigEndian}
	var raw bytes.Buffer
	if err := struc.PackWithOptions(&raw, &body, options); err != nil {
		return nil, errors.Wrap(err, "packing savestate")
	}

	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := raw.WriteTo(gz); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	data := compressed.Bytes()

	var out bytes.Buffer
	hdr := saveHeader{saveVersion, crc32.ChecksumIEEE(data), uint32(len(data))}
	if err := struc.PackWithOptions(&out, &hdr, options); err != nil {
		return nil, err
	}
	out.Write(data)
	return out.Bytes(), nil
}

// Load restores a state previously produced by Save.
func (s *State) Load(data []byte) error {
	options := &struc.Options{Order: binary.BigEndian}
	r := bytes.NewReader(data)

	var hdr saveHeader
	if err := struc.UnpackWithOptions(r, &hdr, options); err != nil {
		return errors.Wrap(err, "reading savestate header")
	}
	if hdr.Version != saveVersion {
		return errors.Errorf("unsupported savestate version %d", hdr.Version)
	}
	body := make([]byte, hdr.Len)
	if _, err := io.ReadFull(r, body); err != nil {
		return errors.Wrap(err, "reading savestate body")
	}
	if crc32.ChecksumIEEE(body) != hdr.Crc {
		return errors.New("savestate checksum mismatch")
	}

	gz, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer gz.Close()

	var b saveBody
	if err := struc.UnpackWithOptions(gz, &b, options); err != nil {
		return errors.Wrap(err, "unpacking savestate")
	}

	s.GPR = b.GPR
	for i, bits := range b.FPR {
		s.FPR[i] = math.Float64frombits(bits)
	}
	s.PC, s.CR, s.LR, s.CTR = b.PC, b.CR, b.LR, b.CTR
	s.XER, s.FPSCR, s.MSR = b.XER, b.FPSCR, b.MSR
	s.SRR0, s.SRR1 = b.SRR0, b.SRR1
	s.Reservation = false
	return nil
}
