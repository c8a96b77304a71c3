// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package mpegts inspects MPEG-2 transport stream segments using
// Comcast/gots, just deep enough to answer the live refresh controller's
// media-compatibility question (§4.6): the same elementary stream types,
// in the same PMT order. The PID values themselves are not compared.
package mpegts

import (
	"bytes"
	"fmt"

	"github.com/Comcast/gots/v2/packet"
	"github.com/Comcast/gots/v2/pat"
	"github.com/Comcast/gots/v2/pes"
	"github.com/Comcast/gots/v2/pmt"
)

// Inspector implements container.Inspector for MPEG-TS segments. TS has
// no initialization section; callers pass the leading packets of a
// media segment instead.
type Inspector struct{}

// Timescale is always the MPEG-2 90 kHz system clock.
func (Inspector) Timescale(_ []byte) (uint32, error) {
	return 90000, nil
}

func streamTypes(data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	pkt := make(packet.Packet, packet.PacketSize)
	var patPkts, pmtPkts [][]byte
	var pmtPID uint16
	havePMT := false
	for {
		if _, err := r.Read(pkt); err != nil {
			break
		}
		pid := packet.Pid(pkt)
		switch {
		case pid == packet.PatPid:
			patPkts = append(patPkts, append([]byte(nil), pkt...))
		case havePMT && pid == pmtPID:
			pmtPkts = append(pmtPkts, append([]byte(nil), pkt...))
		}
		if !havePMT && len(patPkts) > 0 {
			p, err := pat.ReadPAT(bytes.NewReader(bytes.Join(toSlices(patPkts), nil)))
			if err == nil {
				for _, pm := range p.ProgramMap() {
					if pm != 0 {
						pmtPID = pm
						havePMT = true
						break
					}
				}
			}
		}
	}
	if len(pmtPkts) == 0 {
		return nil, fmt.Errorf("mpegts: no PMT found")
	}
	pm, err := pmt.ReadPMT(bytes.NewReader(bytes.Join(toSlices(pmtPkts), nil)))
	if err != nil {
		return nil, fmt.Errorf("mpegts: read PMT: %w", err)
	}
	types := make([]byte, 0, len(pm.PIDs()))
	for _, p := range pm.PIDs() {
		st, err := pm.StreamType(p)
		if err == nil {
			types = append(types, byte(st))
		}
	}
	return types, nil
}

func toSlices(pkts [][]byte) [][]byte { return pkts }

// FirstPTS scans body for the first packet carrying a payload-unit-start
// and a decodable PES header, and returns its PTS in 90 kHz ticks. init
// is unused (TS segments carry no separate initialization section), but
// kept to satisfy container.Inspector.
func (Inspector) FirstPTS(_, body []byte) (int64, error) {
	r := bytes.NewReader(body)
	pkt := make(packet.Packet, packet.PacketSize)
	for {
		if _, err := r.Read(pkt); err != nil {
			return 0, fmt.Errorf("mpegts: no PES header with a PTS found")
		}
		if !packet.PayloadUnitStartIndicator(pkt) {
			continue
		}
		payload, err := packet.Payload(pkt)
		if err != nil {
			continue
		}
		header, err := pes.ReadPESHeader(payload)
		if err != nil || !header.HasPTS() {
			continue
		}
		return int64(header.PTS()), nil
	}
}

// Compatible reports whether a and b declare the same elementary stream
// types in the same PMT order, a coarse proxy for "same codecs"; PID
// values are not compared.
func (ins Inspector) Compatible(a, b []byte) (bool, error) {
	typesA, err := streamTypes(a)
	if err != nil {
		return false, err
	}
	typesB, err := streamTypes(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(typesA, typesB), nil
}
