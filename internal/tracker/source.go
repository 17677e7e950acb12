// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tracker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/average_calibrator/internal/sampling"
	"github.com/relabs-tech/average_calibrator/internal/transform"
)

// PortConfig selects the serial device.
type PortConfig struct {
	Name     string
	BaudRate uint
}

// Open opens the tracker port 8N1.
func Open(cfg PortConfig) (io.ReadWriteCloser, error) {
	opts := serial.OpenOptions{
		PortName:              cfg.Name,
		BaudRate:              cfg.BaudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Name, err)
	}
	log.Printf("tracker: serial port opened on %s at %d baud", cfg.Name, cfg.BaudRate)
	return port, nil
}

// Source caches the poses read from a tracker stream and serves them as a
// sampling.PoseSource.
type Source struct {
	*sampling.Latest

	// OnPose, if set, is called for every accepted pose.
	OnPose func(transform.Stamped)
}

// NewSource returns a source rejecting lookups older than maxAge.
func NewSource(maxAge time.Duration) *Source {
	return &Source{Latest: sampling.NewLatest(maxAge)}
}

// Run reads sentences from r until it fails or ctx is done. Lines that are not
// sentences, or do not parse, are skipped. Callers unblock a pending read by
// closing r.
func (s *Source) Run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	var rejected int
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}

		m, err := Parse(line)
		if err != nil {
			rejected++
			if rejected == 1 || rejected%100 == 0 {
				log.Printf("tracker: %d sentences rejected, last: %v", rejected, err)
			}
			continue
		}
		st, err := m.Stamped(s.now())
		if err != nil {
			log.Printf("tracker: %v", err)
			continue
		}

		s.Update(st)
		if s.OnPose != nil {
			s.OnPose(st)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("tracker read error: %w", err)
	}
	return io.EOF
}

func (s *Source) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
