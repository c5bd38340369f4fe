// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"encoding/binary"
	"slices"

	"golang.org/x/crypto/blake2b"
)

// DeterministicShuffle returns a permutation of list seeded by
// publicKey. The same key always yields the same order; the input is
// not modified.
//
// The permutation is a Fisher-Yates shuffle whose random indices come
// from blake2b-256(publicKey || counter), four bytes per draw.
func DeterministicShuffle(list []string, publicKey []byte) []string {
	shuffled := slices.Clone(list)
	stream := &hashStream{seed: publicKey}
	for i := len(shuffled) - 1; i > 0; i-- {
		j := int(stream.next() % uint32(i+1))
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled
}

type hashStream struct {
	seed    []byte
	counter uint64
	block   [32]byte
	offset  int
}

func (s *hashStream) next() uint32 {
	if s.counter == 0 || s.offset+4 > len(s.block) {
		input := make([]byte, len(s.seed)+8)
		copy(input, s.seed)
		binary.BigEndian.PutUint64(input[len(s.seed):], s.counter)
		s.block = blake2b.Sum256(input)
		s.counter++
		s.offset = 0
	}
	value := binary.BigEndian.Uint32(s.block[s.offset:])
	s.offset += 4
	return value
}
