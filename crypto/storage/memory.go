// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package storage provides KeyStorage implementations for KeyPair
// values the AID registry doesn't already persist as PEM files
// (spec.md §6.2 covers the P-384 identity key/cert; this covers
// consumer-held Ed25519/Secp256k1 keys from crypto/keys.GenerateKeyPair).
package storage

import (
	"sort"
	"sync"

	acpcrypto "github.com/acp-sdk/acp-core/crypto"
)

// memoryKeyStorage implements KeyStorage using an in-memory map. The
// passphrase parameter is accepted for interface parity with the
// on-disk identity key store but unused here; callers that need
// at-rest encryption should use crypto/vault directly.
type memoryKeyStorage struct {
	keys map[string]acpcrypto.KeyPair
	mu   sync.RWMutex
}

// NewMemoryKeyStorage creates a new in-memory key storage.
func NewMemoryKeyStorage() acpcrypto.KeyStorage {
	return &memoryKeyStorage{keys: make(map[string]acpcrypto.KeyPair)}
}

func (s *memoryKeyStorage) Store(id string, keyPair acpcrypto.KeyPair, passphrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[id]; exists {
		return acpcrypto.ErrKeyExists
	}
	s.keys[id] = keyPair
	return nil
}

func (s *memoryKeyStorage) Load(id string, passphrase string) (acpcrypto.KeyPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kp, exists := s.keys[id]
	if !exists {
		return nil, acpcrypto.ErrKeyNotFound
	}
	return kp, nil
}

func (s *memoryKeyStorage) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[id]; !exists {
		return acpcrypto.ErrKeyNotFound
	}
	delete(s.keys, id)
	return nil
}

func (s *memoryKeyStorage) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.keys))
	for id := range s.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memoryKeyStorage) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.keys[id]
	return exists
}
