// SPDX-License-Identifier: GPL-2.0
/*
 * Copyright (c) 2023 Oracle and/or its affiliates.
 * Copyright (c) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * tlsconntest-go is free software; you can redistribute it and/or
 * modify it under the terms of the GNU General Public License as
 * published by the Free Software Foundation; version 2.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU
 * General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program; if not, write to the Free Software
 * Foundation, Inc., 51 Franklin Street, Fifth Floor, Boston, MA
 * 02110-1301, USA.
 */

// Package keyring loads and stores certificate material in the Linux kernel
// keyring.
package keyring

import (
	"encoding/pem"
	"fmt"

	"github.com/dpeckett/keyutils"
	"github.com/dpeckett/tlsconntest-go/credentials"
)

// KeySerial is a unique identifier for a key in the kernel keyring.
type KeySerial int32

// GetCertificate returns the PEM encoded X.509 certificate stored under the
// given serial number.
func GetCertificate(serial KeySerial) ([]byte, error) {
	return getPEM(serial, "CERTIFICATE")
}

// GetPrivateKey returns the PEM encoded PKCS#8 private key stored under the
// given serial number.
func GetPrivateKey(serial KeySerial) ([]byte, error) {
	return getPEM(serial, "PRIVATE KEY")
}

// LoadBundle loads an identity from a certificate and a private key stored
// in the keyring.
func LoadBundle(certSerial, keySerial KeySerial) (*credentials.Bundle, error) {
	certPEM, err := GetCertificate(certSerial)
	if err != nil {
		return nil, fmt.Errorf("failed to get certificate: %w", err)
	}

	keyPEM, err := GetPrivateKey(keySerial)
	if err != nil {
		return nil, fmt.Errorf("failed to get private key: %w", err)
	}

	return credentials.LoadPEM(certPEM, keyPEM)
}

// Store adds a DER encoded blob to the user keyring as a user key.
func Store(description string, der []byte) (KeySerial, error) {
	keyring, err := keyutils.UserKeyring()
	if err != nil {
		return 0, fmt.Errorf("failed to get user keyring: %w", err)
	}

	key, err := keyring.AddType(description, "user", der)
	if err != nil {
		return 0, fmt.Errorf("failed to add key: %w", err)
	}

	return KeySerial(key.Id()), nil
}

func getPEM(serial KeySerial, blockType string) ([]byte, error) {
	key := keyutils.GetKey(int32(serial))

	der, err := key.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to get key value: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{
		Type:  blockType,
		Bytes: der,
	}), nil
}
