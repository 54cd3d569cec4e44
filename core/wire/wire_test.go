// SPDX-FileCopyrightText: Copyright (C) 2017  David Anthony Stainton, Yawning Angel
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/communicator/core/crypto/kdf"
	"github.com/katzenpost/communicator/core/crypto/keys"
)

func testKeyIV(t *testing.T, seq uint32) ([kdf.KeySize]byte, [kdf.IVSize]byte) {
	var m keys.Master
	_, err := rand.Reader.Read(m[:])
	require.NoError(t, err)
	return kdf.KeyIV(&m, seq)
}

func TestSealOpen(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	key, iv := testKeyIV(t, 1)
	msg := []byte("The tiger springs in the new day.")
	pt := append([]byte{}, msg...)

	tag := Seal(&key, &iv, pt)
	require.False(bytes.Equal(msg, pt), "Seal() encrypts in place")

	out, err := Open(&key, &iv, &tag, pt)
	require.NoError(err)
	require.Equal(msg, out)

	for _, i := range []int{0, len(pt) / 2, len(pt) - 1} {
		tampered := append([]byte{}, pt...)
		tampered[i] ^= 0x80
		_, err = Open(&key, &iv, &tag, tampered)
		require.ErrorIs(err, ErrDecrypt, "ciphertext bit %d", i)
	}

	badTag := tag
	badTag[TagSize-1] ^= 0x01
	_, err = Open(&key, &iv, &badTag, pt)
	require.ErrorIs(err, ErrDecrypt)
}

func TestHeaders(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	kx := &InitialKX{Rekeying: true}
	kx.Ephemeral[0] = 0xaa
	kx.Tag[TagSize-1] = 0xbb
	b := kx.ToBytes()
	require.Len(b, InitialKXSize)
	require.Equal([]byte{0, 0, 0, 1}, b[InitialKXSize-4:], "rekeying flag is a big endian uint32")
	kx2, err := InitialKXFromBytes(b)
	require.NoError(err)
	require.Equal(kx, kx2)

	box := &Box{}
	box.KID[3] = 7
	b = box.ToBytes()
	require.Len(b, BoxHeaderSize)
	box2, err := BoxFromBytes(b)
	require.NoError(err)
	require.False(box2.Rekeying)
	kid, ok := PeekKID(b)
	require.True(ok)
	require.Equal(box.KID, kid)

	rk := &Rekey{}
	rk.Sender[31] = 9
	rk2, err := RekeyFromBytes(rk.ToBytes())
	require.NoError(err)
	require.Equal(rk, rk2)

	_, err = RekeyFromBytes(b)
	require.ErrorIs(err, ErrTruncated)
	_, err = ConfirmationFromBytes(b[:10])
	require.ErrorIs(err, ErrTruncated)

	conf := &Confirmation{MonotonicTime: 0x0102030405060708}
	b = conf.ToBytes()
	require.Len(b, ConfirmationSize)
	require.Equal([]byte{1, 2, 3, 4, 5, 6, 7, 8}, b[ConfirmationSize-8:])

	_, err = BroadcastFromBytes(make([]byte, BroadcastSize+1))
	require.ErrorIs(err, ErrTruncated)
}

func TestMessages(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	ack := &Ack{SequenceMax: 128, AcksAvailable: 127}
	ack.CMAC[0] = 0x42
	ackBytes := ack.ToBytes()
	require.Len(ackBytes, AckSize)

	pt := append([]byte{}, ackBytes...)
	pt, err := AppendData(pt, []byte("hello"))
	require.NoError(err)
	pt, err = Pad(pt, BoxHeaderSize, rand.Reader)
	require.NoError(err)
	require.Equal(256, BoxHeaderSize+len(pt))

	m, rest, ok := NextMessage(pt)
	require.True(ok)
	require.Equal(TypeAck, m.Type)
	ack2, err := AckFromBody(m.Body)
	require.NoError(err)
	require.Equal(ack, ack2)

	m, rest, ok = NextMessage(rest)
	require.True(ok)
	require.Equal(TypeData, m.Type)
	require.Equal([]byte("hello"), m.Body)

	m, _, ok = NextMessage(rest)
	require.True(ok)
	require.Equal(TypePad, m.Type)

	_, err = AckFromBytes(append([]byte{}, pt[AckSize:]...))
	require.ErrorIs(err, ErrInvalidMessage)

	_, _, ok = NextMessage([]byte{0, 2, 0, 0})
	require.False(ok, "size shorter than a header")
	_, _, ok = NextMessage([]byte{0, 9, 0, 0})
	require.False(ok, "size longer than the buffer")
}

func TestPadding(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	require.Equal(256, PaddedSize(1))
	require.Equal(512, PaddedSize(257))
	require.Equal(MaxDatagramSize, PaddedSize(1025))
	require.Equal(MaxDatagramSize+1, PaddedSize(MaxDatagramSize+1))

	// Less than a header of padding is raw noise.
	pt := make([]byte, 256-BoxHeaderSize-2)
	pt, err := Pad(pt, BoxHeaderSize, rand.Reader)
	require.NoError(err)
	require.Len(pt, 256-BoxHeaderSize)

	_, err = Pad(make([]byte, MaxDatagramSize), BoxHeaderSize, rand.Reader)
	require.Error(err)

	_, err = AppendData(nil, make([]byte, MaxDatagramSize))
	require.Error(err)
}

func TestSignedData(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	alice, err := keys.NewIdentity(rand.Reader)
	require.NoError(err)
	bob, err := keys.NewIdentity(rand.Reader)
	require.NoError(err)

	var eph [EphemeralSize]byte
	data := HandshakeSignedData(alice.PeerID(), bob.PeerID(), eph, 1)
	require.Len(data, 8+32+32+32+8)
	require.Equal([]byte{0, 0, 0, 112, 0, 0, 0, 31}, data[:8])

	sig := alice.Sign(data)
	id := alice.PeerID()
	require.True(id.Verify(sig, data))
	require.False(id.Verify(sig, HandshakeSignedData(alice.PeerID(), bob.PeerID(), eph, 2)))

	bdata := BroadcastSignedData(alice.PeerID(), "udp-192.0.2.1:2086")
	require.Len(bdata, 72)
	require.NotEqual(bdata, BroadcastSignedData(alice.PeerID(), "udp-192.0.2.2:2086"))
}
