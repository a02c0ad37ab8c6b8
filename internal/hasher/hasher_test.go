package hasher

import (
	"encoding/hex"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"

	"verdictd/internal/model"
)

var fixedTS = time.Unix(1_700_000_000, 0)

func legacyKeccak(b []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(b)
	return h.Sum(nil)
}

func TestKeccakEmptyVector(t *testing.T) {
	assert.Equal(t,
		"c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
		hex.EncodeToString(legacyKeccak(nil)))
}

func TestEncodeLayout(t *testing.T) {
	enc := Encode("post-1", model.VerdictFalse, 99, fixedTS)

	require.Len(t, enc, len("post-1")+len("FALSE")+64)
	assert.Equal(t, "post-1FALSE", string(enc[:11]))

	conf := enc[11:43]
	for _, b := range conf[:31] {
		assert.Zero(t, b)
	}
	assert.Equal(t, byte(99), conf[31])

	ts := enc[43:75]
	// 1_700_000_000 = 0x6553F100
	assert.Equal(t, []byte{0x65, 0x53, 0xf1, 0x00}, ts[28:])
	for _, b := range ts[:28] {
		assert.Zero(t, b)
	}
}

func TestHashMatchesIndependentKeccak(t *testing.T) {
	manual := append([]byte("claim-42"), []byte("TRUE")...)
	word := make([]byte, 32)
	word[31] = 91
	manual = append(manual, word...)
	ts := make([]byte, 32)
	copy(ts[28:], []byte{0x65, 0x53, 0xf1, 0x00})
	manual = append(manual, ts...)

	got := Hash("claim-42", model.VerdictTrue, 91, fixedTS)
	assert.Equal(t, legacyKeccak(manual), got.Bytes())
}

func TestHashDeterministic(t *testing.T) {
	a := HashHex("x", model.VerdictUnverifiable, 55, fixedTS)
	b := HashHex("x", model.VerdictUnverifiable, 55, fixedTS)
	assert.Equal(t, a, b)
	assert.Len(t, a, 66)
}

func TestHashRoundsConfidence(t *testing.T) {
	assert.Equal(t,
		Hash("c", model.VerdictTrue, 87.6, fixedTS),
		Hash("c", model.VerdictTrue, 88, fixedTS))
	assert.Equal(t,
		Hash("c", model.VerdictTrue, 87.5, fixedTS),
		Hash("c", model.VerdictTrue, 88, fixedTS))
	assert.NotEqual(t,
		Hash("c", model.VerdictTrue, 87.4, fixedTS),
		Hash("c", model.VerdictTrue, 88, fixedTS))
}

func TestHashSensitiveToEveryField(t *testing.T) {
	base := Hash("c", model.VerdictTrue, 90, fixedTS)
	assert.NotEqual(t, base, Hash("d", model.VerdictTrue, 90, fixedTS))
	assert.NotEqual(t, base, Hash("c", model.VerdictFalse, 90, fixedTS))
	assert.NotEqual(t, base, Hash("c", model.VerdictTrue, 91, fixedTS))
	assert.NotEqual(t, base, Hash("c", model.VerdictTrue, 90, fixedTS.Add(time.Second)))
}

func TestHashIgnoresSubSecondTime(t *testing.T) {
	assert.Equal(t,
		Hash("c", model.VerdictTrue, 90, fixedTS),
		Hash("c", model.VerdictTrue, 90, fixedTS.Add(999*time.Millisecond)))
}

func TestRoundConfidenceEdges(t *testing.T) {
	assert.Equal(t, uint64(0), RoundConfidence(-3))
	assert.Equal(t, uint64(0), RoundConfidence(math.NaN()))
	assert.Equal(t, uint64(99), RoundConfidence(98.5))
	assert.Equal(t, uint64(98), RoundConfidence(98.49))
}
