package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tokens := Tokenize("G1 X12.5 Y-3 M6")
	assert.Equal(t, []Token{"G1", "X12.5", "Y-3", "M6"}, tokens)
}

func TestHasMotionHold(t *testing.T) {
	assert.True(t, HasMotionHold(Tokenize("M0")))
	assert.True(t, HasMotionHold(Tokenize("G1 X1 M1")))
	assert.False(t, HasMotionHold(Tokenize("G1 X1 M6")))
}

func TestHasToolChange(t *testing.T) {
	assert.True(t, HasToolChange(Tokenize("T2 M6")))
	assert.False(t, HasToolChange(Tokenize("G1 X1")))
}

func TestStripComment(t *testing.T) {
	assert.Equal(t, "G1 X1", StripComment("G1 X1 ; move over"))
	assert.Equal(t, "G1 X1", StripComment("  G1 X1  "))
	assert.Equal(t, "", StripComment("; just a comment"))
}
