package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLetterGradeIsPassing(t *testing.T) {
	passing := []LetterGrade{GradeA, GradeAMinus, GradeBPlus, GradeB, GradeBMinus, GradeCPlus, GradeC, GradeDPlus, GradeD}
	for _, g := range passing {
		assert.True(t, g.IsPassing(), "expected %s to pass", g)
	}

	for _, g := range []LetterGrade{GradeE, GradeF, GradeW} {
		assert.False(t, g.IsPassing(), "expected %s to fail", g)
	}
}
