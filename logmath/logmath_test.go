package logmath

import (
	"math"
	"testing"
)

func TestLogPlusZero(t *testing.T) {
	for _, a := range []float64{-3.5, 0, 2, LogZero} {
		if got := LogPlus(a, LogZero); got != a {
			t.Errorf("LogPlus(%v, LogZero) = %v, want %v", a, got, a)
		}
		if got := LogPlus(LogZero, a); got != a {
			t.Errorf("LogPlus(LogZero, %v) = %v, want %v", a, got, a)
		}
	}
}

func TestLogPlusCommutative(t *testing.T) {
	pairs := [][2]float64{{-1, -2}, {0, -40}, {-700, -699}, {3, 3}}
	for _, p := range pairs {
		a, b := LogPlus(p[0], p[1]), LogPlus(p[1], p[0])
		if a != b {
			t.Errorf("LogPlus(%v, %v) = %v, reversed = %v", p[0], p[1], a, b)
		}
	}
}

func TestLogPlusValue(t *testing.T) {
	got := LogPlus(math.Log(0.25), math.Log(0.5))
	if math.Abs(got-math.Log(0.75)) > 1e-12 {
		t.Errorf("LogPlus = %v, want %v", got, math.Log(0.75))
	}
}

func TestLogPlusCutoff(t *testing.T) {
	if got := LogPlus(0, -38); got != 0 {
		t.Errorf("LogPlus(0, -38) = %v, want 0", got)
	}
	if got := LogPlus(0, -36); got == 0 {
		t.Error("LogPlus(0, -36) should not be truncated")
	}
}

func TestLogSum(t *testing.T) {
	if got := LogSum(nil); !IsZero(got) {
		t.Errorf("LogSum(nil) = %v, want LogZero", got)
	}
	xs := []float64{math.Log(0.1), math.Log(0.2), math.Log(0.3)}
	if got := LogSum(xs); math.Abs(got-math.Log(0.6)) > 1e-12 {
		t.Errorf("LogSum = %v, want %v", got, math.Log(0.6))
	}
}

func TestExpLog(t *testing.T) {
	if Exp(LogZero) != 0 {
		t.Error("Exp(LogZero) should be 0")
	}
	if !IsZero(Log(0)) {
		t.Error("Log(0) should be LogZero")
	}
	if math.Abs(Exp(Log(0.3))-0.3) > 1e-15 {
		t.Error("Exp(Log(0.3)) should round-trip")
	}
}
