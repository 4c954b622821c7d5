package webserver

import (
	"net/http/httptest"
	"testing"
)

func TestTermSizeFromQuery(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws/terminal/x?cols=120&rows=40", nil)
	cols, rows := termSizeFromQuery(r)
	if cols != 120 || rows != 40 {
		t.Errorf("size = %dx%d, want 120x40", cols, rows)
	}

	r = httptest.NewRequest("GET", "/ws/terminal/x", nil)
	cols, rows = termSizeFromQuery(r)
	if cols != 80 || rows != 24 {
		t.Errorf("default size = %dx%d, want 80x24", cols, rows)
	}

	r = httptest.NewRequest("GET", "/ws/terminal/x?cols=-3&rows=junk", nil)
	cols, rows = termSizeFromQuery(r)
	if cols != 80 || rows != 24 {
		t.Errorf("bad params size = %dx%d, want defaults", cols, rows)
	}
}

func TestClampWinDim(t *testing.T) {
	if clampWinDim(0) != 1 {
		t.Error("zero should clamp to 1")
	}
	if clampWinDim(1<<20) != 0xffff {
		t.Error("huge value should clamp to uint16 max")
	}
	if clampWinDim(132) != 132 {
		t.Error("in-range value should pass through")
	}
}
