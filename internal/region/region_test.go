package region

import (
	"errors"
	"image"
	"testing"
)

func TestRegion_IsValid(t *testing.T) {
	tests := []struct {
		name string
		r    Region
		want bool
	}{
		{name: "positive size", r: New(10, 10, 50, 50), want: true},
		{name: "zero width", r: New(0, 0, 0, 5), want: false},
		{name: "zero height", r: New(0, 0, 5, 0), want: false},
		{name: "negative width", r: New(0, 0, -1, 5), want: false},
		{name: "negative origin is still valid", r: New(-5, -5, 10, 10), want: true},
		{name: "zero value", r: Region{}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.IsValid(); got != tt.want {
				t.Errorf("IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegion_Validate(t *testing.T) {
	if err := New(0, 0, 20, 20).Validate(); err != nil {
		t.Errorf("Validate() on valid region = %v", err)
	}

	err := New(0, 0, 0, 5).Validate()
	if !errors.Is(err, ErrInvalidRegion) {
		t.Errorf("Validate() = %v, want ErrInvalidRegion", err)
	}
}

func TestRegion_RectRoundTrip(t *testing.T) {
	r := New(12, 10, 50, 40)

	rect := r.Rect()
	if rect != image.Rect(12, 10, 62, 50) {
		t.Errorf("Rect() = %v", rect)
	}

	if got := FromRect(rect); got != r {
		t.Errorf("FromRect(Rect()) = %v, want %v", got, r)
	}

	// Non-canonical rectangles are normalised
	if got := FromRect(image.Rectangle{Min: image.Pt(62, 50), Max: image.Pt(12, 10)}); got != r {
		t.Errorf("FromRect(swapped) = %v, want %v", got, r)
	}
}

func TestRegion_Clamp(t *testing.T) {
	frame := Bounds(640, 480)

	tests := []struct {
		name   string
		r      Region
		want   Region
		wantOK bool
	}{
		{name: "inside is unchanged", r: New(10, 10, 50, 50), want: New(10, 10, 50, 50), wantOK: true},
		{name: "overhanging left edge", r: New(-20, 10, 50, 50), want: New(0, 10, 30, 50), wantOK: true},
		{name: "overhanging bottom right", r: New(600, 450, 100, 100), want: New(600, 450, 40, 30), wantOK: true},
		{name: "fully outside", r: New(700, 10, 50, 50), want: Region{}, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.r.Clamp(frame)
			if ok != tt.wantOK {
				t.Fatalf("Clamp() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("Clamp() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegion_WithinAndIntersects(t *testing.T) {
	frame := Bounds(100, 100)

	if !New(0, 0, 100, 100).Within(frame) {
		t.Error("full-frame region should be within the frame")
	}
	if New(90, 90, 20, 20).Within(frame) {
		t.Error("overhanging region should not be within the frame")
	}
	if New(0, 0, 0, 5).Within(frame) {
		t.Error("invalid region should never be within the frame")
	}

	if !New(0, 0, 10, 10).Intersects(New(5, 5, 10, 10)) {
		t.Error("overlapping regions should intersect")
	}
	if New(0, 0, 10, 10).Intersects(New(10, 0, 10, 10)) {
		t.Error("touching regions should not intersect")
	}
}

func TestRegion_Area(t *testing.T) {
	if got := New(0, 0, 20, 30).Area(); got != 600 {
		t.Errorf("Area() = %d, want 600", got)
	}
	if got := New(0, 0, -20, 30).Area(); got != 0 {
		t.Errorf("Area() of invalid region = %d, want 0", got)
	}
}
