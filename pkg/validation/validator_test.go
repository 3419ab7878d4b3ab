package validation

import (
	"math"
	"strings"
	"testing"
)

type taggedMaterial struct {
	Mu         float64 `yaml:"mu" validate:"gt=0,finite"`
	Nu         float64 `yaml:"nu" validate:"gte=0,lt=0.5"`
	CoreRadius float64 `yaml:"core_radius" validate:"gt=0"`
}

type taggedRun struct {
	Material taggedMaterial `yaml:"material"`
	Law      string         `yaml:"law" validate:"required,oneof=linear fcc bcc"`
	Steps    int            `yaml:"steps" validate:"min=0"`
}

// TestStruct tests tag validation of run file sections
func TestStruct(t *testing.T) {
	valid := taggedRun{
		Material: taggedMaterial{Mu: 1, Nu: 0.3, CoreRadius: 1},
		Law:      "linear",
		Steps:    10,
	}

	tests := []struct {
		name        string
		modify      func(*taggedRun)
		expectError bool
		errorField  string
	}{
		{"Valid run", func(*taggedRun) {}, false, ""},
		{"Zero shear modulus", func(r *taggedRun) { r.Material.Mu = 0 }, true, "material.mu"},
		{"Infinite shear modulus", func(r *taggedRun) { r.Material.Mu = math.Inf(1) }, true, "material.mu"},
		{"Poisson ratio too large", func(r *taggedRun) { r.Material.Nu = 0.5 }, true, "material.nu"},
		{"Missing law", func(r *taggedRun) { r.Law = "" }, true, "law"},
		{"Unknown law", func(r *taggedRun) { r.Law = "hcp" }, true, "law"},
		{"Negative steps", func(r *taggedRun) { r.Steps = -1 }, true, "steps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := valid
			tt.modify(&run)
			err := Struct(&run)

			if tt.expectError && err == nil {
				t.Errorf("Expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
			if tt.expectError && err != nil && !strings.HasPrefix(err.Error(), tt.errorField+":") {
				t.Errorf("Expected error for field %q, got: %v", tt.errorField, err)
			}
		})
	}
}

func TestStruct_Nil(t *testing.T) {
	if err := Struct(nil); err == nil {
		t.Error("Expected error for nil value")
	}
}

func TestValidateWorkers(t *testing.T) {
	tests := []struct {
		name        string
		workers     int
		expectError bool
	}{
		{"Zero selects all CPUs", 0, false},
		{"Single worker", 1, false},
		{"Max workers", MaxWorkers, false},
		{"Negative", -1, true},
		{"Too many", MaxWorkers + 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWorkers(tt.workers)
			if tt.expectError && err == nil {
				t.Errorf("Expected error for %d workers", tt.workers)
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}
