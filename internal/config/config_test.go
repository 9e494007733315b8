package config

import (
	"testing"
	"time"
)

func TestDefaultPassesValidate(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("default config should validate clean: %v", err)
	}
}

func TestValidateDegradesOnBadLevel(t *testing.T) {
	c := Default()
	c.ZstdLevel = 99
	err := c.Validate()
	if err == nil {
		t.Fatal("expected an error for out-of-range zstd level")
	}
	if c.EnableComp || c.EnableDict {
		t.Error("Validate should disable compression and dict use in place on failure")
	}
}

func TestValidateRejectsInvertedSizeWindow(t *testing.T) {
	c := Default()
	c.MinCompSize = 100
	c.MaxCompSize = 10
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error when max_comp_size < min_comp_size")
	}
}

func TestFromMapOverlaysDefaults(t *testing.T) {
	c, err := FromMap(map[string]string{
		"zstd_level":    "9",
		"dict_size":     "128K",
		"enable_dict":   "false",
		"sample_p":      "0.5",
		"min_comp_size": "64",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ZstdLevel != 9 {
		t.Errorf("zstd_level = %d, want 9", c.ZstdLevel)
	}
	if c.DictSize != 128*1024 {
		t.Errorf("dict_size = %d, want %d", c.DictSize, 128*1024)
	}
	if c.EnableDict {
		t.Error("enable_dict should be false")
	}
	if c.SampleP != 0.5 {
		t.Errorf("sample_p = %v, want 0.5", c.SampleP)
	}
}

func TestFromMapIgnoresUnknownKeys(t *testing.T) {
	c, err := FromMap(map[string]string{"slab_allocator_size": "4096"})
	if err != nil {
		t.Fatalf("unknown keys should be ignored, not error: %v", err)
	}
	if c.ZstdLevel != Default().ZstdLevel {
		t.Error("unknown key should not disturb other defaults")
	}
}

func TestFromMapPropagatesParseErrors(t *testing.T) {
	if _, err := FromMap(map[string]string{"zstd_level": "not-a-number"}); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestParseSizeSuffixes(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"512", 512},
		{"4K", 4 * 1024},
		{"2M", 2 * 1024 * 1024},
		{"1G", 1024 * 1024 * 1024},
	}
	for _, tc := range cases {
		got, err := ParseSize(tc.in)
		if err != nil {
			t.Errorf("ParseSize(%q) unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseDurationSuffixes(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"30", 30 * time.Second},
		{"45s", 45 * time.Second},
		{"10m", 10 * time.Minute},
		{"2h", 2 * time.Hour},
	}
	for _, tc := range cases {
		got, err := ParseDuration(tc.in)
		if err != nil {
			t.Errorf("ParseDuration(%q) unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseTrainMode(t *testing.T) {
	if m, err := ParseTrainMode(""); err != nil || m != TrainFast {
		t.Errorf("empty string should default to fast, got %v, err=%v", m, err)
	}
	if m, err := ParseTrainMode("Optimize"); err != nil || m != TrainOptimize {
		t.Errorf("case-insensitive optimize failed: %v, err=%v", m, err)
	}
	if _, err := ParseTrainMode("bogus"); err == nil {
		t.Error("expected an error for an unknown train mode")
	}
}
