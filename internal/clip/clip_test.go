package clip

import (
	"testing"
	"time"
)

func TestComputeID_IsStable(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 14, 15, 9, 26, 535_897_000, time.UTC)

	a := ComputeID("m1", "c1", "clip.mp4", ts)
	b := ComputeID("m1", "c1", "clip.mp4", ts)
	if a != b {
		t.Errorf("ComputeID not deterministic: %q vs %q", a, b)
	}
	if len(a) != 32 {
		t.Errorf("ComputeID length = %d, want 32 hex chars", len(a))
	}
}

func TestComputeID_SensitiveToEveryField(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	base := ComputeID("m1", "c1", "clip.mp4", ts)

	variants := []string{
		ComputeID("m2", "c1", "clip.mp4", ts),
		ComputeID("m1", "c2", "clip.mp4", ts),
		ComputeID("m1", "c1", "other.mp4", ts),
		ComputeID("m1", "c1", "clip.mp4", ts.Add(time.Second)),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d collided with base fingerprint", i)
		}
	}
}

func TestComputeID_UsesISOTimestampNotEpoch(t *testing.T) {
	t.Parallel()

	// Two instants one nanosecond apart share the same microsecond rendering,
	// so their fingerprints must match; the same instants rendered as epoch
	// seconds would also match, but a full second apart must differ.
	ts := time.Date(2026, 3, 14, 15, 9, 26, 1000, time.UTC)
	if ComputeID("m", "c", "f", ts) != ComputeID("m", "c", "f", ts.Add(time.Nanosecond)) {
		t.Error("sub-microsecond difference changed the fingerprint")
	}
}

func TestComputeID_KnownFingerprints(t *testing.T) {
	t.Parallel()

	// Golden values computed with the ISO-8601 rendering stored clips were
	// fingerprinted under: six fractional digits when microseconds are
	// nonzero, no fraction at all when they are zero.
	tests := []struct {
		name string
		ts   time.Time
		want string
	}{
		{
			"trailing zero microseconds kept",
			time.Date(2023, 1, 1, 12, 34, 56, 789_000_000, time.UTC),
			"ad2d213272c16e12b050d357f0481082",
		},
		{
			"zero microseconds omit the fraction",
			time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC),
			"9cc4fb9979bc1a2fc2a7bbb69047f8b0",
		},
		{
			"full microsecond precision",
			time.Date(2026, 3, 14, 15, 9, 26, 535_897_000, time.UTC),
			"ec6b821863f6bc45ba378c85f0abd04d",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ComputeID("m1", "c1", "clip.mp4", tt.ts); got != tt.want {
				t.Errorf("ComputeID() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestExtractCDNExpiry_HexParameter(t *testing.T) {
	t.Parallel()

	// 0x65a0c800 = 1705035776
	u := "https://cdn.example.com/attachments/1/2/clip.mp4?ex=65a0c800&is=abc&hm=def"
	got := ExtractCDNExpiry(u, time.Now())
	want := time.Unix(0x65a0c800, 0).UTC()
	if !got.Equal(want) {
		t.Errorf("ExtractCDNExpiry() = %v, want %v", got, want)
	}
}

func TestExtractCDNExpiry_Fallbacks(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	want := now.Add(DefaultCDNTTL)

	tests := []struct {
		name string
		url  string
	}{
		{"no parameter", "https://cdn.example.com/clip.mp4"},
		{"non-hex parameter", "https://cdn.example.com/clip.mp4?ex=zzzz"},
		{"unparsable url", "://bad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ExtractCDNExpiry(tt.url, now); !got.Equal(want) {
				t.Errorf("ExtractCDNExpiry() = %v, want %v", got, want)
			}
		})
	}
}
