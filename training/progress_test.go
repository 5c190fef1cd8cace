package training

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestProgressBar(t *testing.T) {
	t.Run("Render contains progress and sorted metrics", func(t *testing.T) {
		var buf bytes.Buffer
		pb := NewProgressBar("Epoch 1/8", 10)
		pb.SetOutput(&buf)

		pb.Update(5, map[string]float64{"loss": 1.234, "eval_accuracy": 0.875})

		out := buf.String()
		if !strings.Contains(out, "Epoch 1/8:") {
			t.Errorf("Expected description in output, got %q", out)
		}
		if !strings.Contains(out, " 50%") {
			t.Errorf("Expected percentage in output, got %q", out)
		}
		if !strings.Contains(out, "5/10") {
			t.Errorf("Expected step counter in output, got %q", out)
		}
		if !strings.Contains(out, "loss=1.234") {
			t.Errorf("Expected loss metric in output, got %q", out)
		}

		// Keys render in sorted order so successive lines align.
		accuracyAt := strings.Index(out, "eval_accuracy=")
		lossAt := strings.Index(out, "loss=")
		if accuracyAt < 0 || lossAt < 0 || accuracyAt > lossAt {
			t.Errorf("Expected eval_accuracy before loss, got %q", out)
		}
	})

	t.Run("Accuracy metrics render as percentages", func(t *testing.T) {
		var buf bytes.Buffer
		pb := NewProgressBar("Eval", 4)
		pb.SetOutput(&buf)

		pb.Update(2, map[string]float64{"eval_accuracy": 0.875})

		if !strings.Contains(buf.String(), "eval_accuracy=87.50%") {
			t.Errorf("Expected percentage formatting, got %q", buf.String())
		}
	})

	t.Run("Finish completes the bar", func(t *testing.T) {
		var buf bytes.Buffer
		pb := NewProgressBar("Epoch 1/1", 10)
		pb.SetOutput(&buf)

		pb.Update(3, nil)
		pb.Finish()

		out := buf.String()
		if !strings.Contains(out, "10/10") {
			t.Errorf("Expected completed counter, got %q", out)
		}
		if !strings.HasSuffix(out, "\n") {
			t.Error("Expected trailing newline after Finish")
		}
	})
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		duration time.Duration
		want     string
	}{
		{0, "00:00"},
		{65 * time.Second, "01:05"},
		{10 * time.Minute, "10:00"},
		{99*time.Minute + 59*time.Second, "99:59"},
	}

	for _, tc := range cases {
		if got := formatDuration(tc.duration); got != tc.want {
			t.Errorf("Expected %s for %v, got %s", tc.want, tc.duration, got)
		}
	}
}

func TestFormatParameterCount(t *testing.T) {
	cases := []struct {
		count int64
		want  string
	}{
		{512, "512"},
		{2048, "2.0K"},
		{1500000, "1.5M"},
		{109482240, "109.5M"},
	}

	for _, tc := range cases {
		if got := formatParameterCount(tc.count); got != tc.want {
			t.Errorf("Expected %s for %d, got %s", tc.want, tc.count, got)
		}
	}
}
