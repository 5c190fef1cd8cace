package training

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
)

// ProgressBar provides PyTorch-style training progress visualization
type ProgressBar struct {
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	showRate    bool
	showETA     bool
	metrics     map[string]float64
	out         io.Writer
}

// NewProgressBar creates a new progress bar
func NewProgressBar(description string, total int) *ProgressBar {
	return &ProgressBar{
		description: description,
		total:       total,
		current:     0,
		startTime:   time.Now(),
		width:       70, // Character width of progress bar
		showRate:    true,
		showETA:     true,
		metrics:     make(map[string]float64),
		out:         os.Stdout,
	}
}

// SetOutput redirects the rendered bar, mainly for tests.
func (pb *ProgressBar) SetOutput(out io.Writer) {
	pb.out = out
}

// Update advances the progress bar
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	pb.metrics = metrics
	pb.render()
}

// UpdateMetrics updates metrics without advancing progress
func (pb *ProgressBar) UpdateMetrics(metrics map[string]float64) {
	for k, v := range metrics {
		pb.metrics[k] = v
	}
	pb.render()
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Fprintln(pb.out) // New line after completion
}

// render draws the progress bar
func (pb *ProgressBar) render() {
	// Calculate progress percentage
	percentage := float64(pb.current) / float64(pb.total)
	if percentage > 1.0 {
		percentage = 1.0
	}

	// Calculate filled width
	filled := int(percentage * float64(pb.width))
	if filled > pb.width {
		filled = pb.width
	}

	// Build progress bar string
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	// Calculate timing information
	elapsed := time.Since(pb.startTime)
	var eta time.Duration
	var rate float64

	if pb.current > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		if percentage > 0 {
			totalTime := time.Duration(float64(elapsed) / percentage)
			eta = totalTime - elapsed
		}
	}

	// Format the progress line
	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d",
		pb.description,
		percentage*100,
		bar,
		pb.current,
		pb.total,
	)

	// Add timing information
	if pb.showETA && eta > 0 {
		line += fmt.Sprintf(" [%s<%s",
			formatDuration(elapsed),
			formatDuration(eta),
		)
	} else {
		line += fmt.Sprintf(" [%s<00:00",
			formatDuration(elapsed),
		)
	}

	// Add rate information
	if pb.showRate && rate > 0 {
		line += fmt.Sprintf(", %.2fbatch/s", rate)
	}

	// Add metrics in sorted key order so the line is stable across renders
	keys := make([]string, 0, len(pb.metrics))
	for key := range pb.metrics {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := pb.metrics[key]
		if strings.Contains(key, "accuracy") || strings.Contains(key, "acc") {
			line += fmt.Sprintf(", %s=%.2f%%", key, value*100)
		} else {
			line += fmt.Sprintf(", %s=%.3f", key, value)
		}
	}

	line += "]"

	// Print the line (carriage return overwrites previous line)
	fmt.Fprint(pb.out, line)
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// formatParameterCount formats parameter count with K/M suffixes
func formatParameterCount(count int64) string {
	if count >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(count)/1000000.0)
	} else if count >= 1000 {
		return fmt.Sprintf("%.1fK", float64(count)/1000.0)
	}
	return fmt.Sprintf("%d", count)
}
