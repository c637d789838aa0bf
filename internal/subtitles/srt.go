package subtitles

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/yang-kun-long/YanheKt-AI/internal/fileutil"
	"github.com/yang-kun-long/YanheKt-AI/internal/transcript"
)

// ErrNoParagraphs reports a transcript with nothing to caption.
var ErrNoParagraphs = errors.New("transcript has no paragraphs")

// Generate writes an SRT file for the transcript at asrPath and returns the
// number of cues. Nothing is written when the transcript is empty.
func Generate(asrPath, srtPath string) (int, error) {
	doc, err := transcript.LoadASR(asrPath)
	if err != nil {
		return 0, err
	}
	if len(doc.Transcription.Paragraphs) == 0 {
		return 0, ErrNoParagraphs
	}
	content, count := Render(doc.Sentences())
	if err := fileutil.WriteFileAtomic(srtPath, []byte(content), 0o644); err != nil {
		return 0, fmt.Errorf("write srt: %w", err)
	}
	return count, nil
}

// Render formats sentences as numbered SRT cues separated by blank lines.
func Render(sentences []transcript.Sentence) (string, int) {
	var sb strings.Builder
	for i, s := range sentences {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString("\n")
		sb.WriteString(formatTimestamp(s.Start))
		sb.WriteString(" --> ")
		sb.WriteString(formatTimestamp(s.End))
		sb.WriteString("\n")
		sb.WriteString(s.Text)
		sb.WriteString("\n")
	}
	return sb.String(), len(sentences)
}

func formatTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	hours := ms / 3_600_000
	ms %= 3_600_000
	minutes := ms / 60_000
	ms %= 60_000
	secs := ms / 1_000
	millis := ms % 1_000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}

func parseTimestamp(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	// Some writers use a period before the milliseconds.
	value = strings.ReplaceAll(value, ".", ",")
	timeParts := strings.Split(value, ",")
	if len(timeParts) != 2 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hms := strings.Split(timeParts[0], ":")
	if len(hms) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hours, errH := strconv.Atoi(hms[0])
	minutes, errM := strconv.Atoi(hms[1])
	seconds, errS := strconv.Atoi(hms[2])
	millis, errMS := strconv.Atoi(timeParts[1])
	if errH != nil || errM != nil || errS != nil || errMS != nil {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	return int64(hours*3600+minutes*60+seconds)*1000 + int64(millis), nil
}

// Validate checks an SRT file for format issues. An empty result means the
// file passed.
func Validate(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return []string{fmt.Sprintf("read_error: %v", err)}
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return []string{"empty_subtitle_file"}
	}

	var issues []string
	var previous int64 = -1
	for n, block := range strings.Split(content, "\n\n") {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 3 {
			issues = append(issues, fmt.Sprintf("cue_%d_incomplete", n+1))
			continue
		}
		parts := strings.Split(lines[1], "-->")
		if len(parts) != 2 {
			issues = append(issues, fmt.Sprintf("cue_%d_missing_timing", n+1))
			continue
		}
		start, errStart := parseTimestamp(parts[0])
		end, errEnd := parseTimestamp(parts[1])
		if errStart != nil || errEnd != nil {
			issues = append(issues, fmt.Sprintf("cue_%d_bad_timestamp", n+1))
			continue
		}
		if end < start {
			issues = append(issues, fmt.Sprintf("cue_%d_ends_before_start", n+1))
		}
		if start < previous {
			issues = append(issues, fmt.Sprintf("cue_%d_out_of_order", n+1))
		}
		previous = start
	}
	return issues
}
