package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ASRDocument is the transcript result document.
type ASRDocument struct {
	Transcription struct {
		Paragraphs []Paragraph `json:"Paragraphs"`
	} `json:"Transcription"`
}

// Paragraph is one speaker turn.
type Paragraph struct {
	ParagraphID Label  `json:"ParagraphId"`
	SpeakerID   Label  `json:"SpeakerId"`
	Words       []Word `json:"Words"`
}

// Word is a timed token. Start and End are milliseconds.
type Word struct {
	SentenceID *int64 `json:"SentenceId"`
	Start      int64  `json:"Start"`
	End        int64  `json:"End"`
	Text       string `json:"Text"`
}

// PPTDocument is the slide extraction result document.
type PPTDocument struct {
	PptExtraction struct {
		KeyFrameList []KeyFrame `json:"KeyFrameList"`
		PdfPath      string     `json:"PdfPath"`
	} `json:"PptExtraction"`
}

// KeyFrame is one extracted slide.
type KeyFrame struct {
	ID      Label  `json:"Id"`
	Start   int64  `json:"Start"`
	End     int64  `json:"End"`
	FileURL string `json:"FileUrl"`
	Summary string `json:"Summary"`
}

// Sentence is a run of consecutive words sharing a sentence id.
type Sentence struct {
	Speaker string
	Text    string
	Start   int64
	End     int64
}

// Label accepts a JSON string or number.
type Label string

// UnmarshalJSON implements json.Unmarshaler.
func (l *Label) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = Label(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("label: %w", err)
	}
	*l = Label(n.String())
	return nil
}

// LoadASR reads a transcript document from path.
func LoadASR(path string) (*ASRDocument, error) {
	var doc ASRDocument
	if err := load(path, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadPPT reads a slide extraction document from path.
func LoadPPT(path string) (*PPTDocument, error) {
	var doc PPTDocument
	if err := load(path, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// PDFURL returns the slide deck URL referenced by the extraction at path, or
// "" when the file is missing or carries none.
func PDFURL(path string) string {
	doc, err := LoadPPT(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.PptExtraction.PdfPath)
}

func load(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Sentences groups each paragraph's words into sentences in document order.
// A sentence spans from its first word's Start to its last word's End.
func (d *ASRDocument) Sentences() []Sentence {
	if d == nil {
		return nil
	}
	var out []Sentence
	for _, para := range d.Transcription.Paragraphs {
		speaker := string(para.SpeakerID)
		if speaker == "" {
			speaker = "0"
		}
		var (
			current Sentence
			text    strings.Builder
			id      *int64
			open    bool
		)
		flush := func() {
			if !open {
				return
			}
			current.Text = text.String()
			out = append(out, current)
			text.Reset()
		}
		for _, word := range para.Words {
			if !open || !sameSentence(id, word.SentenceID) {
				flush()
				current = Sentence{Speaker: speaker, Start: word.Start, End: word.End}
				id = word.SentenceID
				open = true
			} else {
				current.End = word.End
			}
			text.WriteString(word.Text)
		}
		flush()
	}
	return out
}

func sameSentence(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// String renders a label for metadata.
func (l Label) String() string { return string(l) }

// Int returns the label as an integer when it is numeric.
func (l Label) Int() (int64, bool) {
	n, err := strconv.ParseInt(string(l), 10, 64)
	return n, err == nil
}
