package recorder

import (
	"bytes"
	"time"
)

// Chunk is one encoded fragment, numbered in arrival order.
type Chunk struct {
	Seq       int
	Data      []byte
	CreatedAt time.Time
}

func (c Chunk) Size() int {
	return len(c.Data)
}

// Artifact is the finished recording.
type Artifact struct {
	Data      []byte
	MimeType  string
	Extension string
	Chunks    int
}

func (a *Artifact) Size() int64 {
	return int64(len(a.Data))
}

func (a *Artifact) Reader() *bytes.Reader {
	return bytes.NewReader(a.Data)
}

// Assemble concatenates chunks in order. An empty result is ErrNoDataCaptured.
func Assemble(chunks []Chunk, format Format) (*Artifact, error) {
	total := 0
	for _, c := range chunks {
		total += c.Size()
	}

	if len(chunks) == 0 || total == 0 {
		return nil, ErrNoDataCaptured
	}

	data := make([]byte, 0, total)
	for _, c := range chunks {
		data = append(data, c.Data...)
	}

	return &Artifact{
		Data:      data,
		MimeType:  format.MimeType,
		Extension: format.Extension,
		Chunks:    len(chunks),
	}, nil
}
