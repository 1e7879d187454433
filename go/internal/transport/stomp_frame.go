package transport

import (
	"bytes"
	"errors"
	"io"

	"github.com/go-stomp/stomp/v3/frame"
)

// encodeFrame serializes f into the payload of one websocket message.
func encodeFrame(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeFrames parses every frame carried by one websocket message.
// Heart-beat EOLs yield no frames.
func decodeFrames(data []byte) ([]*frame.Frame, error) {
	r := frame.NewReader(bytes.NewReader(terminate(data)))
	var frames []*frame.Frame
	for {
		f, err := r.Read()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
}

// terminate restores the trailing NUL that some brokers strip inside a
// websocket message.
func terminate(data []byte) []byte {
	trimmed := bytes.TrimRight(data, "\r\n")
	if len(trimmed) == 0 || trimmed[len(trimmed)-1] == 0 {
		return data
	}
	out := make([]byte, len(trimmed)+1)
	copy(out, trimmed)
	return out
}

// headerMap flattens h, first occurrence wins.
func headerMap(h *frame.Header) map[string]string {
	if h == nil {
		return map[string]string{}
	}
	out := make(map[string]string, h.Len())
	for i := 0; i < h.Len(); i++ {
		k, v := h.GetAt(i)
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}
